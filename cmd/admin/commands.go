package admin

import (
	"fmt"

	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/spf13/cobra"
)

var (
	// ConnectCmd asks a port to add an output
	ConnectCmd = &cobra.Command{
		Use:   "connect [src] [dest] [carrier]",
		Short: "Connect the port src to dest",
		Long:  `Ask the port src to add an output to dest. The connection is made by src itself, so dest must be reachable from there.`,
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			carrier := ""
			if len(args) == 3 {
				carrier = args[2]
			}
			if _, err := send(args[0], common.NewAddRequest(args[1], carrier)); err != nil {
				return err
			}
			fmt.Printf("connected %s to %s\n", args[0], args[1])
			return nil
		},
	}

	// DisconnectCmd asks a port to remove its outputs to a destination
	DisconnectCmd = &cobra.Command{
		Use:   "disconnect [src] [dest]",
		Short: "Disconnect the port src from dest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := send(args[0], common.NewDelRequest(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("removed %d connection(s) from %s to %s\n", reply.Get(1).AsInt32(), args[0], args[1])
			return nil
		},
	}

	// ListCmd prints the connections of a port
	ListCmd = &cobra.Command{
		Use:   "list [name]",
		Short: "List the connections of a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := send(args[0], common.NewListRequest())
			if err != nil {
				return err
			}
			fmt.Println(renderUnits(reply))
			return nil
		},
	}
)
