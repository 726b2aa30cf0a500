package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dPort/cmd/admin"
	"github.com/ValentinKolb/dPort/cmd/stream"
	"github.com/ValentinKolb/dPort/cmd/serve"
	"github.com/ValentinKolb/dPort/cmd/util"
	"github.com/ValentinKolb/dPort/rpc/carrier"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dport",
		Short: "named ports connected over pluggable carriers",
		Long: fmt.Sprintf(`dPort (v%s)

Named ports that read from any number of inputs and broadcast to any
number of outputs. Connections negotiate their carrier (tcp, fast_tcp,
text, text_ack) and optional compressing delegates (zstd, snappy) in
the first bytes of the stream.

Ports are addressed by name (see --names) or by contact string such as
tcp://127.0.0.1:10002.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dPort",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dPort v%s (protocol %d.%d.%d, carriers: %s)\n", Version,
				common.VersionMajor, common.VersionMinor, common.VersionPatch,
				strings.Join(carrier.Default().Names(), ", "))
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(stream.ReadCmd)
	RootCmd.AddCommand(stream.WriteCmd)
	RootCmd.AddCommand(stream.RPCCmd)
	RootCmd.AddCommand(admin.ConnectCmd)
	RootCmd.AddCommand(admin.DisconnectCmd)
	RootCmd.AddCommand(admin.ListCmd)
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupGlobalFlags(RootCmd)
}

// setup binds the flags of the command that runs to viper and configures logging
func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	config := common.DefaultPortConfig("")
	config.LogLevel = viper.GetString("log-level")
	return common.InitLoggers(config)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
