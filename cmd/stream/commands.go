package stream

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ValentinKolb/dPort/cmd/util"
	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// ReadCmd prints everything arriving at a port
	ReadCmd = &cobra.Command{
		Use:   "read [name]",
		Short: "Open a port and print every message it receives",
		Long: `Open a port and print every message it receives as one line of text.
rpc messages are answered with an empty message, or with the message itself if --reply is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			p, err := openPort(args[0], true)
			if err != nil {
				return err
			}
			defer p.Close()

			echo := viper.GetBool("reply")
			envelope := viper.GetBool("envelope")
			for {
				m, err := p.Read(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				if envelope {
					fmt.Printf("%s %s\n", m.Route, m.Content)
				} else {
					fmt.Println(m.Content)
				}
				if !m.WantsReply() {
					continue
				}
				reply := bottle.New()
				if echo {
					reply = m.Content
				}
				if err := m.Reply(reply); err != nil {
					return err
				}
			}
		},
	}

	// WriteCmd sends every line of stdin
	WriteCmd = &cobra.Command{
		Use:   "write [name] [dest...]",
		Short: "Open a port, connect it to dest and send every line of stdin",
		Long: `Open a port, connect it to every dest and send each line of stdin as one message.
Lines are parsed as bottle text, e.g. 1 2.5 "hello" [vocab] (nested list).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			p, err := openPort(args[0], true)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := connectOutputs(ctx, p, args[1:]); err != nil {
				return err
			}

			err = util.ReadBottles(os.Stdin, func(b *bottle.Bottle) error {
				if !p.Write(b) {
					_, _ = fmt.Fprintln(os.Stderr, "no output connected, message dropped")
				}
				return ctx.Err()
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			drainCtx, cancel := util.WithTimeout(ctx)
			defer cancel()
			return drain(drainCtx, p)
		},
	}

	// RPCCmd sends every line of stdin as rpc and prints the replies
	RPCCmd = &cobra.Command{
		Use:   "rpc [dest]",
		Short: "Send every line of stdin to dest and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			p, err := openPort(util.AnonymousName("rpc"), false)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := connectOutputs(ctx, p, args); err != nil {
				return err
			}

			return util.ReadBottles(os.Stdin, func(b *bottle.Bottle) error {
				rpcCtx, cancel := util.WithTimeout(ctx)
				defer cancel()
				reply, err := p.WriteRPC(rpcCtx, b)
				if err != nil {
					return err
				}
				fmt.Println(reply)
				return nil
			})
		},
	}
)
