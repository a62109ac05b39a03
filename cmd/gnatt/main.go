// Command gnatt runs the MQTT-SN gateway. A config file is mandatory;
// startup fails loudly if one isn't given.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/gnatt-io/gnatt/internal/gateway"
	"github.com/gnatt-io/gnatt/internal/gwconfig"
	"github.com/gnatt-io/gnatt/internal/gwlog"
	"github.com/gnatt-io/gnatt/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gnatt",
		Short: "gnatt is an MQTT-SN v1.2 gateway",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("gnatt run: -c <file> must be specified")
			}
			return runGateway(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file")
	return cmd
}

func runGateway(ctx context.Context, configFile string) error {
	cfg, err := gwconfig.Load(configFile)
	if err != nil {
		return err
	}
	if err := gwlog.Init(cfg.LogLevel); err != nil {
		return err
	}
	defer gwlog.Sync()

	conn, err := transport.Listen(cfg.ListenAddr)
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	gwlog.Info("gnatt starting", "listenAddr", cfg.ListenAddr)
	if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
