package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mwreactor "github.com/markity/mw-reactor"
)

func main() {
	var addr string
	var workers int

	cmd := &cobra.Command{
		Use:          "mwreactor-server",
		Short:        "echo server for benchmarks",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := mwreactor.NewServer(addr, workers, mwreactor.WithNoDelay(true))
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of workers, 0 means twice the number of cpus")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
