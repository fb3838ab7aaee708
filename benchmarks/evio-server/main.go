package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/evio"
)

func main() {
	var addr string
	var loops int

	cmd := &cobra.Command{
		Use:          "evio-server",
		Short:        "evio echo server, compared against mwreactor-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var events evio.Events
			events.NumLoops = loops
			events.Data = func(c evio.Conn, in []byte) (out []byte, action evio.Action) {
				out = in
				return
			}
			events.Tick = func() (delay time.Duration, action evio.Action) {
				if ctx.Err() != nil {
					action = evio.Shutdown
				}
				delay = 100 * time.Millisecond
				return
			}

			return evio.Serve(events, "tcp://"+addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8003", "listen address")
	cmd.Flags().IntVar(&loops, "loops", -1, "number of loops, -1 means the number of cpus")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
