package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/netpoll"
	"github.com/spf13/cobra"
)

func onRequest(ctx context.Context, connection netpoll.Connection) error {
	reader, writer := connection.Reader(), connection.Writer()
	defer reader.Release()

	msg, err := reader.ReadBinary(reader.Len())
	if err != nil {
		return err
	}
	if _, err := writer.WriteBinary(msg); err != nil {
		return err
	}
	return writer.Flush()
}

func main() {
	var addr string
	var loops int

	cmd := &cobra.Command{
		Use:          "netpoll-server",
		Short:        "netpoll echo server, compared against mwreactor-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if loops > 0 {
				if err := netpoll.SetNumLoops(loops); err != nil {
					return err
				}
			}

			listener, err := netpoll.CreateListener("tcp", addr)
			if err != nil {
				return err
			}

			eventLoop, err := netpoll.NewEventLoop(onRequest)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = eventLoop.Shutdown(shutdownCtx)
			}()

			return eventLoop.Serve(listener)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8002", "listen address")
	cmd.Flags().IntVar(&loops, "loops", 0, "number of poll loops, 0 keeps the netpoll default")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
