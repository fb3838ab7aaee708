package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

type benchOptions struct {
	addr     string
	clients  int
	size     int
	duration time.Duration
}

type benchResult struct {
	messages atomic.Int64
	bytes    atomic.Int64
}

func newBenchCmd() *cobra.Command {
	o := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent echo clients against a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.clients <= 0 || o.size <= 0 || o.duration <= 0 {
				return errors.New("clients, size and duration must be positive")
			}

			res, elapsed, err := runBench(cmd.Context(), o)
			if err != nil {
				return err
			}

			secs := elapsed.Seconds()
			fmt.Fprintf(cmd.OutOrStdout(),
				"clients %d, payload %d bytes, %v\nmessages %d (%.0f/s), throughput %.2f MiB/s\n",
				o.clients, o.size, elapsed.Truncate(time.Millisecond),
				res.messages.Load(), float64(res.messages.Load())/secs,
				float64(res.bytes.Load())/secs/(1<<20))
			return nil
		},
	}

	cmd.Flags().StringVar(&o.addr, "addr", "127.0.0.1:8000", "server address")
	cmd.Flags().IntVar(&o.clients, "clients", 50, "number of concurrent connections")
	cmd.Flags().IntVar(&o.size, "size", 1024, "payload size in bytes")
	cmd.Flags().DurationVar(&o.duration, "duration", 10*time.Second, "how long to run")
	return cmd
}

// runBench runs the clients until duration elapses, every echo is verified
func runBench(ctx context.Context, o *benchOptions) (*benchResult, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()

	res := &benchResult{}
	payload := bytes.Repeat([]byte("m"), o.size)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.clients; i++ {
		g.Go(func() error {
			return benchClient(gctx, o.addr, payload, res)
		})
	}
	err := g.Wait()
	return res, time.Since(start), err
}

func benchClient(ctx context.Context, addr string, payload []byte, res *benchResult) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Annotate(err, "dial")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	reply := make([]byte, len(payload))
	for ctx.Err() == nil {
		if _, err := conn.Write(payload); err != nil {
			return ignoreDeadline(ctx, err)
		}
		if _, err := io.ReadFull(conn, reply); err != nil {
			return ignoreDeadline(ctx, err)
		}
		if !bytes.Equal(payload, reply) {
			return errors.New("echo mismatch")
		}
		res.messages.Inc()
		res.bytes.Add(int64(len(payload)))
	}
	return nil
}

// errors caused by the bench ending are not failures
func ignoreDeadline(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return nil
	}
	return errors.Trace(err)
}
