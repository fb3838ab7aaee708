package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Allenxuxu/gev"
	"github.com/spf13/cobra"
)

type echoHandler struct{}

func (h *echoHandler) OnConnect(c *gev.Connection) {}

func (h *echoHandler) OnMessage(c *gev.Connection, ctx interface{}, data []byte) interface{} {
	return data
}

func (h *echoHandler) OnClose(c *gev.Connection) {}

func main() {
	var addr string
	var loops int

	cmd := &cobra.Command{
		Use:          "gev-server",
		Short:        "gev echo server, compared against mwreactor-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := gev.NewServer(&echoHandler{},
				gev.Network("tcp"),
				gev.Address(addr),
				gev.NumLoops(loops),
			)
			if err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				server.Stop()
			}()

			server.Start()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8001", "listen address")
	cmd.Flags().IntVar(&loops, "loops", -1, "number of loops, -1 means the number of cpus")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
