package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	mwreactor "github.com/markity/mw-reactor"
	"github.com/markity/mw-reactor/pkg/async_log"
	"github.com/markity/mw-reactor/pkg/config"
	"github.com/markity/mw-reactor/pkg/metrics"
)

type serveOptions struct {
	configFile  string
	listenAddr  string
	workers     int
	statusAddr  string
	idleTimeout string
	logLevel    string
	logFile     string
}

func newServeCmd() *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&o.configFile, "config", "c", "", "path of the TOML config file")
	cmd.Flags().StringVar(&o.listenAddr, "addr", "", "listen address, ip:port")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "number of workers, 0 means twice the number of cpus")
	cmd.Flags().StringVar(&o.statusAddr, "status-addr", "", "address serving /metrics, empty disables it")
	cmd.Flags().StringVar(&o.idleTimeout, "idle-timeout", "", "close sessions idle for this long, 0 disables it")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "trace, debug, info, warn, error or fatal")
	cmd.Flags().StringVar(&o.logFile, "log-file", "", "log file path")
	return cmd
}

// loadConfig reads the config file, then applies the flags set on the command line
func (o *serveOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if o.configFile != "" {
		if err := cfg.ConfigFromFile(o.configFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.ListenAddr = o.listenAddr
	}
	if flags.Changed("workers") {
		cfg.WorkerCount = o.workers
	}
	if flags.Changed("status-addr") {
		cfg.StatusAddr = o.statusAddr
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeoutStr = o.idleTimeout
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = o.logFile
	}

	if err := cfg.Adjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, closeLogger, err := async_log.NewLogger(cfg.Log)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeLogger()
	logger.Logf(async_log.INFO, "config: %s", cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := append(cfg.Options(),
		mwreactor.WithLogger(logger),
		mwreactor.WithMetrics(metrics.NewMetrics(reg)),
	)
	server, err := mwreactor.NewServer(cfg.ListenAddr, cfg.WorkerCount, opts...)
	if err != nil {
		logger.Logf(async_log.ERROR, "failed to start server: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the status server goes down with the echo server
		defer cancel()
		return server.Run(gctx)
	})

	if cfg.StatusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		statusServer := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Logf(async_log.INFO, "status server listening on %s", cfg.StatusAddr)
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Annotate(err, "status server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return statusServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if err != nil {
		logger.Logf(async_log.ERROR, "server exited: %v", err)
	}
	return err
}
