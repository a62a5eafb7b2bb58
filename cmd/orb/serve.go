// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luxfi/orb"
	"github.com/luxfi/orb/internal/echo"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		uri        string
		admin      string
		withEcho   bool
		readOnly   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an ORB daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("uri") {
				cfg.Properties[orb.PropURI] = uri
			}
			if cmd.Flags().Changed("admin") {
				cfg.Admin = admin
			}
			if cmd.Flags().Changed("echo") {
				cfg.Echo = withEcho
			}
			if cmd.Flags().Changed("read-only") {
				cfg.ReadOnly = readOnly
			}
			app := fx.New(daemon(cfg))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVar(&uri, "uri", "", "uri to accept connections on")
	cmd.Flags().StringVar(&admin, "admin", "", "address of the admin JSON-RPC and metrics endpoint, empty to disable")
	cmd.Flags().BoolVar(&withEcho, "echo", false, `bind an echo service as "echo"`)
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "refuse remote bind and unbind")
	return cmd
}

// daemon wires the ORB, its admin endpoint and metrics.
func daemon(cfg *Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newMetricsRegistry,
			newORB,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(bindEcho, startAdmin),
	)
}

func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newORB(lc fx.Lifecycle, cfg *Config, logger *zap.Logger, reg *prometheus.Registry) (*orb.ORB, error) {
	auth, err := cfg.authenticator()
	if err != nil {
		return nil, err
	}
	o, err := orb.New(orb.Properties(cfg.Properties),
		orb.WithLogger(logger),
		orb.WithAuthenticator(auth),
		orb.WithWorkers(cfg.Workers),
		orb.WithIdleTimeout(cfg.IdleTimeout),
		orb.WithMetricsRegisterer(reg),
	)
	if err != nil {
		return nil, err
	}
	for _, uri := range cfg.Listen {
		props := orb.Properties(cfg.Properties).Clone()
		props.Set(orb.PropURI, uri)
		if _, err := o.Listen(props); err != nil {
			return nil, multierr.Append(err, o.Shutdown())
		}
	}
	o.Registry().SetReadOnly(cfg.ReadOnly)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return o.Shutdown()
		},
	})
	return o, nil
}

func bindEcho(cfg *Config, o *orb.ORB, logger *zap.Logger) error {
	if !cfg.Echo {
		return nil
	}
	p, err := o.ExportObject(echo.New())
	if err != nil {
		return err
	}
	if err := o.Registry().Bind(context.Background(), "echo", p); err != nil {
		return err
	}
	logger.Info("bound echo service", zap.Strings("uris", o.URIs()))
	return nil
}

func startAdmin(lc fx.Lifecycle, cfg *Config, o *orb.ORB, reg *prometheus.Registry, logger *zap.Logger) error {
	if cfg.Admin == "" {
		return nil
	}
	handler, err := orb.NewAdminHandler(o)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/admin", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("admin")),
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			l, err := net.Listen("tcp", cfg.Admin)
			if err != nil {
				return err
			}
			logger.Info("admin endpoint listening", zap.String("addr", l.Addr().String()))
			go func() {
				if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("admin endpoint failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	return nil
}
