package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/albertbausili/sluice/pkg/sluice"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
	addServerFlags(cmd)
	return cmd
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.cfg.Server.Registerer = reg

	srv, err := sluice.New(a.cfg.Server)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Addr), zap.String("path", a.cfg.Metrics.Path))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	logger.Info("starting sluice", zap.String("version", Version), zap.String("addr", a.cfg.Server.Addr))
	err = srv.ListenAndServe(ctx, sluice.HandlerFunc(echo))

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return err
}

// echo answers with the request method, path and body.
func echo(_ context.Context, ex *sluice.Exchange) error {
	req := ex.Request
	body := make([]byte, 0, len(req.Method)+len(req.Path)+len(req.Body)+2)
	body = append(body, req.Method...)
	body = append(body, ' ')
	body = append(body, req.Path...)
	body = append(body, '\n')
	body = append(body, req.Body...)
	return ex.Respond(http.StatusOK, [][2]string{{"content-type", "text/plain; charset=utf-8"}}, body)
}
