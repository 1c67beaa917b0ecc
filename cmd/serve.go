package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/server"
)

var (
	serveAddr         string
	serveWarehouseDSN string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		go env.Checker.Run(ctx)

		addr := serveAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}

		s := server.New(cfg.Server, version, env.Orchestrator, env.Store, env.Warehouse, env.Collector)
		srv := &http.Server{
			Addr:    addr,
			Handler: s.Router(),
		}

		// Graceful shutdown: drain in-flight requests, open SSE streams
		// included, before the process exits.
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.String("addr", addr),
			zap.String("version", version),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&serveWarehouseDSN, "warehouse-dsn", "", "warehouse DSN (overrides config and JUSTDATA_WAREHOUSE_DSN)")
	rootCmd.AddCommand(serveCmd)
}
