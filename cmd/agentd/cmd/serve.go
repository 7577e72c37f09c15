package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/modules/echo"
)

var serveListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon with the built-in modules installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "serve")

		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.manager.Install(ctx, echoPackage()); err != nil {
			return err
		}
		if err := a.manager.Activate(ctx, echo.Name); err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv := &http.Server{Addr: serveListenAddr, Handler: mux}
		go func() {
			logger.Info(ctx, "metrics endpoint listening", zap.String("addr", serveListenAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "metrics server failed", zap.Error(err))
			}
		}()

		<-ctx.Done()
		logger.Info(ctx, "shutting down")

		stopCtx := context.WithoutCancel(ctx)
		for _, name := range a.manager.Active() {
			if err := a.manager.Deactivate(stopCtx, name); err != nil {
				logger.Warn(ctx, "module deactivation failed",
					zap.String("module", name), zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(stopCtx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", ":9090", "metrics listen address")
	rootCmd.AddCommand(serveCmd)
}
