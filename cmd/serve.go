package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/form-detector/internal/api"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves run submission, run snapshots, a server-sent event stream of item transitions and the spreadsheet export.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hub := api.NewHub()
		env, err := initEnv(ctx, "serve", hub)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := api.New(ctx, env.Pipeline, hub, env.Store, api.Options{
			MaxURLs:        cfg.Limits.MaxURLs,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			err := httpSrv.Shutdown(shutdownCtx)
			srv.Wait()
			return err
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
