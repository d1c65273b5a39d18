package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raysh454/scanflow/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose views, access checks and history over a local HTTP API",
	Long: `Start the local API. Open a view with POST /views, submit scans to it and
stream its events from /ws/views/{id}. API documentation is served under
/swagger/index.html.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			cfg.ListenAddr = addr
		}

		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.Shutdown()

		srv, err := a.NewServer()
		if err != nil {
			return fmt.Errorf("creating server: %w", err)
		}
		httpSrv := srv.HTTPServer()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			a.Logger.Info("listening", logging.Field{Key: "addr", Value: httpSrv.Addr})
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
