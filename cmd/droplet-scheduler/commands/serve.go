package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nightshift/droplet-scheduler/internal/server"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the invoke trigger over HTTP and reconcile on an interval",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Duration("interval", time.Hour, "Reconcile interval (0 disables the ticker)")
	viper.BindPFlag("listen-addr", serveCmd.Flags().Lookup("listen-addr"))
	viper.BindPFlag("interval", serveCmd.Flags().Lookup("interval"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	orch, closeFn, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	srv := server.NewHTTPServer(ctx, orch)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	tickerDone := make(chan struct{})
	go func() {
		server.RunTicker(ctx, orch, cfg.Interval)
		close(tickerDone)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown_signal_received")
	case err := <-errCh:
		if err != nil {
			stop()
			<-tickerDone
			return errors.Wrap(err, "http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http_shutdown_failed", "error", err)
	}
	<-tickerDone
	slog.Info("server_stopped")
	return nil
}
