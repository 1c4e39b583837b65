package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MHGanainy/mvp-backend-sub000/internal/api"
	"github.com/MHGanainy/mvp-backend-sub000/internal/app/billing"
	"github.com/MHGanainy/mvp-backend-sub000/internal/daemon"
	"github.com/MHGanainy/mvp-backend-sub000/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the billing HTTP server",
	Long: `Start the billing server. It accepts session-minute and session-end
events, debits the credit ledger, and answers with continuation decisions.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := daemon.Load(configPath)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Store.Path, sqlite.Config{
		TxTimeout: cfg.Billing.TxTimeout(),
		TxMaxWait: cfg.Billing.TxMaxWait(),
	})
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer db.Close()

	engine := billing.New(db, billing.Config{
		WarningThreshold:       cfg.Billing.WarningThreshold,
		SecondsPerMinute:       cfg.Billing.SecondsPerMinute,
		GraceLastCreditSeconds: cfg.Billing.GraceLastCreditSecs,
		GraceNoCreditSeconds:   cfg.Billing.GraceNoCreditSecs,
	}, logger)

	server := api.NewServer(engine)
	server.EnableMetrics()

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("billing server listening", "addr", addr, "db", cfg.Store.Path)
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
