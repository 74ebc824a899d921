package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/planpay/planledger/internal/alert"
	"github.com/planpay/planledger/internal/claim"
	"github.com/planpay/planledger/internal/invoice"
	"github.com/planpay/planledger/internal/journal"
	"github.com/planpay/planledger/internal/ledger"
	"github.com/planpay/planledger/internal/payment"
	"github.com/planpay/planledger/internal/plan"
	"github.com/planpay/planledger/internal/priceguide"
	"github.com/planpay/planledger/internal/server"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	journalPath := flag.String("journal", "planledger.journal", "ledger audit journal path")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "alert sweep interval (0 disables the scheduler)")
	remitterBSB := flag.String("remitter-bsb", "", "remitter BSB for payment batches")
	remitterAccount := flag.String("remitter-account", "", "remitter account number for payment batches")
	remitterName := flag.String("remitter-name", "PLANLEDGER", "remitter user name for payment batches")
	remitterBank := flag.String("remitter-bank", "CBA", "remitter bank abbreviation")
	remitterUserID := flag.String("remitter-user-id", "000000", "direct entry user id")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*addr, *journalPath, *sweepInterval, payment.Remitter{
		BankAbbreviation: *remitterBank,
		UserName:         *remitterName,
		UserID:           *remitterUserID,
		BSB:              *remitterBSB,
		AccountNumber:    *remitterAccount,
		Description:      "NDIS PAYMENT",
	}, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(addr string, journalPath string, sweepInterval time.Duration, remitter payment.Remitter, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audit, err := journal.Open(journalPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := audit.Close(); err != nil {
			logger.Warn("journal close failed", "error", err)
		}
	}()

	guide := priceguide.NewGuide()
	directory := plan.NewMemoryDirectory()
	led := ledger.New(ledger.NewMemoryStore(), ledger.Options{Journal: audit})
	repo := invoice.NewMemoryRepository()
	validator := invoice.NewValidator(guide, directory, led, repo, invoice.ValidatorOptions{})
	settlement := claim.NewSettlement(repo, directory, claim.Options{Gateway: claim.NewMockGateway()})
	batcher, err := payment.NewBatcher(repo, directory, payment.Options{Remitter: remitter})
	if err != nil {
		return err
	}
	alerts := alert.NewEngine(directory, led, repo, alert.Options{Notifier: logNotifier{logger: logger}})

	scheduler := alert.NewScheduler(alert.SchedulerConfig{
		Engine:   alerts,
		Interval: sweepInterval,
		Logger:   logger,
	})
	if sweepInterval > 0 {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	handler := server.NewHandler(server.Engine{
		Ledger:     led,
		Validator:  validator,
		Settlement: settlement,
		Batcher:    batcher,
		Alerts:     alerts,
	}, logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logNotifier writes raised alerts to the service log. A production
// deployment would swap in an outbound channel here.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(a alert.Alert) error {
	n.logger.Info("alert raised",
		"type", a.Type,
		"scope", a.ScopeID,
		"severity", a.Severity,
		"message", a.Message)
	return nil
}
