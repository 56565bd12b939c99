package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rentflow/auth"
	"rentflow/config"
	"rentflow/custody"
	"rentflow/db"
	"rentflow/dispute"
	"rentflow/ledger"
	"rentflow/receipt"
	"rentflow/rental"
	"rentflow/timeline"
)

const relayInterval = 2 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := cfg.Logger()

	g, gctx := errgroup.WithContext(ctx)

	var (
		recorder timeline.Recorder
		reader   TimelineReader
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("bootstrap database pool: %v", err)
		}
		defer pool.Close()
		if err := db.ApplySchema(ctx, pool); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
		recorder = timeline.NewPGRecorder(pool)
		reader = timeline.NewPGReader(pool)

		relay := timeline.NewRelay(pool, timeline.LogPublisher{Log: log}, log)
		g.Go(func() error { return relay.Run(gctx, relayInterval) })
	} else {
		memory := timeline.NewMemoryRecorder()
		recorder, reader = memory, memory
		log.Warn("DATABASE_URL is empty; journaling events in memory")
	}

	server := buildServer(ctx, cfg, log, recorder, reader)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	g.Go(func() error {
		log.WithField("addr", cfg.ListenAddr).Info("rentflow api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("rentflow api stopped")
		os.Exit(1)
	}
	log.Info("rentflow api stopped")
}

// buildServer wires the services. Payments settle into in-process wallets
// and assets live in a single in-memory collection named by the config.
func buildServer(ctx context.Context, cfg config.Config, log *logrus.Logger, recorder timeline.Recorder, reader TimelineReader) *Server {
	journal := timeline.NewJournal(recorder, log)
	authority := ledger.Address(cfg.AuthorityAddress)

	led := ledger.New(authority, ledger.NewWalletPayer(), journal, log)
	if err := led.SetServiceFeeRatio(ctx, authority, cfg.ServiceFeeRatio); err != nil {
		log.Fatalf("set service fee ratio: %v", err)
	}

	assets := custody.NewMemoryRegistry()
	receipts := receipt.NewBook(cfg.ReceiptCollection)
	directory := custody.NewDirectory()
	directory.Add(cfg.AssetCollection, assets)
	directory.Add(receipts.Name(), receipts)

	rentals := rental.NewService(custody.NewAdapter(directory, ledger.Address(cfg.RegistryAddress)), receipts, led, journal, log)
	tokens := auth.NewService(cfg.AuthorityAddress, cfg.AuthorityPassphraseHash, cfg.JWTSecret).
		WithRegistry(cfg.RegistryAddress)

	return &Server{
		authService:     tokens,
		rentals:         rentals,
		disputes:        dispute.NewResolver(rentals, led, journal, log),
		ledger:          led,
		assets:          assets,
		assetCollection: cfg.AssetCollection,
		timeline:        reader,
		log:             log.WithField("component", "http"),
	}
}
