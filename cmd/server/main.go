package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-ledger/internal/config"
	"github.com/example/ride-ledger/internal/escrow"
	"github.com/example/ride-ledger/internal/feed"
	httpapi "github.com/example/ride-ledger/internal/http"
	"github.com/example/ride-ledger/internal/ledger"
	"github.com/example/ride-ledger/internal/logging"
	"github.com/example/ride-ledger/internal/notify"
	"github.com/example/ride-ledger/internal/query"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("server", cfg.LogLevel)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var esc escrow.Service
	if os.Getenv("STRIPE_API_KEY") != "" {
		esc = escrow.NewStripe(cfg.StripeCurrency)
	} else {
		esc = escrow.NewMemory()
	}

	var adapter ledger.Adapter
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			migrate(cfg.PGDSN, logger)
		}
		store, err := ledger.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		opts := ledger.RemoteOptions{Window: cfg.ListWindow, Poll: cfg.PollInterval}
		if cfg.RedisAddr != "" {
			opts.Listener = notify.NewSubscriber(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel)
			opts.Announcers = append(opts.Announcers,
				notify.NewPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel))
		}
		if len(cfg.KafkaBrokers) > 0 {
			producer := feed.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
			defer producer.Close()
			opts.Announcers = append(opts.Announcers, producer)
		}

		remote := ledger.NewRemote(store, esc, logger, opts)
		go func() {
			if err := remote.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("remote ledger loop stopped", "error", err)
			}
		}()
		adapter = remote
	} else {
		logger.Info("no PG_DSN set, using in-memory ledger")
		adapter = ledger.NewLocal(esc)
	}

	q, unsubscribe := query.New(adapter)
	defer unsubscribe()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(adapter, q, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ride-ledger listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func migrate(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open failed", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_records.sql"))
	if err != nil {
		logger.Warn("migration file missing, skipping", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec failed", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_ride_records.sql")
}
