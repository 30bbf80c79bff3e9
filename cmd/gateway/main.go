// Command gateway runs the bridge layer HTTP gateway: the settlement
// engine, its reserve monitor and the REST/websocket API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/R3E-Network/bridge_layer/internal/app"
	"github.com/R3E-Network/bridge_layer/internal/app/httpapi"
	settlementsvc "github.com/R3E-Network/bridge_layer/internal/app/services/settlement"
	"github.com/R3E-Network/bridge_layer/internal/app/storage/memory"
	"github.com/R3E-Network/bridge_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/bridge_layer/internal/app/token"
	"github.com/R3E-Network/bridge_layer/internal/config"
	"github.com/R3E-Network/bridge_layer/pkg/logger"
)

func main() {
	log := logger.NewDefault("gateway")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("load configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("gateway exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	var stores app.Stores
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}

		pg := postgres.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		stores = app.Stores{Events: pg, Policies: pg, Roles: pg}
		log.Info("using postgres persistence")
	} else {
		mem := memory.New()
		stores = app.Stores{Events: mem, Policies: mem, Roles: mem}
		log.Warn("DATABASE_URL not set; state will not survive restarts")
	}

	var ledger settlementsvc.Token
	custody := ""
	if cfg.ChainBacked() {
		client, err := token.NewChainClient(token.ChainConfig{
			RPCURL:         cfg.RPCURL,
			TokenHash:      cfg.TokenHash,
			CustodyAddress: cfg.CustodyAddress,
		})
		if err != nil {
			return err
		}
		ledger = client
		custody = cfg.CustodyAddress
		log.WithField("token", cfg.TokenHash).Info("using chain settlement backend")
	}

	// The broker decorates the event store so appended events also reach
	// websocket subscribers.
	broker := httpapi.NewBroker(stores.Events)
	stores.Events = broker

	application, err := app.New(ctx, app.Options{
		Stores:          stores,
		Token:           ledger,
		Custody:         custody,
		Admins:          cfg.Admins,
		Operators:       cfg.Operators,
		WithdrawRole:    cfg.WithdrawRole,
		MonitorSchedule: cfg.MonitorSchedule,
		Log:             log,
	})
	if err != nil {
		return err
	}

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		Broker:         broker,
		AuditLogPath:   cfg.AuditLogPath,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Log:            log.WithField("component", "httpapi"),
	})
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("http shutdown")
	}
	return application.Stop(shutdownCtx)
}
