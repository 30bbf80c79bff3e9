// Package app wires the settlement engine, its stores and background
// services into a single lifecycle-managed application.
package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/bridge_layer/internal/app/auth"
	"github.com/R3E-Network/bridge_layer/internal/app/monitor"
	settlementsvc "github.com/R3E-Network/bridge_layer/internal/app/services/settlement"
	"github.com/R3E-Network/bridge_layer/internal/app/storage"
	"github.com/R3E-Network/bridge_layer/internal/app/storage/memory"
	"github.com/R3E-Network/bridge_layer/internal/app/system"
	"github.com/R3E-Network/bridge_layer/internal/app/token"
	"github.com/R3E-Network/bridge_layer/pkg/logger"
)

// devReserve seeds the in-memory ledger so a locally run gateway starts
// with a funded reserve.
const devReserve = 2_000_000

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Events   storage.EventStore
	Policies storage.PolicyStore
	Roles    storage.RoleStore
}

// Options configures the application. Token defaults to an in-memory
// ledger seeded with a development reserve.
type Options struct {
	Stores  Stores
	Token   settlementsvc.Token
	Custody string

	Admins       []string
	Operators    []string
	WithdrawRole auth.Role

	// MonitorSchedule is the reserve check cron spec; empty uses the
	// monitor default.
	MonitorSchedule string

	Log *logger.Logger
}

// Application ties the engine and its background services together.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Engine *settlementsvc.Service
	Events storage.EventStore
}

// New builds a fully initialised application.
func New(ctx context.Context, opts Options) (*Application, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if opts.Stores.Events == nil {
		opts.Stores.Events = mem
	}
	if opts.Stores.Policies == nil {
		opts.Stores.Policies = mem
	}
	if opts.Stores.Roles == nil {
		opts.Stores.Roles = mem
	}

	custody := opts.Custody
	if opts.Token == nil {
		if custody == "" {
			custody = "custody-dev"
		}
		ledger := token.NewMemory(custody)
		ledger.Mint(custody, devReserve)
		opts.Token = ledger
		log.WithField("custody", custody).Warn("no chain backend configured; using in-memory ledger")
	}

	engine, err := settlementsvc.New(ctx, settlementsvc.Config{
		Token:        opts.Token,
		Custody:      custody,
		Events:       opts.Stores.Events,
		Policies:     opts.Stores.Policies,
		Roles:        opts.Stores.Roles,
		WithdrawRole: opts.WithdrawRole,
		Admins:       opts.Admins,
		Operators:    opts.Operators,
		Log:          log.WithField("component", "settlement"),
	})
	if err != nil {
		return nil, fmt.Errorf("build settlement engine: %w", err)
	}

	manager := system.NewManager()

	reserveMonitor, err := monitor.New(engine, opts.MonitorSchedule, log.WithField("component", "monitor"))
	if err != nil {
		return nil, fmt.Errorf("build reserve monitor: %w", err)
	}
	if err := manager.Register(reserveMonitor); err != nil {
		return nil, fmt.Errorf("register %s: %w", reserveMonitor.Name(), err)
	}

	return &Application{
		manager: manager,
		log:     log,
		Engine:  engine,
		Events:  opts.Stores.Events,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
