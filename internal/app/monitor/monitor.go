// Package monitor runs the scheduled reserve health check. It is a pure
// observer: the circuit breaker only trips inside settlement operations,
// while the monitor keeps the reserve gauge fresh and warns when the
// reserve sinks toward the safety thresholds between operations.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/bridge_layer/internal/app/domain/policy"
	settlementsvc "github.com/R3E-Network/bridge_layer/internal/app/services/settlement"
	"github.com/R3E-Network/bridge_layer/internal/app/system"
	"github.com/R3E-Network/bridge_layer/pkg/logger"
)

// DefaultSchedule checks the reserve every minute.
const DefaultSchedule = "@every 1m"

// Prober is the engine-side read surface the monitor drives.
type Prober interface {
	ReserveStatus(ctx context.Context) (settlementsvc.Status, error)
	Policy() policy.ReservePolicy
}

// ReserveMonitor is a lifecycle-managed cron wrapper around a Prober.
type ReserveMonitor struct {
	prober   Prober
	schedule string
	cron     *cron.Cron
	log      *logger.Logger
}

var _ system.Service = (*ReserveMonitor)(nil)

// New creates a monitor. schedule accepts the cron spec formats of
// robfig/cron, including @every durations; empty means DefaultSchedule.
func New(prober Prober, schedule string, log *logger.Logger) (*ReserveMonitor, error) {
	if prober == nil {
		return nil, fmt.Errorf("reserve monitor requires a prober")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = logger.NewDefault("monitor")
	}
	// Validate the spec up front so misconfiguration fails at startup, not
	// at first tick.
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid monitor schedule %q: %w", schedule, err)
	}
	return &ReserveMonitor{prober: prober, schedule: schedule, log: log}, nil
}

func (m *ReserveMonitor) Name() string { return "reserve-monitor" }

// Start begins scheduled checks and runs one immediately so a restarted
// process reports reserve health without waiting a full period.
func (m *ReserveMonitor) Start(ctx context.Context) error {
	m.cron = cron.New()
	_, err := m.cron.AddFunc(m.schedule, func() {
		checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.check(checkCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule reserve check: %w", err)
	}

	m.check(ctx)
	m.cron.Start()
	m.log.WithField("schedule", m.schedule).Info("reserve monitor started")
	return nil
}

// Stop halts the schedule and waits for an in-flight check to finish.
func (m *ReserveMonitor) Stop(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	done := m.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// check reads the live reserve (refreshing the gauge as a side effect of the
// engine's read path) and logs threshold proximity.
func (m *ReserveMonitor) check(ctx context.Context) {
	status, err := m.prober.ReserveStatus(ctx)
	if err != nil {
		m.log.WithError(err).Warn("reserve check failed")
		return
	}
	p := m.prober.Policy()

	switch {
	case status.CurrentReserve < p.EmergencyThreshold:
		m.log.WithFields(map[string]any{
			"reserve":             status.CurrentReserve,
			"emergency_threshold": p.EmergencyThreshold,
			"active":              status.Active,
		}).Warn("reserve under emergency threshold")
	case status.CurrentReserve < p.ReserveThreshold:
		m.log.WithFields(map[string]any{
			"reserve":           status.CurrentReserve,
			"reserve_threshold": p.ReserveThreshold,
			"effective_max":     status.EffectiveMax,
		}).Warn("reserve under threshold; reduced transfer ceiling in effect")
	default:
		m.log.WithField("reserve", status.CurrentReserve).Debug("reserve healthy")
	}
}
