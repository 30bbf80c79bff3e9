package monitor

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/R3E-Network/bridge_layer/internal/app/domain/policy"
	settlementsvc "github.com/R3E-Network/bridge_layer/internal/app/services/settlement"
)

type fakeProber struct {
	calls   atomic.Int64
	reserve int64
}

func (p *fakeProber) ReserveStatus(context.Context) (settlementsvc.Status, error) {
	p.calls.Add(1)
	return settlementsvc.Status{CurrentReserve: p.reserve, Active: true}, nil
}

func (p *fakeProber) Policy() policy.ReservePolicy {
	return policy.Default()
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	if _, err := New(&fakeProber{}, "not-a-schedule", nil); err == nil {
		t.Fatalf("bad schedule must be rejected")
	}
	if _, err := New(nil, "", nil); err == nil {
		t.Fatalf("nil prober must be rejected")
	}
}

func TestStart_RunsImmediateCheck(t *testing.T) {
	prober := &fakeProber{reserve: 2_000_000}
	m, err := New(prober, "@every 1h", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop(context.Background())

	if got := prober.calls.Load(); got != 1 {
		t.Fatalf("checks = %d, want 1 immediate check", got)
	}
}

func TestStop_BeforeStart(t *testing.T) {
	m, err := New(&fakeProber{}, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
}
