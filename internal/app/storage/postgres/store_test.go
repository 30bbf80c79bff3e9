package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/R3E-Network/bridge_layer/internal/app/auth"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/policy"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/settlement"
)

func TestStore_AppendEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO bridge_events").
		WithArgs(sqlmock.AnyArg(), "transfer.released", "ops-1", "xfer-1", "recipient-1", "",
			int64(49_250), int64(750), int64(1_950_000), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db)
	evt, err := store.AppendEvent(context.Background(), settlement.Event{
		Type:       settlement.EventTransferReleased,
		Actor:      "ops-1",
		TransferID: "xfer-1",
		Recipient:  "recipient-1",
		Amount:     49_250,
		Fee:        750,
		NewReserve: 1_950_000,
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if evt.ID == "" {
		t.Fatalf("id not assigned")
	}
	if evt.Timestamp.IsZero() {
		t.Fatalf("timestamp not assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStore_ListEventsByType(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "type", "actor", "transfer_id", "recipient", "role", "amount", "fee", "new_reserve", "detail", "created_at"}).
		AddRow("e1", "reserve.replenished", "ops-1", "", "", "", int64(30_000), int64(0), int64(110_000), []byte(nil), now)

	mock.ExpectQuery("SELECT (.+) FROM bridge_events WHERE type").
		WithArgs("reserve.replenished", 10).
		WillReturnRows(rows)

	store := New(db)
	events, err := store.ListEventsByType(context.Background(), settlement.EventReserveReplenished, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Amount != 30_000 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestStore_PolicyRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT document FROM bridge_policy").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	store := New(db)
	_, found, err := store.LoadPolicy(context.Background())
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if found {
		t.Fatalf("expected no snapshot")
	}

	mock.ExpectExec("INSERT INTO bridge_policy").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SavePolicy(context.Background(), policy.Default()); err != nil {
		t.Fatalf("save policy: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStore_SaveAssignments(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM bridge_roles").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO bridge_roles").
		WithArgs("alice", "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := New(db)
	err = store.SaveAssignments(context.Background(), []auth.Assignment{{Identity: "alice", Role: auth.RoleAdmin}})
	if err != nil {
		t.Fatalf("save assignments: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
