// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/bridge_layer/internal/app/auth"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/policy"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/settlement"
	"github.com/R3E-Network/bridge_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.EventStore = (*Store)(nil)
var _ storage.PolicyStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the bridge tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bridge_events (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			actor       TEXT NOT NULL DEFAULT '',
			transfer_id TEXT NOT NULL DEFAULT '',
			recipient   TEXT NOT NULL DEFAULT '',
			role        TEXT NOT NULL DEFAULT '',
			amount      BIGINT NOT NULL DEFAULT 0,
			fee         BIGINT NOT NULL DEFAULT 0,
			new_reserve BIGINT NOT NULL DEFAULT 0,
			detail      JSONB,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS bridge_events_type_idx ON bridge_events (type, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS bridge_policy (
			id         INT PRIMARY KEY,
			document   JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bridge_roles (
			identity TEXT NOT NULL,
			role     TEXT NOT NULL,
			PRIMARY KEY (identity, role)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- EventStore --------------------------------------------------------------

func (s *Store) AppendEvent(ctx context.Context, evt settlement.Event) (settlement.Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	var detailJSON []byte
	if evt.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(evt.Detail)
		if err != nil {
			return settlement.Event{}, err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bridge_events (id, type, actor, transfer_id, recipient, role, amount, fee, new_reserve, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, evt.ID, string(evt.Type), evt.Actor, evt.TransferID, evt.Recipient, evt.Role, evt.Amount, evt.Fee, evt.NewReserve, detailJSON, evt.Timestamp)
	if err != nil {
		return settlement.Event{}, err
	}
	return evt, nil
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]settlement.Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, type, actor, transfer_id, recipient, role, amount, fee, new_reserve, detail, created_at
		FROM bridge_events ORDER BY created_at DESC, id DESC LIMIT $1
	`, normalizeLimit(limit))
}

func (s *Store) ListEventsByType(ctx context.Context, typ settlement.EventType, limit int) ([]settlement.Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, type, actor, transfer_id, recipient, role, amount, fee, new_reserve, detail, created_at
		FROM bridge_events WHERE type = $1 ORDER BY created_at DESC, id DESC LIMIT $2
	`, string(typ), normalizeLimit(limit))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]settlement.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.Event
	for rows.Next() {
		var evt settlement.Event
		var typ string
		var detailJSON []byte
		if err := rows.Scan(&evt.ID, &typ, &evt.Actor, &evt.TransferID, &evt.Recipient, &evt.Role, &evt.Amount, &evt.Fee, &evt.NewReserve, &detailJSON, &evt.Timestamp); err != nil {
			return nil, err
		}
		evt.Type = settlement.EventType(typ)
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &evt.Detail); err != nil {
				return nil, err
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// normalizeLimit keeps unbounded listings from dragging the whole table over
// the wire.
func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}

// --- PolicyStore -------------------------------------------------------------

func (s *Store) SavePolicy(ctx context.Context, p policy.ReservePolicy) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bridge_policy (id, document, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET document = $1, updated_at = $2
	`, doc, time.Now().UTC())
	return err
}

func (s *Store) LoadPolicy(ctx context.Context) (policy.ReservePolicy, bool, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM bridge_policy WHERE id = 1`).Scan(&doc)
	if err == sql.ErrNoRows {
		return policy.ReservePolicy{}, false, nil
	}
	if err != nil {
		return policy.ReservePolicy{}, false, err
	}
	var p policy.ReservePolicy
	if err := json.Unmarshal(doc, &p); err != nil {
		return policy.ReservePolicy{}, false, err
	}
	return p, true, nil
}

// --- RoleStore ---------------------------------------------------------------

func (s *Store) SaveAssignments(ctx context.Context, assignments []auth.Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bridge_roles`); err != nil {
		return err
	}
	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bridge_roles (identity, role) VALUES ($1, $2)
		`, a.Identity, string(a.Role)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadAssignments(ctx context.Context) ([]auth.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity, role FROM bridge_roles ORDER BY role, identity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Assignment
	for rows.Next() {
		var a auth.Assignment
		var role string
		if err := rows.Scan(&a.Identity, &role); err != nil {
			return nil, err
		}
		a.Role = auth.Role(role)
		out = append(out, a)
	}
	return out, rows.Err()
}
