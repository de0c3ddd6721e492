// Package storage - swap record persistence (C6): a keyed store mapping a
// swap id to its schema-versioned serialized state, restored on startup so
// a crashed daemon resumes at the correct branch.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
)

// Swap record persistence errors.
var (
	ErrSwapNotFound = errors.New("storage: swap not found")
	ErrSwapExists   = errors.New("storage: swap already exists")
)

// Role names which side of the protocol a persisted swap record belongs to.
type Role string

const (
	RoleAlice Role = "alice"
	RoleBob   Role = "bob"
)

// SwapRecord is the row-level view of a persisted swap: role plus the raw,
// schema-versioned state blob. Callers decode StateBlob with
// swapstate.FromPersisted/FromPersistedBob once they have the runtime
// context (wallet handles, etc.) to reattach.
type SwapRecord struct {
	SwapID        swapstate.ID
	Role          Role
	SchemaVersion int
	Tag           string
	Done          bool
	StateBlob     json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InsertAliceSwap creates a new swap record for Alice's side. Fails with
// ErrSwapExists if the id is already present — insert never overwrites.
func (s *Storage) InsertAliceSwap(id swapstate.ID, state swapstate.AliceState) error {
	return s.insertSwap(id, RoleAlice, swapstate.ToPersisted(state))
}

// InsertBobSwap creates a new swap record for Bob's side.
func (s *Storage) InsertBobSwap(id swapstate.ID, state swapstate.BobState) error {
	return s.insertSwap(id, RoleBob, swapstate.ToPersistedBob(state))
}

// UpdateAliceSwap replaces the persisted state of an existing Alice swap.
func (s *Storage) UpdateAliceSwap(id swapstate.ID, state swapstate.AliceState) error {
	return s.updateSwap(id, swapstate.ToPersisted(state))
}

// UpdateBobSwap replaces the persisted state of an existing Bob swap.
func (s *Storage) UpdateBobSwap(id swapstate.ID, state swapstate.BobState) error {
	return s.updateSwap(id, swapstate.ToPersistedBob(state))
}

func (s *Storage) insertSwap(id swapstate.ID, role Role, persisted any) error {
	blob, tag, version, done, err := encodeSwapState(persisted)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err = s.db.Exec(
		`INSERT INTO swap_records (swap_id, role, schema_version, tag, done, state_blob, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), string(role), version, tag, boolToInt(done), []byte(blob), now, now,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrSwapExists
		}
		return fmt.Errorf("storage: insert swap %s: %w", id, err)
	}
	return nil
}

func (s *Storage) updateSwap(id swapstate.ID, persisted any) error {
	blob, tag, version, done, err := encodeSwapState(persisted)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`UPDATE swap_records SET schema_version = ?, tag = ?, done = ?, state_blob = ?, updated_at = ?
		 WHERE swap_id = ?`,
		version, tag, boolToInt(done), []byte(blob), time.Now().Unix(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: update swap %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSwapNotFound
	}
	return nil
}

// GetSwap returns the current record for id, or ErrSwapNotFound.
func (s *Storage) GetSwap(id swapstate.ID) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT swap_id, role, schema_version, tag, done, state_blob, created_at, updated_at
		 FROM swap_records WHERE swap_id = ?`,
		id.String(),
	)
	return scanSwapRecord(row)
}

// ListUnfinishedSwaps enumerates every swap record whose state is not
// Done(_), for resume on startup.
func (s *Storage) ListUnfinishedSwaps() ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT swap_id, role, schema_version, tag, done, state_blob, created_at, updated_at
		 FROM swap_records WHERE done = 0 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SwapRecord
	for rows.Next() {
		rec, err := scanSwapRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DecodeAlice decodes a SwapRecord's state blob into an AliceState,
// reattaching runtime handles from ctx. Fails loudly on an unrecognized
// schema version or variant tag rather than silently losing data.
func (r *SwapRecord) DecodeAlice(ctx *swapstate.AliceRuntimeContext) (swapstate.AliceState, error) {
	if r.Role != RoleAlice {
		return nil, fmt.Errorf("storage: swap %s is not an alice record (role %q)", r.SwapID, r.Role)
	}
	var p swapstate.PersistedAliceState
	if err := json.Unmarshal(r.StateBlob, &p); err != nil {
		return nil, fmt.Errorf("storage: decode alice swap %s: %w", r.SwapID, err)
	}
	return swapstate.FromPersisted(&p, ctx)
}

// DecodeBob decodes a SwapRecord's state blob into a BobState.
func (r *SwapRecord) DecodeBob(ctx *swapstate.BobRuntimeContext) (swapstate.BobState, error) {
	if r.Role != RoleBob {
		return nil, fmt.Errorf("storage: swap %s is not a bob record (role %q)", r.SwapID, r.Role)
	}
	var p swapstate.PersistedBobState
	if err := json.Unmarshal(r.StateBlob, &p); err != nil {
		return nil, fmt.Errorf("storage: decode bob swap %s: %w", r.SwapID, err)
	}
	return swapstate.FromPersistedBob(&p, ctx)
}

func encodeSwapState(persisted any) (blob json.RawMessage, tag string, version int, done bool, err error) {
	blob, err = json.Marshal(persisted)
	if err != nil {
		return nil, "", 0, false, fmt.Errorf("storage: encode swap state: %w", err)
	}
	switch p := persisted.(type) {
	case *swapstate.PersistedAliceState:
		tag, version, done = string(p.Tag), p.SchemaVersion, p.Tag == swapstate.TagAliceDone
	case *swapstate.PersistedBobState:
		tag, version, done = string(p.Tag), p.SchemaVersion, p.Tag == swapstate.TagBobDone
	default:
		return nil, "", 0, false, fmt.Errorf("storage: unrecognized persisted state type %T", persisted)
	}
	return blob, tag, version, done, nil
}

func scanSwapRecord(row *sql.Row) (*SwapRecord, error) {
	var swapID, role, tag string
	var schemaVersion, done int
	var blob []byte
	var createdAt, updatedAt int64

	err := row.Scan(&swapID, &role, &schemaVersion, &tag, &done, &blob, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSwapNotFound
		}
		return nil, err
	}
	return buildSwapRecord(swapID, role, schemaVersion, tag, done, blob, createdAt, updatedAt)
}

func scanSwapRecordRows(rows *sql.Rows) (*SwapRecord, error) {
	var swapID, role, tag string
	var schemaVersion, done int
	var blob []byte
	var createdAt, updatedAt int64

	if err := rows.Scan(&swapID, &role, &schemaVersion, &tag, &done, &blob, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return buildSwapRecord(swapID, role, schemaVersion, tag, done, blob, createdAt, updatedAt)
}

func buildSwapRecord(swapID, role string, schemaVersion int, tag string, done int, blob []byte, createdAt, updatedAt int64) (*SwapRecord, error) {
	id, err := swapstate.ParseID(swapID)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return &SwapRecord{
		SwapID:        id,
		Role:          Role(role),
		SchemaVersion: schemaVersion,
		Tag:           tag,
		Done:          done != 0,
		StateBlob:     json.RawMessage(blob),
		CreatedAt:     time.Unix(createdAt, 0),
		UpdatedAt:     time.Unix(updatedAt, 0),
	}, nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
