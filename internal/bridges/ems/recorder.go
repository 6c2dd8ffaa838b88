package ems

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// TypeRecorder passively records which telegram types each bus address
// sends. Types no device profile handles show up with handled = 0, which
// is how new telegrams worth decoding are found.
//
// The database must have the ems_telegram_types table created.
//
// Thread Safety: All methods are safe for concurrent use.
type TypeRecorder struct {
	db     *sql.DB
	logger Logger

	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// SeenType is one row of the recorder table.
type SeenType struct {
	Source       byte      `json:"source"`
	TypeID       uint16    `json:"type_id"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`
	Handled      bool      `json:"handled"`
	LastData     string    `json:"last_data"`
}

// NewTypeRecorder creates a recorder on db. Call Start before recording.
func NewTypeRecorder(db *sql.DB) *TypeRecorder {
	return &TypeRecorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *TypeRecorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statement.
func (r *TypeRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO ems_telegram_types (source, type_id, first_seen, last_seen, message_count, handled, last_data)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(source, type_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			handled = MAX(handled, excluded.handled),
			last_data = excluded.last_data
	`)
	if err != nil {
		return fmt.Errorf("preparing telegram type upsert: %w", err)
	}

	r.upsertStmt = stmt
	r.log("telegram type recorder started")
	return nil
}

// Stop releases the prepared statement. Later calls to RecordTelegram
// are ignored.
func (r *TypeRecorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
	}

	r.log("telegram type recorder stopped")
}

// RecordTelegram upserts the (source, type) pair of t.
//
// Parameters:
//   - t: Received telegram; read requests are not recorded
//   - handled: True if a device had the type bound
func (r *TypeRecorder) RecordTelegram(t *Telegram, handled bool) {
	if t.IsRead {
		return
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	stmt := r.upsertStmt
	r.stmtMu.Unlock()

	if stmt == nil {
		return
	}

	now := t.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	h := 0
	if handled {
		h = 1
	}

	if _, err := stmt.Exec(int(t.Source), int(t.TypeID), now.Unix(), now.Unix(), h, EncodeHexFrame(t.Data)); err != nil {
		r.logError("recording telegram type", err)
	}
}

// Seen returns recorded types, most recently seen first.
// When unhandledOnly is set, types bound by a device are left out.
func (r *TypeRecorder) Seen(ctx context.Context, unhandledOnly bool) ([]SeenType, error) {
	query := `
		SELECT source, type_id, first_seen, last_seen, message_count, handled, last_data
		FROM ems_telegram_types`
	if unhandledOnly {
		query += ` WHERE handled = 0`
	}
	query += ` ORDER BY last_seen DESC, source, type_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying telegram types: %w", err)
	}
	defer rows.Close()

	var out []SeenType
	for rows.Next() {
		var (
			source, typeID int
			first, last    int64
			count          int64
			handled        int
			lastData       string
		)
		if err := rows.Scan(&source, &typeID, &first, &last, &count, &handled, &lastData); err != nil {
			return nil, fmt.Errorf("scanning telegram type: %w", err)
		}
		out = append(out, SeenType{
			Source:       byte(source),   //nolint:gosec // stored from a byte
			TypeID:       uint16(typeID), //nolint:gosec // stored from a uint16
			FirstSeen:    time.Unix(first, 0).UTC(),
			LastSeen:     time.Unix(last, 0).UTC(),
			MessageCount: count,
			Handled:      handled != 0,
			LastData:     lastData,
		})
	}
	return out, rows.Err()
}

// TypeCount returns the number of recorded (source, type) pairs.
func (r *TypeRecorder) TypeCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ems_telegram_types`).Scan(&count)
	return count, err
}

func (r *TypeRecorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *TypeRecorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
