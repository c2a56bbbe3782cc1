package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/stepflow/pkg/schema"
)

// LibSQLStore implements Store on an embedded libSQL database.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/stepflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB (used by the event journal).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return schema.IOError("vacuum", err)
	}
	return nil
}

func (s *LibSQLStore) Get(ctx context.Context, id string) (*schema.ExecutionRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM executions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, schema.IOError("get execution", err)
	}
	return decodeRecord(raw)
}

func (s *LibSQLStore) Set(ctx context.Context, rec *schema.ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "record id is required")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return schema.IOError("marshal execution", err)
	}
	created := timeOrNow(rec.CreatedAt)
	updated := timeOrNow(rec.UpdatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, project_id, status, record, created_at_ns, updated_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   workflow_id=excluded.workflow_id, project_id=excluded.project_id, status=excluded.status,
		   record=excluded.record, updated_at_ns=excluded.updated_at_ns`,
		rec.ID, rec.WorkflowID, rec.ProjectID, string(rec.Status), string(raw),
		created.UnixNano(), updated.UnixNano(),
	)
	if err != nil {
		return schema.IOError("set execution", err)
	}
	return nil
}

// Delete removes the record and its journal entries.
func (s *LibSQLStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.IOError("begin delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_events WHERE execution_id = ?`, id); err != nil {
		return schema.IOError("delete events", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id); err != nil {
		return schema.IOError("delete execution", err)
	}
	if err := tx.Commit(); err != nil {
		return schema.IOError("commit delete", err)
	}
	return nil
}

func (s *LibSQLStore) List(ctx context.Context, filter Filter) ([]*schema.ExecutionRecord, error) {
	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.UpdatedSince != nil {
		where = append(where, "updated_at_ns >= ?")
		args = append(args, filter.UpdatedSince.UnixNano())
	}
	if filter.UpdatedBefore != nil {
		where = append(where, "updated_at_ns < ?")
		args = append(args, filter.UpdatedBefore.UnixNano())
	}

	query := "SELECT record FROM executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at_ns DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.IOError("list executions", err)
	}
	defer rows.Close()

	var out []*schema.ExecutionRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, schema.IOError("scan execution", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.IOError("list executions", err)
	}
	return out, nil
}

// --- Event journal ---

// AppendEvent appends event with the next per-execution sequence number.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.IOError("begin append", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq); err != nil {
		return schema.IOError("next sequence", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO execution_events (execution_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.StepID), event.Type, nullRaw(event.Payload),
		event.Timestamp.UnixNano(), seq,
	)
	if err != nil {
		return schema.IOError("insert event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	if err := tx.Commit(); err != nil {
		return schema.IOError("commit event", err)
	}
	return nil
}

// GetEvents returns events for an execution with sequence > since, in sequence order.
func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_id, event_type, payload, timestamp, sequence
		 FROM execution_events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, schema.IOError("get events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, payload sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &e.ExecutionID, &stepID, &e.Type, &payload, &ts, &e.Sequence); err != nil {
			return nil, schema.IOError("scan event", err)
		}
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		e.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.IOError("get events", err)
	}
	return events, nil
}

// --- Helpers ---

func decodeRecord(raw string) (*schema.ExecutionRecord, error) {
	var rec schema.ExecutionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, schema.IOError("decode execution", err)
	}
	return &rec, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
