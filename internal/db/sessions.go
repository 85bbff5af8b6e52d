package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/scanning"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000

	// Rows per multi-row insert, kept well below the 65535 bind parameter
	// limit of the PostgreSQL protocol.
	resultBatchSize = 1000
)

// MetricsRecorder receives database query metrics. *metrics.PrometheusMetrics
// satisfies it.
type MetricsRecorder interface {
	RecordDatabaseQuery(operation string, duration time.Duration, success bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordDatabaseQuery(string, time.Duration, bool) {}

// SessionRepository stores frozen scan sessions.
type SessionRepository struct {
	db      *DB
	metrics MetricsRecorder
}

// NewSessionRepository creates a new session repository. A nil recorder
// disables metrics.
func NewSessionRepository(db *DB, metrics MetricsRecorder) *SessionRepository {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &SessionRepository{db: db, metrics: metrics}
}

// ListFilter narrows List.
type ListFilter struct {
	// Target matches the target IP or the recorded hostname.
	Target string
	Limit  int
	Offset int
}

func (r *SessionRepository) observe(operation string, start time.Time, err error) {
	r.metrics.RecordDatabaseQuery(operation, time.Since(start), err == nil)
}

const insertSessionQuery = `
	INSERT INTO scan_sessions (
		id, schema_version, status, target_ip, hostname, technique,
		cancelled_ports, ports_requested, ports_completed, started_at, finished_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const insertResultsQuery = `
	INSERT INTO port_results (
		session_id, port, protocol, state, technique, reason, probe_duration_us
	) VALUES (
		:session_id, :port, :protocol, :state, :technique, :reason, :probe_duration_us
	)`

// Save stores a session and its results in one transaction.
func (r *SessionRepository) Save(ctx context.Context, s *scanning.ScanSession) (err error) {
	start := time.Now()
	defer func() { r.observe("save_session", start, err) }()

	if s == nil || s.ID == uuid.Nil {
		return errors.NewScanError(errors.CodeValidation, "session has no id")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := newSessionRow(s)
	if _, err = tx.ExecContext(ctx, insertSessionQuery,
		row.ID, row.SchemaVersion, row.Status, row.TargetIP, row.Hostname, row.Technique,
		pq.Array([]int64(row.CancelledPorts)), row.PortsRequested, row.PortsCompleted,
		row.StartedAt, row.FinishedAt,
	); err != nil {
		return sanitizeDBError("insert session", err)
	}

	if err = insertResults(ctx, tx, newResultRows(s.ID, s.Results)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return sanitizeDBError("commit session", err)
	}
	return nil
}

func insertResults(ctx context.Context, tx *sqlx.Tx, rows []resultRow) error {
	for len(rows) > 0 {
		n := min(len(rows), resultBatchSize)
		if _, err := tx.NamedExecContext(ctx, insertResultsQuery, rows[:n]); err != nil {
			return sanitizeDBError("insert port results", err)
		}
		rows = rows[n:]
	}
	return nil
}

const selectSessionQuery = `
	SELECT id, schema_version, status, target_ip, hostname, technique,
		cancelled_ports, ports_requested, ports_completed, started_at, finished_at
	FROM scan_sessions
	WHERE id = $1`

const selectResultsQuery = `
	SELECT session_id, port, protocol, state, technique, reason, probe_duration_us
	FROM port_results
	WHERE session_id = $1
	ORDER BY port, protocol`

// Get loads a session with its results.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (s *scanning.ScanSession, err error) {
	start := time.Now()
	defer func() { r.observe("get_session", start, err) }()

	var row sessionRow
	if err = r.db.GetContext(ctx, &row, selectSessionQuery, id); err != nil {
		if errors.IsCode(sanitizeDBError("get session", err), errors.CodeNotFound) {
			return nil, errors.ErrNotFound("session", id.String())
		}
		return nil, sanitizeDBError("get session", err)
	}

	var results []resultRow
	if err = r.db.SelectContext(ctx, &results, selectResultsQuery, id); err != nil {
		return nil, sanitizeDBError("get port results", err)
	}

	s, err = row.toSession(results)
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseQuery, "stored session is invalid", err).
			WithOperation("get session")
	}
	return s, nil
}

const listSessionsQuery = `
	SELECT s.id, s.status, s.target_ip, s.hostname, s.technique,
		s.ports_requested, s.ports_completed, s.started_at, s.finished_at,
		(SELECT COUNT(*) FROM port_results p WHERE p.session_id = s.id AND p.state = 'open') AS open_ports
	FROM scan_sessions s
	WHERE ($1 = '' OR host(s.target_ip) = $1 OR s.hostname = $1)
	ORDER BY s.started_at DESC
	LIMIT $2 OFFSET $3`

// List returns session summaries, most recent first.
func (r *SessionRepository) List(ctx context.Context, filter ListFilter) (out []SessionSummary, err error) {
	start := time.Now()
	defer func() { r.observe("list_sessions", start, err) }()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset := max(filter.Offset, 0)

	out = []SessionSummary{}
	if err = r.db.SelectContext(ctx, &out, listSessionsQuery, filter.Target, limit, offset); err != nil {
		return nil, sanitizeDBError("list sessions", err)
	}
	return out, nil
}

const latestSessionQuery = `
	SELECT id FROM scan_sessions
	WHERE host(target_ip) = $1 OR hostname = $1
	ORDER BY started_at DESC
	LIMIT 1`

// Latest loads the most recent session recorded for target, matched by IP
// or hostname.
func (r *SessionRepository) Latest(ctx context.Context, target string) (*scanning.ScanSession, error) {
	start := time.Now()
	var id uuid.UUID
	err := r.db.GetContext(ctx, &id, latestSessionQuery, target)
	r.observe("latest_session", start, err)
	if err != nil {
		if errors.IsCode(sanitizeDBError("latest session", err), errors.CodeNotFound) {
			return nil, errors.ErrNotFound("session for target", target)
		}
		return nil, sanitizeDBError("latest session", err)
	}
	return r.Get(ctx, id)
}

// Delete removes a session and its results.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	start := time.Now()
	defer func() { r.observe("delete_session", start, err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM scan_sessions WHERE id = $1`, id)
	if err != nil {
		return sanitizeDBError("delete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sanitizeDBError("delete session", err)
	}
	if n == 0 {
		return errors.ErrNotFound("session", id.String())
	}
	return nil
}
