// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

var (
	// ErrReviewNotFound is returned when resolving an unknown or already
	// resolved review.
	ErrReviewNotFound = errors.New("review not found or already resolved")

	// ErrInvalidOutcome is returned for a review outcome outside the
	// accepted vocabulary.
	ErrInvalidOutcome = errors.New("invalid review outcome")
)

// DefaultListLimit caps List and ListReviews when no limit is given.
const DefaultListLimit = 50

// MaxListLimit is the largest page List will return.
const MaxListLimit = 500

// Review outcomes.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

const decisionLogSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT NOT NULL,
	drone_id TEXT NOT NULL,
	status TEXT NOT NULL,
	route TEXT NOT NULL,
	risk_band TEXT NOT NULL,
	risk_score REAL NOT NULL,
	confidence REAL NOT NULL,
	should_alert INTEGER NOT NULL,
	escalated INTEGER NOT NULL,
	predicted_altitude_ft REAL,
	ceiling_ft REAL,
	message TEXT,
	rationale TEXT,
	policy_context TEXT,
	latency_ms REAL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_drone ON decisions(drone_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_decisions_recorded ON decisions(recorded_at);

CREATE TABLE IF NOT EXISTS reviews (
	trace_id TEXT PRIMARY KEY,
	drone_id TEXT NOT NULL,
	risk_score REAL NOT NULL,
	confidence REAL NOT NULL,
	route TEXT NOT NULL,
	rationale TEXT,
	payload TEXT,
	outcome TEXT NOT NULL,
	note TEXT,
	created_at INTEGER NOT NULL,
	resolved_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_reviews_outcome ON reviews(outcome, created_at);
`

// DecisionLogConfig configures the sqlite audit log.
type DecisionLogConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	Logger *slog.Logger
}

// DecisionRow is one audited decision.
type DecisionRow struct {
	ID                  int64                 `json:"id"`
	TraceID             string                `json:"trace_id"`
	DroneID             string                `json:"drone_id"`
	Status              datatypes.AlertStatus `json:"status"`
	Route               datatypes.Route       `json:"route"`
	RiskBand            datatypes.RiskBand    `json:"risk_band"`
	RiskScore           float64               `json:"risk_score"`
	Confidence          float64               `json:"confidence"`
	ShouldAlert         bool                  `json:"should_alert"`
	Escalated           bool                  `json:"hitl"`
	PredictedAltitudeFt float64               `json:"predicted_altitude_ft"`
	CeilingFt           float64               `json:"ceiling_ft"`
	Message             string                `json:"message"`
	Rationale           string                `json:"rationale"`
	PolicyContext       []string              `json:"policy_context"`
	LatencyMs           float64               `json:"latency_ms"`
	RecordedAt          time.Time             `json:"recorded_at"`
}

// DecisionQuery filters List. Zero values mean no filter.
type DecisionQuery struct {
	DroneID string
	Status  datatypes.AlertStatus
	Since   time.Time
	Limit   int
}

// Review is one event waiting for, or resolved by, a human reviewer.
type Review struct {
	TraceID    string          `json:"trace_id"`
	DroneID    string          `json:"drone_id"`
	RiskScore  float64         `json:"risk_score"`
	Confidence float64         `json:"confidence"`
	Route      datatypes.Route `json:"route"`
	Rationale  string          `json:"rationale"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Outcome    string          `json:"outcome"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// DecisionLog is the sqlite audit log of emitted decisions and the human
// review queue.
//
// Thread Safety: Safe for concurrent use; sqlite serialises writers on
// the single pooled connection.
type DecisionLog struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenDecisionLog opens (creating if needed) the audit database.
//
// Description:
//
//	Opens cfg.Path with WAL journaling and a busy timeout, then applies
//	the schema. The pool is limited to one connection because sqlite
//	only supports a single writer.
//
// Inputs:
//
//	cfg - Log configuration. Path is required.
//
// Outputs:
//
//	*DecisionLog - The open log. Caller must call Close().
//	error - Non-nil if the database cannot be opened or migrated.
func OpenDecisionLog(cfg DecisionLogConfig) (*DecisionLog, error) {
	if cfg.Path == "" {
		return nil, errors.New("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(decisionLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DecisionLog{
		db:     db,
		logger: logger.With(slog.String("component", "storage.decision_log")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database.
func (l *DecisionLog) Close() error {
	return l.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Record implements Sink by appending one audit row.
func (l *DecisionLog) Record(ctx context.Context, rec Record) error {
	at := rec.RecordedAt
	if at.IsZero() {
		at = l.now()
	}
	policyContext, err := json.Marshal(rec.PolicyContext)
	if err != nil {
		return fmt.Errorf("encode policy context: %w", err)
	}
	d := rec.Decision
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO decisions (
			trace_id, drone_id, status, route, risk_band, risk_score, confidence,
			should_alert, escalated, predicted_altitude_ft, ceiling_ft,
			message, rationale, policy_context, latency_ms, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, d.DroneID, string(d.Status), string(d.Route), string(d.RiskBand), d.RiskScore, d.Confidence,
		boolInt(d.ShouldAlert), boolInt(d.Escalated), rec.Assessment.PredictedAltitudeFt, rec.Assessment.CeilingFt,
		d.Message, d.Rationale, string(policyContext), rec.LatencyMs, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// List returns audit rows newest first.
func (l *DecisionLog) List(ctx context.Context, q DecisionQuery) ([]DecisionRow, error) {
	var (
		where []string
		args  []any
	)
	if q.DroneID != "" {
		where = append(where, "drone_id = ?")
		args = append(args, q.DroneID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}

	query := `SELECT id, trace_id, drone_id, status, route, risk_band, risk_score, confidence,
		should_alert, escalated, predicted_altitude_ft, ceiling_ft, message, rationale,
		policy_context, latency_ms, recorded_at FROM decisions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(q.Limit))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	out := []DecisionRow{}
	for rows.Next() {
		var (
			r                   DecisionRow
			status, route, band string
			alert, escalated    int
			predicted, ceiling  sql.NullFloat64
			message, rationale  sql.NullString
			policyContext       sql.NullString
			latency             sql.NullFloat64
			recordedAt          int64
		)
		if err := rows.Scan(&r.ID, &r.TraceID, &r.DroneID, &status, &route, &band, &r.RiskScore, &r.Confidence,
			&alert, &escalated, &predicted, &ceiling, &message, &rationale,
			&policyContext, &latency, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		r.Status = datatypes.AlertStatus(status)
		r.Route = datatypes.Route(route)
		r.RiskBand = datatypes.RiskBand(band)
		r.ShouldAlert = alert != 0
		r.Escalated = escalated != 0
		r.PredictedAltitudeFt = predicted.Float64
		r.CeilingFt = ceiling.Float64
		r.Message = message.String
		r.Rationale = rationale.String
		r.LatencyMs = latency.Float64
		r.RecordedAt = time.UnixMilli(recordedAt).UTC()
		r.PolicyContext = []string{}
		if policyContext.Valid && policyContext.String != "" {
			if err := json.Unmarshal([]byte(policyContext.String), &r.PolicyContext); err != nil {
				l.logger.Warn("unreadable policy context in audit row",
					slog.Int64("id", r.ID), slog.String("error", err.Error()))
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneBefore deletes audit rows recorded before cutoff and resolved
// reviews created before it. Pending reviews are never pruned.
func (l *DecisionLog) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM decisions WHERE recorded_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune decisions: %w", err)
	}
	deleted, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM reviews WHERE outcome != ? AND created_at < ?`,
		ReviewPending, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune reviews: %w", err)
	}
	reviews, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return deleted + reviews, nil
}

// AddReview queues a review. Re-queuing the same trace id replaces the
// pending entry.
func (l *DecisionLog) AddReview(ctx context.Context, r Review) error {
	if r.TraceID == "" {
		return errors.New("trace id is required")
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	var payload any
	if len(r.Payload) > 0 {
		payload = string(r.Payload)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO reviews (trace_id, drone_id, risk_score, confidence, route, rationale, payload, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trace_id) DO UPDATE SET
			risk_score = excluded.risk_score,
			confidence = excluded.confidence,
			route = excluded.route,
			rationale = excluded.rationale,
			payload = excluded.payload`,
		r.TraceID, r.DroneID, r.RiskScore, r.Confidence, string(r.Route), r.Rationale, payload,
		ReviewPending, created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ListReviews returns reviews with the given outcome, oldest first. An
// empty outcome lists pending reviews.
func (l *DecisionLog) ListReviews(ctx context.Context, outcome string, limit int) ([]Review, error) {
	switch outcome {
	case "":
		outcome = ReviewPending
	case ReviewPending, ReviewApproved, ReviewRejected:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT trace_id, drone_id, risk_score, confidence, route, rationale, payload, outcome, note, created_at, resolved_at
		FROM reviews WHERE outcome = ? ORDER BY created_at ASC LIMIT ?`,
		outcome, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	out := []Review{}
	for rows.Next() {
		var (
			r                        Review
			route                    string
			rationale, payload, note sql.NullString
			created                  int64
			resolved                 sql.NullInt64
		)
		if err := rows.Scan(&r.TraceID, &r.DroneID, &r.RiskScore, &r.Confidence, &route,
			&rationale, &payload, &r.Outcome, &note, &created, &resolved); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.Route = datatypes.Route(route)
		r.Rationale = rationale.String
		r.Note = note.String
		if payload.Valid {
			r.Payload = json.RawMessage(payload.String)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		if resolved.Valid {
			t := time.UnixMilli(resolved.Int64).UTC()
			r.ResolvedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveReview records a reviewer's outcome for a pending review.
func (l *DecisionLog) ResolveReview(ctx context.Context, traceID, outcome, note string) error {
	if outcome != ReviewApproved && outcome != ReviewRejected {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE reviews SET outcome = ?, note = ?, resolved_at = ?
		WHERE trace_id = ? AND outcome = ?`,
		outcome, note, l.now().UnixMilli(), traceID, ReviewPending)
	if err != nil {
		return fmt.Errorf("resolve review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve review: %w", err)
	}
	if n == 0 {
		return ErrReviewNotFound
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

var _ Sink = (*DecisionLog)(nil)
