// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var promQueryLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	},
	[]string{"operation"},
)

func init() {
	prometheus.MustRegister(promQueryLatency)
}

// Store persists audit entries in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSchema creates the audit tables if they don't exist
func CreateSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255),
		action VARCHAR(50) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		resource_id VARCHAR(255),
		details JSONB,
		ip_address VARCHAR(64),
		user_agent TEXT,
		status VARCHAR(20) NOT NULL,
		error_message TEXT,
		request_id VARCHAR(255),
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_org_time ON audit_logs(org_id, created_at);
	`
	_, err := db.Exec(query)
	return err
}

// InsertBatch writes a batch of entries in one transaction.
func (s *Store) InsertBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		promQueryLatency.WithLabelValues("audit_insert_batch").Observe(time.Since(start).Seconds())
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_logs (id, org_id, user_id, action, resource_type,
			resource_id, details, ip_address, user_agent, status,
			error_message, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		details, err := json.Marshal(e.Details)
		if err != nil {
			details = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.OrgID, e.UserID, e.Action,
			e.ResourceType, e.ResourceID, details, e.IPAddress, e.UserAgent,
			e.Status, e.ErrorMessage, e.RequestID, e.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}
	return tx.Commit()
}

// Search returns entries matching the query, newest first.
func (s *Store) Search(ctx context.Context, q Query) ([]Entry, error) {
	start := time.Now()
	defer func() {
		promQueryLatency.WithLabelValues("audit_search").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT id, org_id, COALESCE(user_id, ''), action, resource_type,
		       COALESCE(resource_id, ''), details, COALESCE(ip_address, ''),
		       COALESCE(user_agent, ''), status, COALESCE(error_message, ''),
		       COALESCE(request_id, ''), created_at
		FROM audit_logs
		WHERE org_id = $1`
	args := []interface{}{q.OrgID}
	idx := 2

	add := func(clause string, val interface{}) {
		query += fmt.Sprintf(" AND "+clause, idx)
		args = append(args, val)
		idx++
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if q.ResourceType != "" {
		add("resource_type = $%d", q.ResourceType)
	}
	if q.Status != "" {
		add("status = $%d", q.Status)
	}
	if !q.Start.IsZero() {
		add("created_at >= $%d", q.Start)
	}
	if !q.End.IsZero() {
		add("created_at < $%d", q.End)
	}

	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.OrgID, &e.UserID, &e.Action, &e.ResourceType,
			&e.ResourceID, &details, &e.IPAddress, &e.UserAgent, &e.Status,
			&e.ErrorMessage, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
