// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL webhook repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateSchema creates the webhook tables if they don't exist
func CreateSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS webhooks (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		url TEXT NOT NULL,
		platform VARCHAR(50) NOT NULL,
		encrypted_secret TEXT NOT NULL DEFAULT '',
		events TEXT[] NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		config JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_webhooks_org ON webhooks(org_id);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id VARCHAR(255) PRIMARY KEY,
		webhook_id VARCHAR(255) NOT NULL,
		org_id VARCHAR(255) NOT NULL,
		invocation_id VARCHAR(255) NOT NULL,
		event VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		status_code INT NOT NULL DEFAULT 0,
		attempts INT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (webhook_id, invocation_id, event)
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_org ON webhook_deliveries(org_id, created_at);
	`
	_, err := db.Exec(query)
	return err
}

const subscriptionSelect = `
	SELECT id, org_id, name, url, platform, encrypted_secret,
	       events, active, config, created_at, updated_at
	FROM webhooks`

// CreateSubscription inserts a webhook subscription
func (r *PostgresRepository) CreateSubscription(ctx context.Context, s *Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, org_id, name, url, platform, encrypted_secret,
			events, active, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.ID, s.OrgID, s.Name, s.URL, s.Platform, s.EncryptedSecret,
		pq.Array(s.Events), s.Active, configOrEmpty(s), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("%w: id already exists", ErrInvalidSubscription)
		}
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by id
func (r *PostgresRepository) GetSubscription(ctx context.Context, orgID, id string) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		subscriptionSelect+` WHERE org_id = $1 AND id = $2`, orgID, id)
	return scanSubscription(row)
}

// ListSubscriptions returns an org's subscriptions
func (r *PostgresRepository) ListSubscriptions(ctx context.Context, orgID string, activeOnly bool) ([]Subscription, error) {
	query := subscriptionSelect + ` WHERE org_id = $1`
	if activeOnly {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

// UpdateSubscription updates a subscription's configuration
func (r *PostgresRepository) UpdateSubscription(ctx context.Context, s *Subscription) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE webhooks
		SET name = $1, url = $2, platform = $3, encrypted_secret = $4,
			events = $5, active = $6, config = $7, updated_at = $8
		WHERE org_id = $9 AND id = $10
	`, s.Name, s.URL, s.Platform, s.EncryptedSecret,
		pq.Array(s.Events), s.Active, configOrEmpty(s), time.Now().UTC(),
		s.OrgID, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription removes a subscription
func (r *PostgresRepository) DeleteSubscription(ctx context.Context, orgID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhooks WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// CreateDelivery records a delivery attempt outcome. A later write for
// the same (webhook, invocation, event) overwrites the earlier row so
// the record reflects the final outcome after retries.
func (r *PostgresRepository) CreateDelivery(ctx context.Context, d *Delivery) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, org_id, invocation_id, event,
			status, status_code, attempts, duration_ms, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (webhook_id, invocation_id, event) DO UPDATE
		SET status = EXCLUDED.status, status_code = EXCLUDED.status_code,
			attempts = EXCLUDED.attempts, duration_ms = EXCLUDED.duration_ms,
			error_message = EXCLUDED.error_message
	`, d.ID, d.WebhookID, d.OrgID, d.InvocationID, d.Event,
		d.Status, d.StatusCode, d.Attempts, d.DurationMS, d.ErrorMessage, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

// HasDelivery reports whether the event was already delivered successfully
func (r *PostgresRepository) HasDelivery(ctx context.Context, webhookID, invocationID, event string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM webhook_deliveries
		WHERE webhook_id = $1 AND invocation_id = $2 AND event = $3 AND status = $4
	`, webhookID, invocationID, event, DeliverySucceeded).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery: %w", err)
	}
	return count > 0, nil
}

// ListDeliveries returns delivery records, newest first. An empty
// webhookID returns deliveries across all of the org's webhooks.
func (r *PostgresRepository) ListDeliveries(ctx context.Context, orgID, webhookID string, limit int) ([]Delivery, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT id, webhook_id, org_id, invocation_id, event,
		       status, status_code, attempts, duration_ms, error_message, created_at
		FROM webhook_deliveries
		WHERE org_id = $1`
	args := []interface{}{orgID}
	if webhookID != "" {
		query += ` AND webhook_id = $2`
		args = append(args, webhookID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.OrgID, &d.InvocationID, &d.Event,
			&d.Status, &d.StatusCode, &d.Attempts, &d.DurationMS, &d.ErrorMessage, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var s Subscription
	var config []byte
	err := row.Scan(&s.ID, &s.OrgID, &s.Name, &s.URL, &s.Platform, &s.EncryptedSecret,
		pq.Array(&s.Events), &s.Active, &config, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}
	if len(config) > 0 {
		s.Config = config
	}
	return &s, nil
}

func configOrEmpty(s *Subscription) []byte {
	if len(s.Config) == 0 {
		return []byte("{}")
	}
	return s.Config
}
