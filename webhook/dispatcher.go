// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"kaizenstudio/platform/invocation"
	"kaizenstudio/platform/shared/keystore"
	"kaizenstudio/platform/shared/logger"
)

const (
	// DeliveryTimeout bounds a single delivery attempt.
	DeliveryTimeout = 30 * time.Second

	// maxAttempts is the total number of tries per subscription.
	maxAttempts = 3

	// baseBackoff is the first retry delay; it doubles each attempt.
	baseBackoff = 1 * time.Second

	signatureHeader = "X-Kaizen-Signature"
	eventHeader     = "X-Kaizen-Event"
	deliveryHeader  = "X-Kaizen-Delivery"
)

// InvocationMarker updates the delivery status mirrored on the
// invocation row after fan-out settles.
type InvocationMarker interface {
	UpdateDeliveryStatus(ctx context.Context, invocationID, status string) error
}

// Dispatcher fans terminal invocations out to the org's active
// subscriptions. It implements invocation.Notifier.
type Dispatcher struct {
	repo        Repository
	invocations InvocationMarker
	keys        *keystore.Keystore
	client      *http.Client
	log         *logger.Logger
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(repo Repository, invocations InvocationMarker, keys *keystore.Keystore, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		invocations: invocations,
		keys:        keys,
		client:      &http.Client{Timeout: DeliveryTimeout},
		log:         log,
	}
}

// DeliverInvocation delivers the invocation's terminal event to every
// subscription that accepts it. Failures are recorded per delivery and
// never propagate; the invocation row's webhook_delivery_status is set
// to delivered only when every applicable subscription succeeded.
func (d *Dispatcher) DeliverInvocation(ctx context.Context, agent *invocation.ExternalAgent, inv *invocation.Invocation) {
	event := eventFor(inv)

	subs, err := d.repo.ListSubscriptions(ctx, inv.OrgID, true)
	if err != nil {
		d.log.Error(inv.OrgID, inv.TraceID, "failed to list webhook subscriptions", map[string]interface{}{
			"invocation_id": inv.ID,
			"error":         err.Error(),
		})
		return
	}

	delivered := 0
	failed := 0
	for i := range subs {
		sub := &subs[i]
		if !sub.Accepts(event) {
			continue
		}

		done, err := d.repo.HasDelivery(ctx, sub.ID, inv.ID, event)
		if err == nil && done {
			delivered++
			continue
		}

		if err := d.deliverOne(ctx, sub, agent, inv, event); err != nil {
			failed++
			d.log.Warn(inv.OrgID, inv.TraceID, "webhook delivery failed", map[string]interface{}{
				"webhook_id":    sub.ID,
				"invocation_id": inv.ID,
				"event":         event,
				"error":         err.Error(),
			})
		} else {
			delivered++
		}
	}

	if delivered == 0 && failed == 0 {
		return
	}

	status := invocation.DeliveryDelivered
	if failed > 0 {
		status = invocation.DeliveryFailed
	}
	if err := d.invocations.UpdateDeliveryStatus(ctx, inv.ID, status); err != nil {
		d.log.Warn(inv.OrgID, inv.TraceID, "failed to mark invocation delivery status", map[string]interface{}{
			"invocation_id": inv.ID,
			"error":         err.Error(),
		})
	}
}

// deliverOne formats, signs, and posts one event, retrying with
// exponential backoff, then records the final outcome.
func (d *Dispatcher) deliverOne(ctx context.Context, sub *Subscription, agent *invocation.ExternalAgent, inv *invocation.Invocation, event string) error {
	delivery := &Delivery{
		ID:           uuid.New().String(),
		WebhookID:    sub.ID,
		OrgID:        sub.OrgID,
		InvocationID: inv.ID,
		Event:        event,
		Status:       DeliveryFailed,
		CreatedAt:    time.Now().UTC(),
	}

	adapter, err := AdapterFor(sub.Platform)
	if err != nil {
		delivery.ErrorMessage = err.Error()
		d.recordDelivery(ctx, delivery)
		return err
	}

	body, headers, err := adapter.FormatPayload(sub, agent, inv)
	if err != nil {
		delivery.ErrorMessage = fmt.Sprintf("failed to format payload: %v", err)
		d.recordDelivery(ctx, delivery)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		delivery.Attempts = attempt

		statusCode, err := d.post(ctx, sub, delivery.ID, event, body, headers)
		delivery.StatusCode = statusCode
		if err == nil {
			delivery.Status = DeliverySucceeded
			delivery.ErrorMessage = ""
			break
		}
		lastErr = err
		delivery.ErrorMessage = err.Error()

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				delivery.ErrorMessage = lastErr.Error()
				attempt = maxAttempts
			case <-time.After(backoff(attempt)):
			}
		}
	}
	delivery.DurationMS = time.Since(start).Milliseconds()

	d.recordDelivery(ctx, delivery)

	if delivery.Status != DeliverySucceeded {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
	}
	return nil
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, deliveryID, event string, body []byte, headers map[string]string) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, event)
	req.Header.Set(deliveryHeader, deliveryID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if sub.EncryptedSecret != "" {
		secret, err := d.keys.DecryptSecret(sub.EncryptedSecret)
		if err != nil {
			return 0, fmt.Errorf("failed to decrypt signing secret: %w", err)
		}
		req.Header.Set(signatureHeader, Sign(secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) recordDelivery(ctx context.Context, delivery *Delivery) {
	if err := d.repo.CreateDelivery(ctx, delivery); err != nil {
		d.log.Warn(delivery.OrgID, "", "failed to record webhook delivery", map[string]interface{}{
			"webhook_id":    delivery.WebhookID,
			"invocation_id": delivery.InvocationID,
			"error":         err.Error(),
		})
	}
}

// Sign computes the sha256= HMAC signature consumers verify against.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// backoff returns 1s, 2s, 4s for attempts 1..3 with up to 250ms of
// jitter to avoid thundering retries.
func backoff(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(250*time.Millisecond)))
}
