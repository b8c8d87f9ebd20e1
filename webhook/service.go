// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"kaizenstudio/platform/invocation"
	"kaizenstudio/platform/shared/keystore"
	"kaizenstudio/platform/shared/logger"
)

// Service owns webhook subscription lifecycle.
type Service struct {
	repo Repository
	keys *keystore.Keystore
	log  *logger.Logger
}

// NewService creates a webhook service.
func NewService(repo Repository, keys *keystore.Keystore, log *logger.Logger) *Service {
	return &Service{repo: repo, keys: keys, log: log}
}

// CreateInput carries the fields for creating a subscription. Secret is
// the plaintext signing secret; it is encrypted before storage.
type CreateInput struct {
	Name     string          `json:"name"`
	URL      string          `json:"url"`
	Platform string          `json:"platform"`
	Secret   string          `json:"secret"`
	Events   []string        `json:"events"`
	Config   json.RawMessage `json:"config"`
}

// UpdateInput carries optional subscription updates.
type UpdateInput struct {
	Name   *string         `json:"name"`
	URL    *string         `json:"url"`
	Secret *string         `json:"secret"`
	Events []string        `json:"events"`
	Active *bool           `json:"active"`
	Config json.RawMessage `json:"config"`
}

// Create validates and stores a subscription.
func (s *Service) Create(ctx context.Context, orgID string, in CreateInput) (*Subscription, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSubscription)
	}
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	platform := in.Platform
	if platform == "" {
		platform = invocation.PlatformCustomHTTP
	}
	if _, err := AdapterFor(platform); err != nil {
		return nil, err
	}
	for _, e := range in.Events {
		if e != EventInvocationCompleted && e != EventInvocationFailed {
			return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidSubscription, e)
		}
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Name:      in.Name,
		URL:       in.URL,
		Platform:  platform,
		Events:    in.Events,
		Active:    true,
		Config:    in.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Secret != "" {
		enc, err := s.keys.EncryptSecret(in.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt signing secret: %w", err)
		}
		sub.EncryptedSecret = enc
	}

	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Get retrieves a subscription.
func (s *Service) Get(ctx context.Context, orgID, id string) (*Subscription, error) {
	return s.repo.GetSubscription(ctx, orgID, id)
}

// List returns the org's subscriptions.
func (s *Service) List(ctx context.Context, orgID string) ([]Subscription, error) {
	return s.repo.ListSubscriptions(ctx, orgID, false)
}

// Update applies partial changes to a subscription.
func (s *Service) Update(ctx context.Context, orgID, id string, in UpdateInput) (*Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		sub.Name = *in.Name
	}
	if in.URL != nil {
		if err := validateURL(*in.URL); err != nil {
			return nil, err
		}
		sub.URL = *in.URL
	}
	if in.Secret != nil {
		if *in.Secret == "" {
			sub.EncryptedSecret = ""
		} else {
			enc, err := s.keys.EncryptSecret(*in.Secret)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt signing secret: %w", err)
			}
			sub.EncryptedSecret = enc
		}
	}
	if in.Events != nil {
		for _, e := range in.Events {
			if e != EventInvocationCompleted && e != EventInvocationFailed {
				return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidSubscription, e)
			}
		}
		sub.Events = in.Events
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
	if in.Config != nil {
		sub.Config = in.Config
	}

	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Delete removes a subscription.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	return s.repo.DeleteSubscription(ctx, orgID, id)
}

// Deliveries returns delivery records for the org, optionally scoped to
// one webhook.
func (s *Service) Deliveries(ctx context.Context, orgID, webhookID string, limit int) ([]Delivery, error) {
	if webhookID != "" {
		if _, err := s.repo.GetSubscription(ctx, orgID, webhookID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListDeliveries(ctx, orgID, webhookID, limit)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidSubscription)
	}
	return nil
}
