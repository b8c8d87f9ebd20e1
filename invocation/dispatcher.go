// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"kaizenstudio/platform/shared/keystore"
)

// DefaultDispatchTimeout bounds the upstream call.
const DefaultDispatchTimeout = 30 * time.Second

// maxResponseBytes caps how much of the upstream body is retained.
const maxResponseBytes = 1 << 20

// credentials is the decrypted shape stored per agent.
type credentials struct {
	Token      string `json:"token,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	HeaderName string `json:"header_name,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// DispatchResult is the upstream outcome.
type DispatchResult struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Dispatcher sends the invocation payload to the agent's upstream
// endpoint with the agent's auth scheme. Credentials are decrypted per
// call and never retained.
type Dispatcher struct {
	client *http.Client
	keys   *keystore.Keystore
}

// NewDispatcher creates a dispatcher with the default timeout.
func NewDispatcher(keys *keystore.Keystore) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: DefaultDispatchTimeout},
		keys:   keys,
	}
}

// Dispatch posts the payload to the agent endpoint. Transport errors are
// wrapped in ErrDispatchFailed; an HTTP error status from upstream is a
// result, not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, agent *ExternalAgent, payload []byte) (*DispatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.EndpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := d.applyAuth(req, agent); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrDispatchFailed, err)
	}

	return &DispatchResult{
		StatusCode: resp.StatusCode,
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

func (d *Dispatcher) applyAuth(req *http.Request, agent *ExternalAgent) error {
	if agent.AuthType == AuthNone || agent.AuthType == "" {
		return nil
	}

	plaintext, err := d.keys.DecryptCredential(agent.EncryptedCredentials)
	if err != nil {
		return fmt.Errorf("%w: decrypting credentials: %v", ErrDispatchFailed, err)
	}
	var creds credentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return fmt.Errorf("%w: parsing credentials: %v", ErrDispatchFailed, err)
	}

	switch agent.AuthType {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	case AuthAPIKey:
		header := creds.HeaderName
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, creds.APIKey)
	case AuthBasic:
		req.SetBasicAuth(creds.Username, creds.Password)
	default:
		return ErrInvalidAuthType
	}
	return nil
}
