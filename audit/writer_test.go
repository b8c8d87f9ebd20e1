// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaizenstudio/platform/shared/logger"
)

type memSink struct {
	mu      sync.Mutex
	entries []*Entry
	err     error
}

func (m *memSink) InsertBatch(_ context.Context, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestWriterFlushesOnClose(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, logger.New("audit-test"))

	for i := 0; i < 7; i++ {
		w.Record(&Entry{OrgID: "org-1", Action: "create", ResourceType: "agents", Status: StatusSuccess})
	}
	w.Close()

	assert.Equal(t, 7, sink.count())
	assert.EqualValues(t, 0, w.Dropped())
}

func TestWriterFillsIDAndTimestamp(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, logger.New("audit-test"))

	w.Record(&Entry{OrgID: "org-1", Action: "delete", ResourceType: "api_keys", Status: StatusSuccess})
	w.Close()

	require.Equal(t, 1, sink.count())
	got := sink.entries[0]
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestWriterSinkFailureDoesNotPropagate(t *testing.T) {
	sink := &memSink{err: assert.AnError}
	w := NewWriter(sink, logger.New("audit-test"))

	// Record must not panic or block even though every flush fails.
	for i := 0; i < 150; i++ {
		w.Record(&Entry{OrgID: "org-1", Action: "update", ResourceType: "policies", Status: StatusFailure})
	}
	w.Close()
	assert.Equal(t, 0, sink.count())
}

func TestWriterBatchesLargeBursts(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, logger.New("audit-test"))

	for i := 0; i < 250; i++ {
		w.Record(&Entry{OrgID: "org-1", Action: "create", ResourceType: "pipelines", Status: StatusSuccess})
	}
	w.Close()
	assert.Equal(t, 250, sink.count())
}
