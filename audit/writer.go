// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kaizenstudio/platform/shared/logger"
)

// Sink receives flushed batches. *Store satisfies it.
type Sink interface {
	InsertBatch(ctx context.Context, entries []*Entry) error
}

// Writer queues entries and flushes them in batches, either when the
// batch fills or on the flush interval. Enqueue never blocks: when the
// queue is full the entry is dropped and counted.
type Writer struct {
	sink          Sink
	log           *logger.Logger
	queue         chan *Entry
	batchSize     int
	flushInterval time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}

	mu      sync.Mutex
	dropped int64
}

// NewWriter creates and starts an audit writer.
func NewWriter(sink Sink, log *logger.Logger) *Writer {
	w := &Writer{
		sink:          sink,
		log:           log,
		queue:         make(chan *Entry, 10000),
		batchSize:     100,
		flushInterval: 5 * time.Second,
		stop:          make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Record enqueues an entry. Never blocks and never fails the caller.
func (w *Writer) Record(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	select {
	case w.queue <- e:
	default:
		w.mu.Lock()
		w.dropped++
		dropped := w.dropped
		w.mu.Unlock()
		w.log.Warn(e.OrgID, e.RequestID, "audit queue full, entry dropped",
			map[string]interface{}{"dropped_total": dropped})
	}
}

// Dropped returns how many entries were lost to queue pressure.
func (w *Writer) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close flushes what is queued and stops the worker.
func (w *Writer) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := w.sink.InsertBatch(ctx, batch); err != nil {
			w.log.Error("", "", "audit batch write failed",
				map[string]interface{}{"batch_size": len(batch), "error": err.Error()})
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stop:
			// Drain whatever arrived before the stop signal.
			for {
				select {
				case e := <-w.queue:
					batch = append(batch, e)
					if len(batch) >= w.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
