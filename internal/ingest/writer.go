// Package ingest buffers attribution credits on their way to the result
// store.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"example.com/attribution/internal/domain"
	"example.com/attribution/internal/idempotency"

	log "github.com/sirupsen/logrus"
)

const DefaultBatchMaxSize = 500

// Sink is the idempotent result store.
type Sink interface {
	InsertCredits(ctx context.Context, credits []domain.Credit) (int64, error)
}

// Writer collects credits, drops repeated (conv_id, session_id) keys and
// writes them in batches of at most batchMaxSize.
type Writer struct {
	mu           sync.Mutex
	sink         Sink
	batchMaxSize int
	batch        []domain.Credit
	seen         map[string]struct{}
	inserted     int64
	duplicates   int
}

func NewWriter(sink Sink, batchMaxSize int) *Writer {
	if batchMaxSize <= 0 {
		batchMaxSize = DefaultBatchMaxSize
	}
	return &Writer{
		sink:         sink,
		batchMaxSize: batchMaxSize,
		batch:        make([]domain.Credit, 0, batchMaxSize),
		seen:         make(map[string]struct{}),
	}
}

// Add buffers credits, flushing each time the batch fills up.
func (w *Writer) Add(ctx context.Context, credits ...domain.Credit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range credits {
		k := idempotency.CreditKey(c.ConvID, c.SessionID)
		if _, ok := w.seen[k]; ok {
			w.duplicates++
			continue
		}
		w.seen[k] = struct{}{}
		w.batch = append(w.batch, c)
		if len(w.batch) >= w.batchMaxSize {
			if err := w.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes whatever is buffered. A failed batch stays buffered.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush(ctx)
}

func (w *Writer) flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	affected, err := w.sink.InsertCredits(ctx, w.batch)
	if err != nil {
		log.WithError(err).WithField("size", len(w.batch)).Error("Credit batch insert failed.")
		return fmt.Errorf("insert credits: %w", err)
	}
	log.WithFields(log.Fields{"inserted": affected, "size": len(w.batch)}).Debug("Credit batch inserted.")
	w.inserted += affected
	w.batch = w.batch[:0]
	return nil
}

// Inserted is the number of rows the sink reported as new.
func (w *Writer) Inserted() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inserted
}

// Duplicates is the number of credits dropped before reaching the sink.
func (w *Writer) Duplicates() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.duplicates
}
