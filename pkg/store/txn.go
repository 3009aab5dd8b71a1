package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"threadloom/pkg/models"
)

// Txn batches multiple thread/message writes into one atomic pebble commit.
// The reconcile mutation composes its per-turn writes through a Txn so a
// failure leaves no partial turn behind.
type Txn struct {
	b    *pebble.Batch
	done bool
}

// NewTxn starts a write batch. Callers must Commit or Close it; a deferred
// Close after Commit is a no-op.
func NewTxn() (*Txn, error) {
	if db == nil {
		return nil, notOpened()
	}
	return &Txn{b: db.NewBatch()}, nil
}

// PutThread stages thread metadata into the batch.
func (t *Txn) PutThread(th models.Thread) error {
	b, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("failed to marshal thread: %w", err)
	}
	return t.b.Set(threadMetaKey(th.ID), b, nil)
}

// AppendMessage stages a message at the end of its thread and returns the
// row key it will be stored under. Keys minted inside one batch preserve
// staging order even when the clock does not advance between calls.
func (t *Txn) AppendMessage(m models.Message) (string, error) {
	key := newMessageKey(m.Thread)
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := t.b.Set([]byte(key), b, nil); err != nil {
		return "", err
	}
	return key, nil
}

// PutMessageAt stages an in-place overwrite of an existing message row.
func (t *Txn) PutMessageAt(key string, m models.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return t.b.Set([]byte(key), b, nil)
}

// DeleteRow stages deletion of a message row.
func (t *Txn) DeleteRow(key string) error {
	return t.b.Delete([]byte(key), nil)
}

// Commit applies all staged writes atomically and releases the batch.
func (t *Txn) Commit() error {
	if t.done {
		return fmt.Errorf("txn already finished")
	}
	t.done = true
	defer t.b.Close()
	if err := t.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("batch commit failed: %w", err)
	}
	return nil
}

// Close discards the batch without applying it. Safe to call after Commit.
func (t *Txn) Close() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.b.Close()
}
