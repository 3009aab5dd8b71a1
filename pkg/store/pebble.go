package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"threadloom/pkg/logger"
	"threadloom/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

// seq provides a small counter to reduce key collisions when multiple
// messages share the same nanosecond timestamp. It also fixes insertion
// order inside one batch, where every append sees the same clock reading.
var seq uint64

var (
	ErrThreadNotFound  = errors.New("thread not found")
	ErrMessageNotFound = errors.New("message not found")
)

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

func threadMetaKey(threadID string) []byte {
	return []byte("thread:" + threadID + ":meta")
}

func messagePrefix(threadID string) []byte {
	return []byte("thread:" + threadID + ":msg:")
}

// newMessageKey mints a row key whose lexical order is creation order:
// thread:<id>:msg:<zero-padded unix_nano>-<zero-padded seq>.
func newMessageKey(threadID string) string {
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("thread:%s:msg:%020d-%06d", threadID, ts, s)
}

// PutThread stores thread metadata under its reserved key.
func PutThread(th models.Thread) error {
	if db == nil {
		return notOpened()
	}
	b, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("failed to marshal thread: %w", err)
	}
	if err := db.Set(threadMetaKey(th.ID), b, pebble.Sync); err != nil {
		logger.Error("put_thread_failed", "thread", th.ID, "error", err)
		return err
	}
	return nil
}

// GetThread returns the stored thread for the given ID, or ErrThreadNotFound.
func GetThread(threadID string) (models.Thread, error) {
	var th models.Thread
	if db == nil {
		return th, notOpened()
	}
	v, closer, err := db.Get(threadMetaKey(threadID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return th, ErrThreadNotFound
		}
		return th, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &th); err != nil {
		return th, fmt.Errorf("invalid thread metadata: %w", err)
	}
	return th, nil
}

// DeleteThread removes thread metadata. Dependent messages are not cascaded;
// callers own that cleanup.
func DeleteThread(threadID string) error {
	if db == nil {
		return notOpened()
	}
	if err := db.Delete(threadMetaKey(threadID), pebble.Sync); err != nil {
		logger.Error("delete_thread_failed", "thread", threadID, "error", err)
		return err
	}
	logger.Info("thread_deleted", "thread", threadID)
	return nil
}

// ListThreadsByAuthor returns all threads owned by the given author,
// most recently updated first.
func ListThreadsByAuthor(author string) ([]models.Thread, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("thread:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			continue
		}
		if th.Author != author {
			continue
		}
		out = append(out, th)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })
	return out, nil
}

// ListThreads returns every stored thread, in key order. Used by sweeps
// that must look across authors.
func ListThreads() ([]models.Thread, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("thread:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			continue
		}
		out = append(out, th)
	}
	return out, iter.Error()
}

// MessageRecord pairs a stored message with the row key it lives under.
// Edit truncation needs the key to delete or overwrite rows in place.
type MessageRecord struct {
	Key string
	Msg models.Message
}

// AppendMessage writes a message to the end of its thread and returns the
// row key it was stored under.
func AppendMessage(m models.Message) (string, error) {
	if db == nil {
		return "", notOpened()
	}
	key := newMessageKey(m.Thread)
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(key), b, pebble.Sync); err != nil {
		logger.Error("append_message_failed", "thread", m.Thread, "key", key, "error", err)
		return "", err
	}
	return key, nil
}

// ListMessageRecords returns all messages for a thread in insertion order,
// each with its row key.
func ListMessageRecords(threadID string) ([]MessageRecord, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := messagePrefix(threadID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []MessageRecord
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_invalid_message_row", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, MessageRecord{Key: string(iter.Key()), Msg: m})
	}
	return out, iter.Error()
}

// ListMessages returns all messages for a thread in insertion order.
func ListMessages(threadID string) ([]models.Message, error) {
	recs, err := ListMessageRecords(threadID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Msg)
	}
	return out, nil
}

// GetMessage scans a thread for the message with the given durable id.
func GetMessage(threadID, messageID string) (MessageRecord, error) {
	recs, err := ListMessageRecords(threadID)
	if err != nil {
		return MessageRecord{}, err
	}
	for _, r := range recs {
		if r.Msg.ID == messageID {
			return r, nil
		}
	}
	return MessageRecord{}, ErrMessageNotFound
}

// PutMessageAt overwrites the message stored at the given row key, keeping
// its position in the thread's order.
func PutMessageAt(key string, m models.Message) error {
	if db == nil {
		return notOpened()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return db.Set([]byte(key), b, pebble.Sync)
}
