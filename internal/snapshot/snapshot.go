// Package snapshot writes a bounded, append-only trail of broker counters
// to a bbolt file for offline inspection. It is a write-only diagnostic aid,
// never read back by the broker core: the counters it records cannot
// reconstruct session or subscription state, so it does not provide the
// durability the design's Non-goals explicitly exclude.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"
)

var statsBucket = []byte("stats")

// Stats is one point-in-time sample of broker counters.
type Stats struct {
	TimestampMs         int64 `json:"ts_ms"`
	ClientsConnected    int   `json:"clients_connected"`
	SubscriptionsActive int   `json:"subscriptions_active"`
	MessageSlotsInUse   int   `json:"message_slots_in_use"`
	DeliveriesInflight  int   `json:"deliveries_inflight"`
	DeliveriesExpired   int64 `json:"deliveries_expired"`
}

// Writer appends Stats samples to a bbolt file, pruning entries once the
// bucket holds more than maxEntries.
type Writer struct {
	db         *bbolt.DB
	maxEntries int
}

// Open creates or opens the snapshot file at path and ensures its bucket
// exists. maxEntries bounds how many samples are retained; once exceeded,
// the oldest entries are pruned on the next write.
func Open(path string, maxEntries int) (*Writer, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(statsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: init bucket: %w", err)
	}

	return &Writer{db: db, maxEntries: maxEntries}, nil
}

// Write appends one Stats sample keyed by its timestamp, then prunes the
// oldest entries beyond maxEntries.
func (w *Writer) Write(s Stats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("snapshot: marshal stats: %w", err)
	}

	return w.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(statsBucket)
		key := []byte(strconv.FormatInt(s.TimestampMs, 10))
		if err := bucket.Put(key, data); err != nil {
			return err
		}
		return prune(bucket, w.maxEntries)
	})
}

func prune(bucket *bbolt.Bucket, maxEntries int) error {
	if maxEntries <= 0 {
		return nil
	}
	count := bucket.Stats().KeyN
	if count <= maxEntries {
		return nil
	}

	cursor := bucket.Cursor()
	toDrop := count - maxEntries
	for k, _ := cursor.First(); k != nil && toDrop > 0; k, _ = cursor.Next() {
		if err := cursor.Delete(); err != nil {
			return err
		}
		toDrop--
	}
	return nil
}

// Close closes the underlying bbolt file.
func (w *Writer) Close() error {
	return w.db.Close()
}
