package snapshot

import (
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"
)

func TestWriteAndPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	w, err := Open(path, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	for i := int64(1); i <= 3; i++ {
		if err := w.Write(Stats{TimestampMs: i, ClientsConnected: int(i)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	err = w.db.View(func(tx *bbolt.Tx) error {
		count := tx.Bucket(statsBucket).Stats().KeyN
		if count != 2 {
			t.Errorf("expected 2 entries retained after pruning, got %d", count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestOpenRejectsMissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stats.db")
	if _, err := Open(path, 10); err == nil {
		t.Fatal("expected error opening snapshot file under a missing parent directory")
	}
}
