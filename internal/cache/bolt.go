package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const boltBucket = "adjudicator_verdicts"

// BoltStore is a Store backed by an embedded bbolt database. Entries
// survive process restarts.
type BoltStore struct {
	db        *bolt.DB
	staleness time.Duration
	logger    *zap.Logger
	stats     counters
}

// OpenBolt opens (or creates) the database at path and ensures the bucket
// exists.
func OpenBolt(path string, staleness time.Duration, logger *zap.Logger) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bbolt cache requires a path")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	logger.Info("Verdict cache opened",
		zap.String("backend", "bbolt"),
		zap.String("path", path),
		zap.Duration("staleness", staleness))

	return &BoltStore{db: db, staleness: staleness, logger: logger}, nil
}

func (b *BoltStore) Get(_ context.Context, key string) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		if bucket == nil {
			return nil
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		b.logger.Warn("bbolt cache read failed", zap.Error(err))
		b.stats.misses.Add(1)
		return Entry{}, false, err
	}

	entry, ok := b.stats.lookup(entry, found, b.staleness, time.Now())
	return entry, ok, nil
}

func (b *BoltStore) Put(_ context.Context, key string, entry Entry) error {
	data, err := json.Marshal(stamp(entry))
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", boltBucket)
		}
		return bucket.Put([]byte(key), data)
	})
}

// Prune deletes entries older than the staleness window and returns how
// many were removed.
func (b *BoltStore) Prune() (int, error) {
	cutoff := time.Now().Add(-b.staleness)
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		if bucket == nil {
			return nil
		}
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil || entry.CachedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (b *BoltStore) Stats() Stats { return b.stats.snapshot("bbolt") }

func (b *BoltStore) Flush() error {
	return b.db.Sync()
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
