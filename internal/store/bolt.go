package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTables = []byte("gp_tables")
	bucketEvents = []byte("events")
)

// DefaultMaxEvents bounds the event history.
const DefaultMaxEvents = 1000

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db        *bolt.DB
	maxEvents int
	logger    *slog.Logger
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string, logger *slog.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTables, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db, maxEvents: DefaultMaxEvents, logger: logger.With("component", "store")}, nil
}

// SetMaxEvents changes the history bound. Values below 1 disable history.
func (s *BoltStore) SetMaxEvents(n int) { s.maxEvents = n }

func tableKey(module, item string) []byte {
	return []byte(module + "/" + item)
}

func (s *BoltStore) LoadTable(module, item string) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTables)
		}
		data := b.Get(tableKey(module, item))
		if data == nil {
			return nil
		}
		var err error
		blob, err = decodeEnvelope(module, item, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *BoltStore) SaveTable(module, item string, blob []byte) error {
	data, err := encodeEnvelope(module, item, blob)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", module, item, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTables)
		}
		return b.Put(tableKey(module, item), data)
	})
	if err == nil {
		s.logger.Debug("table saved", "module", module, "item", item, "bytes", len(blob))
	}
	return err
}

func (s *BoltStore) DeleteTable(module, item string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTables)
		}
		key := tableKey(module, item)
		if b.Get(key) == nil {
			return fmt.Errorf("table %s/%s: %w", module, item, ErrNotFound)
		}
		return b.Delete(key)
	})
}

// AppendEvent stores ev under the next sequence number and drops the
// oldest records beyond the history bound.
func (s *BoltStore) AppendEvent(ev *EventRecord) error {
	if s.maxEvents < 1 {
		return nil
	}
	data, err := encMode.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketEvents)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(binary.BigEndian.AppendUint64(nil, seq), data); err != nil {
			return err
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys[:max(len(keys)-s.maxEvents, 0)] {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentEvents returns up to limit of the newest events, oldest first.
// A limit below 1 returns the whole history.
func (s *BoltStore) RecentEvents(limit int) ([]*EventRecord, error) {
	var events []*EventRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil // no bucket = no events
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && (limit < 1 || len(events) < limit); k, v = c.Prev() {
			var ev EventRecord
			if err := decMode.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("decode event %X: %w", k, err)
			}
			events = append(events, &ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
