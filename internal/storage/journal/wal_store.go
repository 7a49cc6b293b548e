// Package journal persists append-only engine records (wallet snapshots, trade
// events) in a write-ahead log for recovery and streaming.
package journal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	segmentLimit = 1000
	maxSegments  = 100
)

// Record a decoded entry with its WAL index.
type Record[T any] struct {
	Index uint64
	Value T
}

// WALStore appends JSON-encoded values of one kind to a WAL. Keys are
// prefixed so several kinds can be told apart when reading back.
type WALStore[T any] struct {
	wal       *gowal.Wal
	keyPrefix string
	mu        sync.RWMutex
}

// NewWALStore initializes a WAL-backed store under dir.
func NewWALStore[T any](dir, keyPrefix string) (*WALStore[T], error) {
	if dir == "" {
		return nil, errors.New("journal dir is required")
	}
	if keyPrefix == "" {
		return nil, errors.New("journal key prefix is required")
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "segment_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "init %s WAL", strings.TrimSuffix(keyPrefix, "_"))
	}

	return &WALStore[T]{wal: wal, keyPrefix: keyPrefix}, nil
}

// Append writes value under key and returns its index.
func (s *WALStore[T]) Append(key string, value T) (uint64, error) {
	if s == nil || s.wal == nil {
		return 0, errors.New("journal is not initialized")
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return 0, errors.Wrap(err, "marshal journal record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, s.keyPrefix+key, payload); err != nil {
		return 0, errors.Wrap(err, "write journal record")
	}

	return nextIndex, nil
}

// After returns all records written after the provided WAL index.
func (s *WALStore[T]) After(index uint64) ([]Record[T], error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record[T], 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "read journal record %d", idx)
		}
		// an empty key means the index was rotated out
		if !strings.HasPrefix(key, s.keyPrefix) {
			continue
		}
		var value T
		if err := json.Unmarshal(payload, &value); err != nil {
			return nil, errors.Wrapf(err, "decode journal record %d", idx)
		}
		records = append(records, Record[T]{Index: idx, Value: value})
	}

	return records, nil
}

// Last returns the most recent record, if any.
func (s *WALStore[T]) Last() (Record[T], bool, error) {
	if s == nil || s.wal == nil {
		return Record[T]{}, false, errors.New("journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for idx := s.wal.CurrentIndex(); idx > 0; idx-- {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			return Record[T]{}, false, errors.Wrapf(err, "read journal record %d", idx)
		}
		if key == "" {
			// older segments were rotated out
			break
		}
		if !strings.HasPrefix(key, s.keyPrefix) {
			continue
		}
		var value T
		if err := json.Unmarshal(payload, &value); err != nil {
			return Record[T]{}, false, errors.Wrapf(err, "decode journal record %d", idx)
		}
		return Record[T]{Index: idx, Value: value}, true, nil
	}

	return Record[T]{}, false, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore[T]) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore[T]) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
