// Package subscriptions keeps the set of strategies the user has switched on.
package subscriptions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/fxdesk/internal/domain"
)

// Store strategy id -> subscribed flag, saved as a JSON object.
type Store struct {
	path string

	mu   sync.RWMutex
	subs map[string]bool
}

// Open loads the set from path. A missing file starts empty. An empty path
// keeps the set in memory only.
func Open(path string) (*Store, error) {
	s := &Store{path: path, subs: make(map[string]bool)}
	if path == "" {
		return s, nil
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, errors.Wrap(err, "read subscriptions")
	}
	if len(payload) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(payload, &s.subs); err != nil {
		return nil, errors.Wrap(err, "decode subscriptions")
	}
	if s.subs == nil {
		s.subs = make(map[string]bool)
	}

	return s, nil
}

// Subscribe switches id on.
func (s *Store) Subscribe(id string) error { return s.Set(id, true) }

// Unsubscribe switches id off.
func (s *Store) Unsubscribe(id string) error { return s.Set(id, false) }

// Set stores the flag for id and saves the file. The in-memory set is
// rolled back when saving fails.
func (s *Store) Set(id string, subscribed bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Validationf("strategy id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.subs[id]
	s.subs[id] = subscribed

	if err := s.saveLocked(); err != nil {
		if existed {
			s.subs[id] = prev
		} else {
			delete(s.subs, id)
		}
		return err
	}

	return nil
}

// IsSubscribed reports the flag for id.
func (s *Store) IsSubscribed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.subs[id]
}

// AnyActive reports whether at least one strategy is on.
func (s *Store) AnyActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, on := range s.subs {
		if on {
			return true
		}
	}
	return false
}

// All returns a copy of the set.
func (s *Store) All() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.subs))
	for id, on := range s.subs {
		out[id] = on
	}
	return out
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create subscriptions dir")
	}

	payload, err := json.MarshalIndent(s.subs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode subscriptions")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write subscriptions temp file")
	}

	return errors.Wrap(os.Rename(tmp, s.path), "persist subscriptions")
}
