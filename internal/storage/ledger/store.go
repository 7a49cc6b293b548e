// Package ledger persists trading state per account so restarts keep the
// wallet, open positions and the pending book.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
)

// Store JSON state file written atomically via temp file and rename.
type Store struct {
	path string
}

// NewStore creates a state store for account under dir.
func NewStore(dir, account string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("ledger state dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger state dir")
	}

	name := sanitizeScope(account)
	if name == "" {
		name = "default"
	}

	return &Store{path: filepath.Join(dir, fmt.Sprintf("%s.json", name))}, nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// State all persisted trading data.
type State struct {
	Balance    decimal.Decimal            `json:"balance"`
	MarginUsed decimal.Decimal            `json:"margin_used"`
	Open       []domain.Position          `json:"open"`
	Closed     []domain.Position          `json:"closed,omitempty"`
	Pending    []domain.PendingOrder      `json:"pending,omitempty"`
	Marks      map[string]decimal.Decimal `json:"marks,omitempty"`
	SavedAt    time.Time                  `json:"saved_at"`
}

// Load reads state from disk. A missing or empty file yields nil state.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read ledger state")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode ledger state")
	}

	return &state, nil
}

// Save writes state to disk atomically via temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode ledger state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write ledger state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist ledger state")
	}

	return nil
}

// LoadPositions serves the saved state as an account source.
func (s *Store) LoadPositions(ctx context.Context) (domain.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.AccountSnapshot{}, err
	}

	state, err := s.Load()
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	if state == nil {
		return domain.AccountSnapshot{}, nil
	}

	balance := state.Balance
	margin := state.MarginUsed

	return domain.AccountSnapshot{
		Open:       state.Open,
		Closed:     state.Closed,
		Pending:    state.Pending,
		Balance:    &balance,
		MarginUsed: &margin,
		Marks:      state.Marks,
	}, nil
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
