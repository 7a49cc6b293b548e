// Package wallet keeps the local account figures in step with the remote wallet service.
package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"go.uber.org/zap"
)

// DefaultInterval between sync cycles.
const DefaultInterval = 10 * time.Second

// Fetcher reads wallet figures from the remote service.
type Fetcher interface {
	FetchBalance(ctx context.Context, userID string) (domain.WalletSnapshot, error)
	FetchAccount(ctx context.Context) (domain.WalletSnapshot, error)
}

// Sink receives every successful snapshot, normally the trading store.
type Sink interface {
	ApplyWalletSnapshot(snap domain.WalletSnapshot)
}

// Journal persists snapshots.
type Journal interface {
	Append(key string, snap domain.WalletSnapshot) (uint64, error)
}

// Publisher notifies live readers.
type Publisher interface {
	Publish(rec domain.WalletSnapshotRecord)
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithUserID sets the resolver for the unauthenticated balance endpoint.
// An empty result skips that endpoint.
func WithUserID(fn func() string) Option {
	return func(s *Synchronizer) { s.userID = fn }
}

// WithJournal appends every applied snapshot.
func WithJournal(j Journal) Option {
	return func(s *Synchronizer) { s.journal = j }
}

// WithPublisher broadcasts every applied snapshot.
func WithPublisher(p Publisher) Option {
	return func(s *Synchronizer) { s.publisher = p }
}

// Synchronizer polls the wallet service and applies the figures locally.
type Synchronizer struct {
	fetcher   Fetcher
	sink      Sink
	journal   Journal
	publisher Publisher
	userID    func() string
	interval  time.Duration
	logger    *zap.Logger

	mu       sync.RWMutex
	snapshot domain.WalletSnapshot
	synced   bool

	runMu    sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewSynchronizer creates a synchronizer. sink may be nil.
func NewSynchronizer(fetcher Fetcher, sink Sink, logger *zap.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Synchronizer{
		fetcher:  fetcher,
		sink:     sink,
		userID:   func() string { return "" },
		interval: DefaultInterval,
		logger:   logger.With(zap.String("component", "wallet")),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run syncs once immediately and then on every interval until ctx is done or
// Stop is called. Cycle failures are logged.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.done != nil {
		s.runMu.Unlock()
		return errors.New("wallet synchronizer already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.runMu.Unlock()

	defer close(done)
	defer cancel()

	s.logger.Info("wallet sync started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("wallet sync failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("wallet sync stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop cancels Run and waits for it to return. Safe to call more than once
// and before Run.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		s.runMu.Lock()
		cancel, done := s.cancel, s.done
		if done == nil {
			// prevent a later Run from starting
			s.done = make(chan struct{})
			close(s.done)
		}
		s.runMu.Unlock()

		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
	})
}

// SyncOnce runs a single cycle. When both endpoints fail the previous
// snapshot is left as is and an ErrTransport error is returned.
func (s *Synchronizer) SyncOnce(ctx context.Context) (domain.WalletSnapshot, error) {
	snap, err := s.fetch(ctx)
	if err != nil {
		return domain.WalletSnapshot{}, err
	}

	s.mu.Lock()
	changed := !s.synced || !s.snapshot.SameFigures(snap)
	s.snapshot = snap
	s.synced = true
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.ApplyWalletSnapshot(snap)
	}

	var idx uint64
	if s.journal != nil {
		idx, err = s.journal.Append("wallet", snap)
		if err != nil {
			s.logger.Warn("failed to journal wallet snapshot", zap.Error(err))
		}
	}

	if s.publisher != nil {
		s.publisher.Publish(domain.WalletSnapshotRecord{Index: idx, Snapshot: snap})
	}

	fields := []zap.Field{
		zap.String("balance", snap.Balance.String()),
		zap.String("equity", snap.Equity.String()),
		zap.String("margin_used", snap.MarginUsed.String()),
	}
	if changed {
		s.logger.Info("wallet figures changed", fields...)
	} else {
		s.logger.Debug("wallet synced", fields...)
	}

	return snap, nil
}

func (s *Synchronizer) fetch(ctx context.Context) (domain.WalletSnapshot, error) {
	var balanceErr error
	if userID := s.userID(); userID != "" {
		snap, err := s.fetcher.FetchBalance(ctx, userID)
		if err == nil {
			return snap, nil
		}
		balanceErr = err
		s.logger.Debug("balance endpoint failed, trying account", zap.Error(err))
	}

	snap, err := s.fetcher.FetchAccount(ctx)
	if err == nil {
		return snap, nil
	}

	if balanceErr != nil {
		return domain.WalletSnapshot{}, errors.Wrapf(domain.ErrTransport, "balance: %v; account: %v", balanceErr, err)
	}

	return domain.WalletSnapshot{}, errors.Wrapf(domain.ErrTransport, "account: %v", err)
}
