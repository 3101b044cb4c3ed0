// Package clock estimates the backend clock from a single write-then-read round trip.
package clock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"roomsync/internal/backend"
	"roomsync/internal/paths"

	"golang.org/x/sync/singleflight"
)

var ErrNoTimestamp = errors.New("no server timestamp")

type Synchronizer struct {
	paths *paths.Resolver
	now   func() time.Time
	group singleflight.Group

	userID string
	local  int64 // local time of the probe, milliseconds
	remote int64 // server time of the probe, milliseconds
	synced bool
	mu     sync.RWMutex
}

func New(p *paths.Resolver) *Synchronizer {
	return &Synchronizer{paths: p, now: time.Now}
}

// Start captures the server time for userID. It returns at once if the offset is already
// known for that user. Concurrent starts for the same user share one round trip.
func (s *Synchronizer) Start(ctx context.Context, userID string) error {
	s.mu.RLock()
	done := s.synced && s.userID == userID
	s.mu.RUnlock()
	if done {
		return nil
	}

	_, err, _ := s.group.Do(userID, func() (any, error) {
		return nil, s.sync(ctx, userID)
	})
	return err
}

func (s *Synchronizer) sync(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.userID != userID {
		s.synced = false
	}
	s.mu.Unlock()

	ref := s.paths.Clock(userID)
	local := s.now().UnixMilli()

	if err := ref.Set(ctx, backend.ServerTimestamp); err != nil {
		return fmt.Errorf("failed to write clock probe: %w", err)
	}
	snap, err := ref.Once(ctx)
	if err != nil {
		return fmt.Errorf("failed to read clock probe: %w", err)
	}
	remote, ok := backend.Int64(snap.Value)
	if !ok {
		return ErrNoTimestamp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.local = local
	s.remote = remote
	s.synced = true
	return nil
}

// Now returns the estimated server time in milliseconds.
func (s *Synchronizer) Now() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.synced {
		return 0, false
	}
	return s.now().UnixMilli() - s.local + s.remote, true
}

// SecondsSince returns the seconds elapsed since t (milliseconds). Without an estimate
// every timestamp is infinitely old.
func (s *Synchronizer) SecondsSince(t int64) float64 {
	now, ok := s.Now()
	if !ok {
		return math.Inf(1)
	}
	return math.Abs(float64(now-t)) / 1000
}
