// Package session bundles the collaborators every room of one signed-in user shares.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"roomsync/internal/backend"
	"roomsync/internal/clock"
	"roomsync/internal/config"
	"roomsync/internal/events"
	"roomsync/internal/layout"
	"roomsync/internal/models"
	"roomsync/internal/paths"
	"roomsync/internal/users"
)

// Clock is the part of the clock synchronizer rooms read.
type Clock interface {
	Now() (int64, bool)
	SecondsSince(t int64) float64
}

// Visibility reports whether the application is in the background.
type Visibility interface {
	Hidden() bool
}

// VisibilityFlag is a settable Visibility.
type VisibilityFlag struct {
	hidden atomic.Bool
}

func (v *VisibilityFlag) Hidden() bool {
	return v.hidden.Load()
}

func (v *VisibilityFlag) SetHidden(hidden bool) {
	v.hidden.Store(hidden)
}

type Session struct {
	Config     config.SyncConfig
	Paths      *paths.Resolver
	Clock      Clock
	Users      *users.Directory
	Blocked    *users.BlockList
	Presence   *users.Presence
	Bus        *events.Bus
	Layout     layout.Manager
	Visibility Visibility

	sync *clock.Synchronizer
}

// New wires a session for current on db with in-memory layout and visibility.
func New(db backend.Backend, current models.User, cfg config.SyncConfig) *Session {
	p := paths.New(db)
	bus := events.NewBus()
	dir := users.NewDirectory(current, bus)
	sync := clock.New(p)

	return &Session{
		Config:     cfg,
		Paths:      p,
		Clock:      sync,
		Users:      dir,
		Blocked:    users.NewBlockList(),
		Presence:   users.NewPresence(p, dir),
		Bus:        bus,
		Layout:     layout.NewSlots(),
		Visibility: &VisibilityFlag{},
		sync:       sync,
	}
}

func (s *Session) UserID() string {
	return s.Users.CurrentUserID()
}

// Start synchronises the clock, publishes presence and starts mirroring online users.
// The returned function stops the mirroring.
func (s *Session) Start(ctx context.Context) (func(), error) {
	if s.sync != nil {
		err := s.WithRefresh(ctx, func(ctx context.Context) error {
			return s.sync.Start(ctx, s.UserID())
		})
		if err != nil {
			return nil, fmt.Errorf("failed to synchronise clock: %w", err)
		}
	}
	if err := s.Presence.Update(ctx); err != nil {
		return nil, err
	}
	return s.Users.Watch(ctx, s.Paths)
}

// WithRefresh runs op and, if it fails, refreshes presence and runs it exactly once more.
// A cancelled or expired ctx is returned as is.
func (s *Session) WithRefresh(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	slog.Warn("write failed, refreshing session", "user", s.UserID(), "error", err)

	if rerr := s.Presence.Update(ctx); rerr != nil {
		slog.Error("failed to refresh session", "user", s.UserID(), "error", rerr)
	}
	return op(ctx)
}
