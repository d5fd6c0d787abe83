// Package timesync maintains an adjusted clock: local wall time corrected by
// the measured drift against the platform's authoritative time endpoint.
package timesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeSyncUnavailable is returned when the platform time endpoint cannot
// be reached. Callers keep the last-known drift and proceed; codes tolerate
// small skew.
var ErrTimeSyncUnavailable = errors.New("time sync unavailable")

// Remote fetches the platform's authoritative time.
type Remote interface {
	ServerTime(ctx context.Context) (int64, error)
}

// Source is an adjusted-clock provider. Drift is fetched lazily on the first
// Aligned call and cached for the life of the process; Resync forces a
// refetch, typically after an auth failure consistent with clock skew.
type Source struct {
	remote Remote
	local  func() int64

	drift  atomic.Int64
	synced atomic.Bool
	mu     sync.Mutex
}

// New creates a Source backed by the given remote. A nil remote yields a
// source that reports local time with zero drift and fails Resync.
func New(remote Remote) *Source {
	return &Source{
		remote: remote,
		local:  func() int64 { return time.Now().Unix() },
	}
}

// NewFixed creates a Source pinned to a constant adjusted time. Intended for
// deterministic tests.
func NewFixed(at int64) *Source {
	s := &Source{local: func() int64 { return at }}
	s.synced.Store(true)
	return s
}

// Now returns the adjusted time in seconds since epoch.
func (s *Source) Now() int64 {
	return s.local() + s.drift.Load()
}

// Synced reports whether a drift measurement has been taken.
func (s *Source) Synced() bool {
	return s.synced.Load()
}

// Aligned returns the adjusted time, measuring drift first if that has not
// happened yet. When the measurement fails the zero drift is kept and the
// local time is returned alongside the error.
func (s *Source) Aligned(ctx context.Context) (int64, error) {
	if s.synced.Load() {
		return s.Now(), nil
	}
	if err := s.Resync(ctx); err != nil {
		return s.Now(), err
	}
	return s.Now(), nil
}

// Resync refetches the drift from the platform time endpoint. On failure the
// previously cached drift remains in effect.
func (s *Source) Resync(ctx context.Context) error {
	if s.remote == nil {
		return ErrTimeSyncUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	server, err := s.remote.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeSyncUnavailable, err)
	}

	s.drift.Store(server - s.local())
	s.synced.Store(true)
	return nil
}
