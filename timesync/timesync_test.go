package timesync

import (
	"context"
	"errors"
	"testing"
)

type fakeRemote struct {
	serverTime int64
	err        error
	calls      int
}

func (r *fakeRemote) ServerTime(context.Context) (int64, error) {
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	return r.serverTime, nil
}

func fixedLocal(s *Source, at int64) {
	s.local = func() int64 { return at }
}

func TestAlignedMeasuresDriftOnce(t *testing.T) {
	remote := &fakeRemote{serverTime: 1700000045}
	src := New(remote)
	fixedLocal(src, 1700000000)

	now, err := src.Aligned(context.Background())
	if err != nil {
		t.Fatalf("Aligned failed: %v", err)
	}
	if now != 1700000045 {
		t.Fatalf("expected adjusted time 1700000045, got %d", now)
	}

	if _, err := src.Aligned(context.Background()); err != nil {
		t.Fatalf("second Aligned failed: %v", err)
	}
	if remote.calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", remote.calls)
	}
}

func TestResyncFailureKeepsLastDrift(t *testing.T) {
	remote := &fakeRemote{serverTime: 1700000100}
	src := New(remote)
	fixedLocal(src, 1700000000)

	if err := src.Resync(context.Background()); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if src.Now() != 1700000100 {
		t.Fatalf("expected 1700000100, got %d", src.Now())
	}

	remote.err = errors.New("connection reset")
	err := src.Resync(context.Background())
	if !errors.Is(err, ErrTimeSyncUnavailable) {
		t.Fatalf("expected ErrTimeSyncUnavailable, got %v", err)
	}
	if src.Now() != 1700000100 {
		t.Fatalf("drift changed after failed resync: %d", src.Now())
	}
	if !src.Synced() {
		t.Fatal("expected source to stay synced after failed resync")
	}
}

func TestAlignedFailureFallsBackToLocalTime(t *testing.T) {
	remote := &fakeRemote{err: errors.New("timeout")}
	src := New(remote)
	fixedLocal(src, 1700000000)

	now, err := src.Aligned(context.Background())
	if !errors.Is(err, ErrTimeSyncUnavailable) {
		t.Fatalf("expected ErrTimeSyncUnavailable, got %v", err)
	}
	if now != 1700000000 {
		t.Fatalf("expected zero-drift fallback 1700000000, got %d", now)
	}
	if src.Synced() {
		t.Fatal("source must not report synced after failure")
	}
}

func TestNilRemote(t *testing.T) {
	src := New(nil)
	fixedLocal(src, 42)

	if err := src.Resync(context.Background()); !errors.Is(err, ErrTimeSyncUnavailable) {
		t.Fatalf("expected ErrTimeSyncUnavailable, got %v", err)
	}
	if src.Now() != 42 {
		t.Fatalf("expected local time with zero drift, got %d", src.Now())
	}
}

func TestNewFixed(t *testing.T) {
	src := NewFixed(1700000000)
	if !src.Synced() {
		t.Fatal("fixed source must report synced")
	}
	now, err := src.Aligned(context.Background())
	if err != nil || now != 1700000000 {
		t.Fatalf("Aligned = %d, %v", now, err)
	}
}
