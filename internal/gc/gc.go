// Package gc runs the recurring cleanup sweep: expired pending grants and
// aged consumed refresh tokens are deleted from storage on a fixed
// interval for as long as the process is alive.
package gc

import (
	"context"
	"time"

	"github.com/matrix-auth/core/pkg/log"
	"github.com/matrix-auth/core/store"
)

// DefaultInterval is how often Sweeper.Run polls storage when the caller
// doesn't supply one.
const DefaultInterval = 30 * time.Second

// Sweeper periodically calls store.Storage.GarbageCollect.
type Sweeper struct {
	Storage store.Storage
	Logger  log.Logger

	// Interval between sweeps. Defaults to DefaultInterval.
	Interval time.Duration

	// GrantTTL and RefreshTokenTTL bound how old a still-Pending grant or
	// a consumed refresh token must be before it's purged.
	GrantTTL        time.Duration
	RefreshTokenTTL time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return DefaultInterval
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run sweeps once immediately, then again every interval, until ctx is
// cancelled. It returns nil on cancellation, never on a sweep error — a
// failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	result, err := s.Storage.GarbageCollect(ctx, s.now(), s.GrantTTL, s.RefreshTokenTTL)
	if err != nil {
		s.logger().Errorf("gc: sweep failed: %v", err)
		return
	}
	if !result.IsEmpty() {
		s.logger().Infof("gc: removed %d expired grants, %d spent refresh tokens", result.CancelledGrants, result.PurgedRefreshTokens)
	}
}

func (s *Sweeper) logger() log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(args ...interface{})                 {}
func (noopLogger) Info(args ...interface{})                  {}
func (noopLogger) Warn(args ...interface{})                  {}
func (noopLogger) Error(args ...interface{})                 {}
func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Warnf(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}
