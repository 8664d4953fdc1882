package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/matrix-auth/core/store"
)

// GarbageCollect deletes rows the rest of the system no longer needs:
// authorization grants that never got fulfilled within grantTTL, and
// consumed refresh tokens older than refreshTokenTTL (kept around briefly
// past consumption only so a delayed replay still has something to detect
// and revoke against).
func (s *storage) GarbageCollect(ctx context.Context, now time.Time, grantTTL, refreshTokenTTL time.Duration) (store.GCResult, error) {
	var result store.GCResult

	r, err := s.q.ExecContext(ctx, `
		delete from authorization_grants
		where fulfilled_at is null and cancelled_at is null and created_at < $1
	`, now.Add(-grantTTL))
	if err != nil {
		return result, fmt.Errorf("gc authorization_grants: %w", err)
	}
	if n, err := r.RowsAffected(); err == nil {
		result.CancelledGrants = n
	}

	r, err = s.q.ExecContext(ctx, `
		delete from refresh_tokens
		where consumed_at is not null and consumed_at < $1
	`, now.Add(-refreshTokenTTL))
	if err != nil {
		return result, fmt.Errorf("gc refresh_tokens: %w", err)
	}
	if n, err := r.RowsAffected(); err == nil {
		result.PurgedRefreshTokens = n
	}

	return result, nil
}
