package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/matrix-auth/core/store"
)

func (s *storage) CreateOAuthSession(ctx context.Context, sess store.OAuthSession) (store.OAuthSession, error) {
	err := s.q.QueryRowContext(ctx, `
		insert into oauth2_sessions (browser_session_id, client_id, scope, created_at)
		values ($1, $2, $3, $4)
		returning id
	`, sess.BrowserSessionID, sess.ClientID, encoder(sess.Scope), sess.CreatedAt).Scan(&sess.ID)
	if err != nil {
		return store.OAuthSession{}, fmt.Errorf("insert oauth2 session: %w", err)
	}
	return sess, nil
}

func (s *storage) GetOAuthSession(ctx context.Context, id int64) (store.OAuthSession, error) {
	var sess store.OAuthSession
	err := s.q.QueryRowContext(ctx, `
		select id, browser_session_id, client_id, scope, created_at, finished_at
		from oauth2_sessions where id = $1
	`, id).Scan(&sess.ID, &sess.BrowserSessionID, &sess.ClientID, decoder(&sess.Scope), &sess.CreatedAt, scanNullTime(&sess.FinishedAt))
	if err != nil {
		if noRows(err) {
			return store.OAuthSession{}, store.ErrNotFound
		}
		return store.OAuthSession{}, fmt.Errorf("select oauth2 session: %w", err)
	}
	return sess, nil
}

func (s *storage) FinishOAuthSession(ctx context.Context, id int64, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update oauth2_sessions set finished_at = $1 where id = $2 and finished_at is null
	`, now, id)
	if err != nil {
		return fmt.Errorf("finish oauth2 session: %w", err)
	}
	return requireRowAffected(res)
}

func (s *storage) CreateAccessToken(ctx context.Context, t store.AccessToken) (store.AccessToken, error) {
	err := s.q.QueryRowContext(ctx, `
		insert into access_tokens (oauth2_session_id, token, created_at, expires_after_seconds)
		values ($1, $2, $3, $4)
		returning id
	`, t.OAuth2SessionID, t.Token, t.CreatedAt, int64(t.ExpiresAfter.Seconds())).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return store.AccessToken{}, store.ErrAlreadyExists
		}
		return store.AccessToken{}, fmt.Errorf("insert access token: %w", err)
	}
	return t, nil
}

func (s *storage) CreateRefreshToken(ctx context.Context, t store.RefreshToken) (store.RefreshToken, error) {
	err := s.q.QueryRowContext(ctx, `
		insert into refresh_tokens (oauth2_session_id, access_token_id, token, created_at)
		values ($1, $2, $3, $4)
		returning id
	`, t.OAuth2SessionID, t.AccessTokenID, t.Token, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return store.RefreshToken{}, store.ErrAlreadyExists
		}
		return store.RefreshToken{}, fmt.Errorf("insert refresh token: %w", err)
	}
	return t, nil
}

func (s *storage) GetActiveAccessToken(ctx context.Context, tokenStr string) (store.AccessToken, store.OAuthSession, error) {
	var t store.AccessToken
	var expiresAfterSeconds int64
	var sess store.OAuthSession

	err := s.q.QueryRowContext(ctx, `
		select
			at.id, at.oauth2_session_id, at.token, at.created_at, at.expires_after_seconds, at.revoked_at,
			os.id, os.browser_session_id, os.client_id, os.scope, os.created_at, os.finished_at
		from access_tokens at
		join oauth2_sessions os on os.id = at.oauth2_session_id
		where at.token = $1
	`, tokenStr).Scan(
		&t.ID, &t.OAuth2SessionID, &t.Token, &t.CreatedAt, &expiresAfterSeconds, scanNullTime(&t.RevokedAt),
		&sess.ID, &sess.BrowserSessionID, &sess.ClientID, decoder(&sess.Scope), &sess.CreatedAt, scanNullTime(&sess.FinishedAt),
	)
	if err != nil {
		if noRows(err) {
			return store.AccessToken{}, store.OAuthSession{}, store.ErrNotFound
		}
		return store.AccessToken{}, store.OAuthSession{}, fmt.Errorf("select access token: %w", err)
	}
	t.ExpiresAfter = time.Duration(expiresAfterSeconds) * time.Second

	if !t.Active(time.Now()) || !sess.Active() {
		return store.AccessToken{}, store.OAuthSession{}, store.ErrNotFound
	}
	return t, sess, nil
}

// GetRefreshToken reads the refresh token without taking a row lock, for
// callers (introspection) that only need to inspect its state and run
// outside any WithinTx.
func (s *storage) GetRefreshToken(ctx context.Context, tokenStr string) (store.RefreshToken, store.OAuthSession, error) {
	var t store.RefreshToken
	var sess store.OAuthSession

	err := s.q.QueryRowContext(ctx, `
		select
			rt.id, rt.oauth2_session_id, rt.access_token_id, rt.token, rt.created_at,
			rt.consumed_at, rt.next_refresh_token_id,
			os.id, os.browser_session_id, os.client_id, os.scope, os.created_at, os.finished_at
		from refresh_tokens rt
		join oauth2_sessions os on os.id = rt.oauth2_session_id
		where rt.token = $1
	`, tokenStr).Scan(
		&t.ID, &t.OAuth2SessionID, &t.AccessTokenID, &t.Token, &t.CreatedAt,
		scanNullTime(&t.ConsumedAt), scanNullInt64(&t.NextRefreshTokenID),
		&sess.ID, &sess.BrowserSessionID, &sess.ClientID, decoder(&sess.Scope), &sess.CreatedAt, scanNullTime(&sess.FinishedAt),
	)
	if err != nil {
		if noRows(err) {
			return store.RefreshToken{}, store.OAuthSession{}, store.ErrNotFound
		}
		return store.RefreshToken{}, store.OAuthSession{}, fmt.Errorf("select refresh token: %w", err)
	}
	return t, sess, nil
}

// GetRefreshTokenForUpdate takes a row lock on the refresh token row so two
// concurrent redemptions of the same refresh token serialize: the loser
// observes consumed_at already set and must trigger full session revocation
// as a replay.
func (s *storage) GetRefreshTokenForUpdate(ctx context.Context, tokenStr string) (store.RefreshToken, store.OAuthSession, error) {
	var t store.RefreshToken
	var sess store.OAuthSession

	err := s.q.QueryRowContext(ctx, `
		select
			rt.id, rt.oauth2_session_id, rt.access_token_id, rt.token, rt.created_at,
			rt.consumed_at, rt.next_refresh_token_id,
			os.id, os.browser_session_id, os.client_id, os.scope, os.created_at, os.finished_at
		from refresh_tokens rt
		join oauth2_sessions os on os.id = rt.oauth2_session_id
		where rt.token = $1
		for update of rt
	`, tokenStr).Scan(
		&t.ID, &t.OAuth2SessionID, &t.AccessTokenID, &t.Token, &t.CreatedAt,
		scanNullTime(&t.ConsumedAt), scanNullInt64(&t.NextRefreshTokenID),
		&sess.ID, &sess.BrowserSessionID, &sess.ClientID, decoder(&sess.Scope), &sess.CreatedAt, scanNullTime(&sess.FinishedAt),
	)
	if err != nil {
		if noRows(err) {
			return store.RefreshToken{}, store.OAuthSession{}, store.ErrNotFound
		}
		return store.RefreshToken{}, store.OAuthSession{}, fmt.Errorf("select refresh token: %w", err)
	}
	return t, sess, nil
}

func (s *storage) RevokeAccessToken(ctx context.Context, id int64, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update access_tokens set revoked_at = $1 where id = $2 and revoked_at is null
	`, now, id)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return requireRowAffected(res)
}

func (s *storage) ConsumeRefreshToken(ctx context.Context, id int64, now time.Time, nextID int64) error {
	res, err := s.q.ExecContext(ctx, `
		update refresh_tokens set consumed_at = $1, next_refresh_token_id = $2
		where id = $3 and consumed_at is null
	`, now, nextID, id)
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", err)
	}
	return requireRowAffected(res)
}

// RevokeSessionTokens revokes every still-active access token and consumes
// every still-active refresh token tied to an OAuth2 session, the mass
// teardown issued on logout and on detected refresh-token replay.
func (s *storage) RevokeSessionTokens(ctx context.Context, sessionID int64, now time.Time) error {
	if _, err := s.q.ExecContext(ctx, `
		update access_tokens set revoked_at = $1 where oauth2_session_id = $2 and revoked_at is null
	`, now, sessionID); err != nil {
		return fmt.Errorf("revoke session access tokens: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `
		update refresh_tokens set consumed_at = $1 where oauth2_session_id = $2 and consumed_at is null
	`, now, sessionID); err != nil {
		return fmt.Errorf("revoke session refresh tokens: %w", err)
	}
	return nil
}
