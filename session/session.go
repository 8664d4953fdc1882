// Package session implements the OAuth session and token ledger: access/
// refresh token issuance, single-use rotation, and lookup.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/matrix-auth/core/store"
	"github.com/matrix-auth/core/token"
)

// ErrInvalidGrant is returned by Refresh on any failure: malformed token,
// not found, already consumed, or session finished — the token endpoint
// maps all of these onto the single OAuth2 invalid_grant error code.
var ErrInvalidGrant = errors.New("session: invalid_grant")

// DefaultAccessTokenTTL is the access token lifetime used when a caller
// doesn't specify one.
const DefaultAccessTokenTTL = 5 * time.Minute

// Service mints, rotates, and validates tokens against a store.Storage.
type Service struct {
	storage store.Storage
}

// New builds a Service.
func New(s store.Storage) *Service { return &Service{storage: s} }

// IssueAccessToken persists and returns a new access token bound to sess.
func (svc *Service) IssueAccessToken(ctx context.Context, sess store.OAuthSession, ttl time.Duration, now time.Time) (string, store.AccessToken, error) {
	str, err := token.Generate(token.KindAccess)
	if err != nil {
		return "", store.AccessToken{}, err
	}
	rec, err := svc.storage.CreateAccessToken(ctx, store.AccessToken{
		OAuth2SessionID: sess.ID,
		Token:           str,
		CreatedAt:       now,
		ExpiresAfter:    ttl,
	})
	if err != nil {
		return "", store.AccessToken{}, err
	}
	return str, rec, nil
}

// IssueRefreshToken persists and returns a new refresh token bound to
// access.
func (svc *Service) IssueRefreshToken(ctx context.Context, sess store.OAuthSession, access store.AccessToken, now time.Time) (string, store.RefreshToken, error) {
	str, err := token.Generate(token.KindRefresh)
	if err != nil {
		return "", store.RefreshToken{}, err
	}
	rec, err := svc.storage.CreateRefreshToken(ctx, store.RefreshToken{
		OAuth2SessionID: sess.ID,
		AccessTokenID:   access.ID,
		Token:           str,
		CreatedAt:       now,
	})
	if err != nil {
		return "", store.RefreshToken{}, err
	}
	return str, rec, nil
}

// RefreshResult carries the freshly minted pair back from Refresh.
type RefreshResult struct {
	AccessToken        store.AccessToken
	AccessTokenString  string
	RefreshToken       store.RefreshToken
	RefreshTokenString string
}

// Refresh rotates a refresh token: classify, look up under a row lock,
// verify not consumed and session active, then within one
// transaction consume the old refresh token, revoke the old access token,
// and mint a new pair chained via next_refresh_token_id. A replay of an
// already-consumed refresh token revokes the entire session's tokens
// (terminal) and returns ErrInvalidGrant.
func Refresh(ctx context.Context, s store.Storage, refreshTokenStr string, accessTTL time.Duration, now time.Time) (RefreshResult, error) {
	if kind, err := token.Classify(refreshTokenStr); err != nil || kind != token.KindRefresh {
		return RefreshResult{}, ErrInvalidGrant
	}

	var result RefreshResult
	var replayed bool
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Storage) error {
		old, sess, err := tx.GetRefreshTokenForUpdate(ctx, refreshTokenStr)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidGrant
		}
		if err != nil {
			return err
		}

		if !old.Active() {
			// Replay of a consumed token: treat the whole session as
			// compromised and revoke everything issued against it. The
			// revocation has to commit, so the replay is reported only
			// after the transaction ends.
			replayed = true
			return tx.RevokeSessionTokens(ctx, sess.ID, now)
		}
		if !sess.Active() {
			return ErrInvalidGrant
		}

		if err := tx.RevokeAccessToken(ctx, old.AccessTokenID, now); err != nil {
			return err
		}

		newAccessStr, err := token.Generate(token.KindAccess)
		if err != nil {
			return err
		}
		newAccess, err := tx.CreateAccessToken(ctx, store.AccessToken{
			OAuth2SessionID: sess.ID,
			Token:           newAccessStr,
			CreatedAt:       now,
			ExpiresAfter:    accessTTL,
		})
		if err != nil {
			return err
		}

		newRefreshStr, err := token.Generate(token.KindRefresh)
		if err != nil {
			return err
		}
		newRefresh, err := tx.CreateRefreshToken(ctx, store.RefreshToken{
			OAuth2SessionID: sess.ID,
			AccessTokenID:   newAccess.ID,
			Token:           newRefreshStr,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}

		if err := tx.ConsumeRefreshToken(ctx, old.ID, now, newRefresh.ID); err != nil {
			return err
		}

		result = RefreshResult{
			AccessToken:        newAccess,
			AccessTokenString:  newAccessStr,
			RefreshToken:       newRefresh,
			RefreshTokenString: newRefreshStr,
		}
		return nil
	})
	if err != nil {
		return RefreshResult{}, err
	}
	if replayed {
		return RefreshResult{}, ErrInvalidGrant
	}
	return result, nil
}

// LookupActiveAccessToken classifies and loads tokenStr, returning
// store.ErrNotFound for a malformed string with no I/O.
func LookupActiveAccessToken(ctx context.Context, s store.Storage, tokenStr string) (store.AccessToken, store.OAuthSession, error) {
	if kind, err := token.Classify(tokenStr); err != nil || kind != token.KindAccess {
		return store.AccessToken{}, store.OAuthSession{}, store.ErrNotFound
	}
	return s.GetActiveAccessToken(ctx, tokenStr)
}

// LookupActiveRefreshToken classifies and loads tokenStr without taking a
// row lock, for read-only callers (introspection) that run outside any
// WithinTx and must not contend with in-flight rotations.
func LookupActiveRefreshToken(ctx context.Context, s store.Storage, tokenStr string) (store.RefreshToken, store.OAuthSession, error) {
	if kind, err := token.Classify(tokenStr); err != nil || kind != token.KindRefresh {
		return store.RefreshToken{}, store.OAuthSession{}, store.ErrNotFound
	}
	rt, sess, err := s.GetRefreshToken(ctx, tokenStr)
	if err != nil {
		return store.RefreshToken{}, store.OAuthSession{}, err
	}
	if !rt.Active() || !sess.Active() {
		return store.RefreshToken{}, store.OAuthSession{}, store.ErrNotFound
	}
	return rt, sess, nil
}
