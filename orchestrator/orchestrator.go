// Package orchestrator decides, given a pending grant and a browser
// session, whether to redirect into the interactive login/reauth/consent
// flow or to complete the grant and mint tokens.
//
// Complete runs the stage check, freshness check, and consent check before
// deriving an OAuth session, fulfilling the grant, and building the
// response.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/session"
	"github.com/matrix-auth/core/signing"
	"github.com/matrix-auth/core/store"
)

// ErrNotPending is returned when Complete is called on a grant that is not
// in the Pending stage.
var ErrNotPending = errors.New("orchestrator: authorization grant is not in a pending state")

// ErrIDTokenUnsupported is returned when the grant requests an ID token but
// no signing.Oracle was supplied.
var ErrIDTokenUnsupported = errors.New("orchestrator: id token issuance requires a signing oracle")

// deviceScopePrefix marks scopes that don't require explicit user consent
// (per-device capability grants).
const deviceScopePrefix = "urn:matrix:device:"

// OutcomeKind tags which variant an Outcome holds.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeRequiresLogin
	OutcomeRequiresReauth
	OutcomeRequiresConsent
)

// AuthorizationResponse is the set of parameters rendered to the client's
// redirect_uri, shaped by which response types the grant requested.
type AuthorizationResponse struct {
	Code         *string
	State        *string
	AccessToken  *string
	TokenType    string
	ExpiresIn    int
	RefreshToken *string
	IDToken      *string
}

// Outcome is the result of Complete: either the grant was fulfilled and
// Response is populated, or the caller must redirect the browser elsewhere
// to continue the interactive flow.
type Outcome struct {
	Kind     OutcomeKind
	Response AuthorizationResponse
}

// Complete decides the outcome of a pending grant. tx must be a
// store.Storage bound to an active transaction (typically via
// store.Storage.WithinTx) so the fulfill step and token minting commit
// atomically with the caller's other writes.
func Complete(
	ctx context.Context,
	tx store.Storage,
	clients *oauth2client.Service,
	sessions *session.Service,
	oracle signing.Oracle,
	g store.AuthorizationGrant,
	browserSession store.BrowserSession,
	now time.Time,
) (Outcome, error) {
	if g.Stage() != store.StagePending {
		return Outcome{}, ErrNotPending
	}

	if g.MaxAge != nil {
		maxAge := time.Duration(*g.MaxAge) * time.Second
		if !browserSession.FreshFor(maxAge, now) {
			return Outcome{Kind: OutcomeRequiresReauth}, nil
		}
	}

	consent, err := clients.FetchConsent(ctx, browserSession.UserID, g.ClientID)
	if err != nil {
		return Outcome{}, err
	}
	if lacksConsent(g.Scope, consent.GrantedScope) || g.RequiresConsent {
		return Outcome{Kind: OutcomeRequiresConsent}, nil
	}

	sess, err := tx.CreateOAuthSession(ctx, store.OAuthSession{
		BrowserSessionID: browserSession.ID,
		ClientID:         g.ClientID,
		Scope:            g.Scope,
		CreatedAt:        now,
	})
	if err != nil {
		return Outcome{}, err
	}
	if err := tx.FulfillGrant(ctx, g.ID, sess.ID, now); err != nil {
		return Outcome{}, err
	}

	resp := AuthorizationResponse{State: g.State}

	if g.ResponseTypeCode && g.Code != nil {
		resp.Code = g.Code
	}

	if g.ResponseTypeToken {
		accessStr, access, err := sessions.IssueAccessToken(ctx, sess, session.DefaultAccessTokenTTL, now)
		if err != nil {
			return Outcome{}, err
		}
		refreshStr, _, err := sessions.IssueRefreshToken(ctx, sess, access, now)
		if err != nil {
			return Outcome{}, err
		}
		resp.AccessToken = &accessStr
		resp.TokenType = "Bearer"
		resp.ExpiresIn = int(session.DefaultAccessTokenTTL.Seconds())
		resp.RefreshToken = &refreshStr
	}

	if g.ResponseTypeIDToken {
		if oracle == nil {
			return Outcome{}, ErrIDTokenUnsupported
		}
		idToken, err := oracle.Sign(idTokenClaims(g, browserSession, now))
		if err != nil {
			return Outcome{}, err
		}
		resp.IDToken = &idToken
	}

	return Outcome{Kind: OutcomeCompleted, Response: resp}, nil
}

func lacksConsent(requested, granted []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		grantedSet[s] = struct{}{}
	}
	for _, s := range requested {
		if strings.HasPrefix(s, deviceScopePrefix) {
			continue
		}
		if _, ok := grantedSet[s]; !ok {
			return true
		}
	}
	return false
}

func idTokenClaims(g store.AuthorizationGrant, sess store.BrowserSession, now time.Time) map[string]any {
	claims := map[string]any{
		"iss":   "matrix-auth",
		"sub":   sess.UserID,
		"aud":   g.ClientID,
		"exp":   now.Add(10 * time.Minute).Unix(),
		"iat":   now.Unix(),
		"auth_time": now.Unix(),
	}
	if g.Nonce != nil {
		claims["nonce"] = *g.Nonce
	}
	return claims
}
