// Package grant implements the authorization-grant state machine:
// Pending → Fulfilled → Exchanged, plus Cancelled.
package grant

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/matrix-auth/core/pkce"
	"github.com/matrix-auth/core/pkg/aead"
	"github.com/matrix-auth/core/store"
	"github.com/matrix-auth/core/token"
)

// DefaultTTL is how long a Pending grant may live before the cleanup sweep
// deletes it.
const DefaultTTL = 10 * time.Minute

// Sentinel errors returned by New and Exchange.
var (
	ErrUnsupportedResponseType = errors.New("grant: response_type not registered for this client")
	ErrInvalidResponseMode     = errors.New("grant: unrecognized response_mode")
	ErrPKCERequired            = errors.New("grant: PKCE is required for this client")

	// ErrInvalidGrant covers every code-exchange failure mode: not found,
	// wrong stage, redirect_uri mismatch, PKCE mismatch, wrong client.
	// Callers map it to the OAuth2 invalid_grant error code.
	ErrInvalidGrant = errors.New("grant: invalid_grant")
)

// Policy parameterizes New: which PKCE methods are acceptable for which
// client type.
type Policy struct {
	PKCE pkce.Policy
	TTL  time.Duration
}

// DefaultPolicy requires S256 PKCE from public clients and gives grants the
// default 10-minute TTL.
func DefaultPolicy() Policy {
	return Policy{PKCE: pkce.Policy{AllowPlain: false}, TTL: DefaultTTL}
}

// Request is the validated input to New, assembled by the HTTP layer from
// the authorization endpoint's query parameters after client lookup and
// redirect_uri resolution (oauth2client.Service).
type Request struct {
	Client            store.Client
	RedirectURI       string
	Scope             []string
	State             *string
	Nonce             *string
	MaxAge            *int
	ACRValues         *string
	ResponseMode      store.ResponseMode
	ResponseTypeCode  bool
	ResponseTypeToken bool
	ResponseTypeIDToken bool
	PKCEChallenge     *string
	PKCEMethod        string
	RequiresConsent   bool
}

func validResponseMode(m store.ResponseMode) bool {
	switch m {
	case store.ResponseModeQuery, store.ResponseModeFragment, store.ResponseModeFormPost:
		return true
	default:
		return false
	}
}

// New validates req against policy and the client's registered
// response_types, then persists a Pending grant, generating an
// authorization code only when ResponseTypeCode is set.
func New(ctx context.Context, s store.Storage, policy Policy, req Request, now time.Time) (store.AuthorizationGrant, error) {
	if !validResponseMode(req.ResponseMode) {
		return store.AuthorizationGrant{}, ErrInvalidResponseMode
	}

	if req.ResponseTypeCode && !registeredResponseType(req.Client, "code") {
		return store.AuthorizationGrant{}, ErrUnsupportedResponseType
	}

	var pkceVal *store.PKCE
	if req.PKCEChallenge != nil {
		if err := policy.PKCE.Validate(req.PKCEMethod); err != nil {
			return store.AuthorizationGrant{}, err
		}
		pkceVal = &store.PKCE{Challenge: *req.PKCEChallenge, Method: req.PKCEMethod}
	} else if req.Client.Public() && req.ResponseTypeCode {
		return store.AuthorizationGrant{}, ErrPKCERequired
	}

	var code *string
	if req.ResponseTypeCode {
		c, err := newCode()
		if err != nil {
			return store.AuthorizationGrant{}, err
		}
		code = &c
	}

	g := store.AuthorizationGrant{
		CreatedAt:           now,
		ClientID:            req.Client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		Nonce:               req.Nonce,
		MaxAge:              req.MaxAge,
		ACRValues:           req.ACRValues,
		ResponseMode:        req.ResponseMode,
		ResponseTypeCode:    req.ResponseTypeCode,
		ResponseTypeToken:   req.ResponseTypeToken,
		ResponseTypeIDToken: req.ResponseTypeIDToken,
		Code:                code,
		PKCE:                pkceVal,
		RequiresConsent:     req.RequiresConsent,
	}
	return s.CreateGrant(ctx, g)
}

func registeredResponseType(c store.Client, rt string) bool {
	for _, v := range c.ResponseTypes {
		if v == rt {
			return true
		}
	}
	return false
}

// newCode mints a random authorization code string. Codes deliberately do
// not share token's {prefix}_{random}_{crc} shape: a code is never accepted
// where a bearer token is expected, so there is no benefit to the zero-I/O
// classification token.Classify provides, and a distinct shape stops a code
// from ever being misclassified as one.
func newCode() (string, error) {
	b, err := aead.RandBytes(24)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Cancel transitions a Pending grant to Cancelled: denial, timeout, or
// duplicate-code detection.
func Cancel(ctx context.Context, s store.Storage, grantID int64, now time.Time) error {
	return s.CancelGrant(ctx, grantID, now)
}

// Fulfill transitions a Pending grant to Fulfilled, linking it to the
// already-created OAuthSession sessionID.
func Fulfill(ctx context.Context, s store.Storage, grantID, sessionID int64, now time.Time) error {
	return s.FulfillGrant(ctx, grantID, sessionID, now)
}

// ExchangeResult carries the grant plus freshly minted tokens back to the
// caller after a successful Exchange.
type ExchangeResult struct {
	Grant        store.AuthorizationGrant
	AccessToken  store.AccessToken
	AccessTokenString string
	RefreshToken store.RefreshToken
	RefreshTokenString string
}

// Exchange redeems an authorization code for tokens within one transaction:
// look up by code under a row lock, verify stage/redirect_uri/PKCE/client,
// mark Exchanged, mint an access/refresh pair. On replay of an
// already-exchanged code, it revokes every token the original exchange
// issued before returning ErrInvalidGrant.
func Exchange(
	ctx context.Context,
	s store.Storage,
	code, redirectURI, clientID, pkceVerifier string,
	accessTTL time.Duration,
	now time.Time,
) (ExchangeResult, error) {
	var result ExchangeResult
	var replayed bool

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Storage) error {
		g, err := tx.GetGrantByCodeForUpdate(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidGrant
		}
		if err != nil {
			return err
		}

		if g.Stage() == store.StageExchanged {
			// The revocation has to commit, so the replay is reported
			// only after the transaction ends.
			replayed = true
			return revokeGrantTokens(ctx, tx, g, now)
		}
		if g.Stage() != store.StageFulfilled {
			return ErrInvalidGrant
		}
		if g.RedirectURI != redirectURI {
			return ErrInvalidGrant
		}
		if g.ClientID != clientID {
			return ErrInvalidGrant
		}
		if g.PKCE != nil {
			if err := pkce.Verify(*g.PKCE, pkceVerifier); err != nil {
				return ErrInvalidGrant
			}
		}

		if err := tx.ExchangeGrant(ctx, g.ID, now); err != nil {
			return err
		}

		accessStr, err := token.Generate(token.KindAccess)
		if err != nil {
			return err
		}
		access, err := tx.CreateAccessToken(ctx, store.AccessToken{
			OAuth2SessionID: *g.OAuth2SessionID,
			Token:           accessStr,
			CreatedAt:       now,
			ExpiresAfter:    accessTTL,
		})
		if err != nil {
			return err
		}

		refreshStr, err := token.Generate(token.KindRefresh)
		if err != nil {
			return err
		}
		refresh, err := tx.CreateRefreshToken(ctx, store.RefreshToken{
			OAuth2SessionID: *g.OAuth2SessionID,
			AccessTokenID:   access.ID,
			Token:           refreshStr,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}

		g.ExchangedAt = &now
		result = ExchangeResult{
			Grant:              g,
			AccessToken:        access,
			AccessTokenString:  accessStr,
			RefreshToken:       refresh,
			RefreshTokenString: refreshStr,
		}
		return nil
	})
	if err != nil {
		return ExchangeResult{}, err
	}
	if replayed {
		return ExchangeResult{}, ErrInvalidGrant
	}
	return result, nil
}

func revokeGrantTokens(ctx context.Context, tx store.Storage, g store.AuthorizationGrant, now time.Time) error {
	if g.OAuth2SessionID == nil {
		return nil
	}
	return tx.RevokeSessionTokens(ctx, *g.OAuth2SessionID, now)
}

// S256Challenge computes the PKCE S256 challenge for verifier, exposed so
// callers constructing authorization requests in tests don't need to
// duplicate the base64url(SHA-256(verifier)) computation.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
