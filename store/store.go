// Package store defines the data model and the transactional persistence
// protocol shared by every component that needs durable state: users and
// browser sessions, clients and consent, authorization grants, and the
// OAuth2 token ledger.
//
// The database driver itself is an excluded collaborator: this package
// only defines the Storage surface a driver must implement, with an
// explicit transaction boundary so multi-step operations (code exchange,
// refresh rotation) can take row locks within one transaction.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors every Storage implementation must return verbatim so
// callers can branch on them with errors.Is.
var (
	// ErrNotFound is returned when a lookup by id/code/token finds nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned on a unique-constraint violation during
	// create (duplicate username, duplicate authorization code, ...).
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConsistency marks a row combination that violates a data-model
	// invariant (e.g. a grant with exchanged_at set but fulfilled_at null).
	// These are bugs, not not-found or I/O errors, and should be logged as
	// such by callers.
	ErrConsistency = errors.New("store: inconsistent row")
)

// User is an end user account.
type User struct {
	ID           int64
	Username     string
	PrimaryEmail *string
	PasswordHash *string
	CreatedAt    time.Time
}

// Email is one address belonging to a User, possibly confirmed.
type Email struct {
	ID          int64
	UserID      int64
	Address     string
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

// Confirmed reports whether this email completed the one-way confirmation
// transition.
func (e Email) Confirmed() bool { return e.ConfirmedAt != nil }

// Authentication is one successful credential check against a
// BrowserSession.
type Authentication struct {
	ID        int64
	CreatedAt time.Time
}

// BrowserSession represents "this browser is logged in as user U".
type BrowserSession struct {
	ID                 int64
	UserID             int64
	CreatedAt          time.Time
	FinishedAt         *time.Time
	LastAuthentication *Authentication
}

// Active reports whether the session has not been logged out.
func (s BrowserSession) Active() bool { return s.FinishedAt == nil }

// FreshFor reports whether the session's last authentication happened
// within maxAge of now. A session with no authentication at all is never
// fresh.
func (s BrowserSession) FreshFor(maxAge time.Duration, now time.Time) bool {
	if s.LastAuthentication == nil {
		return false
	}
	return !s.LastAuthentication.CreatedAt.Before(now.Add(-maxAge))
}

// Client is a registered OAuth2 client.
type Client struct {
	ClientID                string
	RedirectURIs            []string
	ResponseTypes           []string
	GrantTypes              []string
	TokenEndpointAuthMethod string
	ClientSecretHash        *string
	JWKS                    *string
}

// Public reports whether the client has no way to authenticate itself and
// therefore must rely on PKCE.
func (c Client) Public() bool {
	return c.TokenEndpointAuthMethod == "none"
}

// ClientConsent is the scope set a user has granted a client, idempotently
// upserted and monotonically growing except on explicit revocation.
type ClientConsent struct {
	UserID       int64
	ClientID     string
	GrantedScope []string
}

// PKCE is the Proof Key for Code Exchange challenge attached to a grant.
type PKCE struct {
	Challenge string
	Method    string // "plain" or "S256"
}

const (
	// PKCEMethodPlain is the trivial (non-hashed) PKCE challenge method.
	PKCEMethodPlain = "plain"
	// PKCEMethodS256 is the SHA-256 PKCE challenge method.
	PKCEMethodS256 = "S256"
)

// ResponseMode controls how the authorization response is delivered to the
// client's redirect_uri.
type ResponseMode string

const (
	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFragment ResponseMode = "fragment"
	ResponseModeFormPost ResponseMode = "form_post"
)

// Stage is the computed lifecycle position of an AuthorizationGrant.
type Stage int

const (
	// StageInconsistent marks a timestamp/session tuple that matches none
	// of the four valid rows of the stage table. Callers must treat this
	// as ErrConsistency, never act on the grant.
	StageInconsistent Stage = iota
	StagePending
	StageFulfilled
	StageExchanged
	StageCancelled
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageFulfilled:
		return "fulfilled"
	case StageExchanged:
		return "exchanged"
	case StageCancelled:
		return "cancelled"
	default:
		return "inconsistent"
	}
}

// AuthorizationGrant is the central entity of the authorization-grant state
// machine.
type AuthorizationGrant struct {
	ID               int64
	CreatedAt        time.Time
	ClientID         string
	RedirectURI      string
	Scope            []string
	State            *string
	Nonce            *string
	MaxAge           *int
	ACRValues        *string
	ResponseMode     ResponseMode
	ResponseTypeCode bool
	ResponseTypeToken bool
	ResponseTypeIDToken bool
	Code             *string
	PKCE             *PKCE
	RequiresConsent  bool
	OAuth2SessionID  *int64
	FulfilledAt      *time.Time
	ExchangedAt      *time.Time
	CancelledAt      *time.Time
}

// Stage computes the lifecycle stage from the grant's timestamps and
// session link. Every timestamp/session combination not listed below is
// StageInconsistent.
func (g AuthorizationGrant) Stage() Stage {
	switch {
	case g.CancelledAt == nil && g.FulfilledAt == nil && g.ExchangedAt == nil && g.OAuth2SessionID == nil:
		return StagePending
	case g.CancelledAt == nil && g.FulfilledAt != nil && g.ExchangedAt == nil && g.OAuth2SessionID != nil:
		return StageFulfilled
	case g.CancelledAt == nil && g.FulfilledAt != nil && g.ExchangedAt != nil && g.OAuth2SessionID != nil:
		return StageExchanged
	case g.CancelledAt != nil && g.FulfilledAt == nil && g.ExchangedAt == nil && g.OAuth2SessionID == nil:
		return StageCancelled
	default:
		return StageInconsistent
	}
}

// Expired reports whether the grant has outlived ttl from its creation and
// is still Pending.
func (g AuthorizationGrant) Expired(ttl time.Duration, now time.Time) bool {
	return g.Stage() == StagePending && g.CreatedAt.Add(ttl).Before(now)
}

// OAuthSession links a browser session to a client with a scope set, and
// owns the tokens minted against it.
type OAuthSession struct {
	ID               int64
	BrowserSessionID int64
	ClientID         string
	Scope            []string
	CreatedAt        time.Time
	FinishedAt       *time.Time
}

// Active reports whether the session is still usable for minting/validating
// tokens.
func (s OAuthSession) Active() bool { return s.FinishedAt == nil }

// AccessToken is an opaque bearer token bound to an OAuthSession.
type AccessToken struct {
	ID              int64
	OAuth2SessionID int64
	Token           string
	CreatedAt       time.Time
	ExpiresAfter    time.Duration
	RevokedAt       *time.Time
}

// Active reports whether the token has neither been revoked nor expired.
func (t AccessToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && t.CreatedAt.Add(t.ExpiresAfter).After(now)
}

// ExpiresAt is the instant this token stops being valid.
func (t AccessToken) ExpiresAt() time.Time { return t.CreatedAt.Add(t.ExpiresAfter) }

// RefreshToken is a single-use token that can be exchanged for a new
// access/refresh pair.
type RefreshToken struct {
	ID                 int64
	OAuth2SessionID    int64
	AccessTokenID      int64
	Token              string
	CreatedAt          time.Time
	ConsumedAt         *time.Time
	NextRefreshTokenID *int64
}

// Active reports whether the token has not been consumed.
func (t RefreshToken) Active() bool { return t.ConsumedAt == nil }

// GCResult reports how many rows the recurring cleanup sweep removed:
// expired Pending grants and aged consumed refresh tokens.
type GCResult struct {
	CancelledGrants       int64
	PurgedRefreshTokens   int64
}

// IsEmpty reports whether the sweep found nothing to do.
func (g GCResult) IsEmpty() bool {
	return g.CancelledGrants == 0 && g.PurgedRefreshTokens == 0
}

// Storage is the full persistence surface the rest of this repository is
// built against. A concrete driver (store/postgres) implements it directly
// against a connection pool; WithinTx hands the callback a Storage bound to
// one transaction, so operations that must be atomic (code exchange,
// refresh rotation) compose ordinary Storage calls instead of hand-rolling
// SQL.
//
// Dynamic dispatch between a bare connection and a transaction collapses to
// two implementations of this one interface.
type Storage interface {
	Close() error

	// Users & browser sessions.
	CreateUser(ctx context.Context, username string, passwordHash *string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	CreateEmail(ctx context.Context, userID int64, address string) (Email, error)
	ConfirmEmail(ctx context.Context, emailID int64, now time.Time) error

	CreateBrowserSession(ctx context.Context, userID int64, now time.Time) (BrowserSession, error)
	GetBrowserSession(ctx context.Context, id int64) (BrowserSession, error)
	AppendAuthentication(ctx context.Context, sessionID int64, now time.Time) (Authentication, error)
	FinishBrowserSession(ctx context.Context, id int64, now time.Time) error

	// Clients & consent.
	CreateClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, clientID string) (Client, error)
	GetConsent(ctx context.Context, userID int64, clientID string) (ClientConsent, error)
	UpsertConsent(ctx context.Context, userID int64, clientID string, scope []string) error

	// Authorization grants.
	CreateGrant(ctx context.Context, g AuthorizationGrant) (AuthorizationGrant, error)
	GetGrant(ctx context.Context, id int64) (AuthorizationGrant, error)
	// GetGrantByCodeForUpdate looks up a grant by its authorization code,
	// taking a row lock so concurrent exchange attempts serialize.
	GetGrantByCodeForUpdate(ctx context.Context, code string) (AuthorizationGrant, error)
	CancelGrant(ctx context.Context, id int64, now time.Time) error
	FulfillGrant(ctx context.Context, id int64, sessionID int64, now time.Time) error
	ExchangeGrant(ctx context.Context, id int64, now time.Time) error

	// OAuth sessions and the token ledger.
	CreateOAuthSession(ctx context.Context, s OAuthSession) (OAuthSession, error)
	GetOAuthSession(ctx context.Context, id int64) (OAuthSession, error)
	FinishOAuthSession(ctx context.Context, id int64, now time.Time) error

	CreateAccessToken(ctx context.Context, t AccessToken) (AccessToken, error)
	CreateRefreshToken(ctx context.Context, t RefreshToken) (RefreshToken, error)
	GetActiveAccessToken(ctx context.Context, tokenStr string) (AccessToken, OAuthSession, error)
	// GetRefreshToken is a lock-free read by token string, for callers that
	// only inspect state (introspection) and must not contend with, or
	// depend on, an enclosing transaction.
	GetRefreshToken(ctx context.Context, tokenStr string) (RefreshToken, OAuthSession, error)
	// GetRefreshTokenForUpdate takes a row lock on the refresh token so
	// concurrent refresh attempts serialize. Must be called within
	// WithinTx.
	GetRefreshTokenForUpdate(ctx context.Context, tokenStr string) (RefreshToken, OAuthSession, error)
	RevokeAccessToken(ctx context.Context, id int64, now time.Time) error
	ConsumeRefreshToken(ctx context.Context, id int64, now time.Time, nextID int64) error
	RevokeSessionTokens(ctx context.Context, sessionID int64, now time.Time) error

	// GarbageCollect performs the recurring cleanup sweep: expired Pending
	// grants are deleted (they are not moved to Cancelled) and aged
	// consumed refresh tokens are purged.
	GarbageCollect(ctx context.Context, now time.Time, grantTTL time.Duration, refreshTokenTTL time.Duration) (GCResult, error)

	// WithinTx runs fn with a Storage bound to one database transaction.
	// The transaction commits if fn returns nil and rolls back otherwise,
	// including on panic (the panic is re-raised after rollback). Nested
	// calls reuse the outer transaction rather than opening a new one.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Storage) error) error
}
