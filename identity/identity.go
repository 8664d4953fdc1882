package identity

import (
	"context"
	"errors"
	"time"

	"github.com/matrix-auth/core/store"
)

// ErrInvalidCredentials is returned by Authenticate on any wrong-password or
// unknown-username outcome; callers must not distinguish the two.
var ErrInvalidCredentials = errors.New("identity: invalid credentials")

// Service implements user registration, authentication and browser-session
// lifecycle management against a store.Storage.
type Service struct {
	storage store.Storage
	hasher  *Hasher
	now     func() time.Time
}

// New builds a Service. hasher may be nil to use DefaultHasher.
func New(s store.Storage, hasher *Hasher) *Service {
	if hasher == nil {
		hasher = DefaultHasher()
	}
	return &Service{storage: s, hasher: hasher, now: time.Now}
}

// Register creates a user with an Argon2id hash of password, failing with
// store.ErrAlreadyExists on a username collision.
func (svc *Service) Register(ctx context.Context, username, password string) (store.User, error) {
	hash, err := svc.hasher.Hash(password)
	if err != nil {
		return store.User{}, err
	}
	return svc.storage.CreateUser(ctx, username, &hash)
}

// Authenticate verifies password against the user owning sess, appending an
// Authentication event on success. A dummy hash comparison always runs on
// the not-found and no-password-set branches so wall-clock time doesn't
// leak which branch was taken.
func (svc *Service) Authenticate(ctx context.Context, sess store.BrowserSession, password string) error {
	user, err := svc.storage.GetUser(ctx, sess.UserID)
	if err != nil || user.PasswordHash == nil {
		_, _ = svc.hasher.Verify(password, dummyHash)
		return ErrInvalidCredentials
	}

	ok, err := svc.hasher.Verify(password, *user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	_, err = svc.storage.AppendAuthentication(ctx, sess.ID, svc.now())
	return err
}

// AuthenticateUsername is the username-first login path: looks up the user,
// runs the same dummy-hash branch as Authenticate when the username doesn't
// exist, and on success starts a new browser session before appending the
// authentication event.
func (svc *Service) AuthenticateUsername(ctx context.Context, username, password string) (store.BrowserSession, error) {
	user, err := svc.storage.GetUserByUsername(ctx, username)
	if err != nil || user.PasswordHash == nil {
		_, _ = svc.hasher.Verify(password, dummyHash)
		return store.BrowserSession{}, ErrInvalidCredentials
	}

	ok, err := svc.hasher.Verify(password, *user.PasswordHash)
	if err != nil {
		return store.BrowserSession{}, err
	}
	if !ok {
		return store.BrowserSession{}, ErrInvalidCredentials
	}

	sess, err := svc.StartSession(ctx, user.ID)
	if err != nil {
		return store.BrowserSession{}, err
	}
	if _, err := svc.storage.AppendAuthentication(ctx, sess.ID, svc.now()); err != nil {
		return store.BrowserSession{}, err
	}
	return sess, nil
}

// StartSession creates a new BrowserSession for the given user.
func (svc *Service) StartSession(ctx context.Context, userID int64) (store.BrowserSession, error) {
	return svc.storage.CreateBrowserSession(ctx, userID, svc.now())
}

// EndSession finishes sess, logging the browser out.
func (svc *Service) EndSession(ctx context.Context, sessionID int64) error {
	return svc.storage.FinishBrowserSession(ctx, sessionID, svc.now())
}
