// Package auth runs the session lifecycle: login, registration, logout, email
// and second-factor verification, password reset, token refresh and startup
// restoration. It is the only writer of the token store and the session
// machine.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/go-session-client/backend"
	"github.com/jrsteele09/go-session-client/metrics"
	"github.com/jrsteele09/go-session-client/session"
	"github.com/jrsteele09/go-session-client/token"
	"github.com/jrsteele09/go-session-client/tokenstore"
)

const (
	DefaultLandingPath = "/dashboard"
	DefaultLoginPath   = "/auth/login"
)

// Navigator moves the consumer to another route, replacing the current one.
type Navigator interface {
	Replace(path string)
}

// NavigatorFunc adapts a func to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Replace(path string) {
	f(path)
}

// LoginResult describes a completed login or second-factor step.
type LoginResult struct {
	User *tokenstore.UserSummary
	// SecondFactorRequired means no session was created; call
	// VerifySecondFactor with the code the user received.
	SecondFactorRequired bool
	// RedirectTo is where the navigator was sent.
	RedirectTo string
}

type challenge struct {
	userID    string
	tempToken string
}

// Manager owns the session lifecycle. It is safe for concurrent use.
type Manager struct {
	backend   backend.Service
	store     tokenstore.Store
	machine   *session.Machine
	redirects tokenstore.RedirectStore
	codec     token.Codec
	navigator Navigator
	metrics   metrics.Recorder
	logger    zerolog.Logger
	nowFunc   func() time.Time

	landingPath    string
	loginPath      string
	refreshTimeout time.Duration
	verifyTimeout  time.Duration
	logoutTimeout  time.Duration

	// commit covers every store write together with the status publish that
	// follows it. generation changes on every credential write or clear.
	commit     sync.Mutex
	generation uint64

	refreshGroup singleflight.Group
	background   sync.WaitGroup

	challengeLock sync.Mutex
	pending       *challenge
}

type ManagerOption func(*Manager)

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(recorder metrics.Recorder) ManagerOption {
	return func(m *Manager) {
		if recorder != nil {
			m.metrics = recorder
		}
	}
}

// WithNowFunc sets the clock used for expiry checks (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = nowFunc
	}
}

func WithNavigator(navigator Navigator) ManagerOption {
	return func(m *Manager) {
		if navigator != nil {
			m.navigator = navigator
		}
	}
}

// WithRedirectStore shares the pending redirect with the route guard.
func WithRedirectStore(redirects tokenstore.RedirectStore) ManagerOption {
	return func(m *Manager) {
		if redirects != nil {
			m.redirects = redirects
		}
	}
}

func WithCodec(codec token.Codec) ManagerOption {
	return func(m *Manager) {
		if codec != nil {
			m.codec = codec
		}
	}
}

func WithLandingPath(path string) ManagerOption {
	return func(m *Manager) {
		if path != "" {
			m.landingPath = path
		}
	}
}

func WithLoginPath(path string) ManagerOption {
	return func(m *Manager) {
		if path != "" {
			m.loginPath = path
		}
	}
}

// WithRefreshTimeout bounds the shared refresh call regardless of how long
// individual callers are willing to wait.
func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

func WithVerifyTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.verifyTimeout = d
		}
	}
}

func WithLogoutTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.logoutTimeout = d
		}
	}
}

// NewManager wires a manager to its backend, store and state machine.
func NewManager(
	svc backend.Service,
	store tokenstore.Store,
	machine *session.Machine,
	options ...ManagerOption,
) (*Manager, error) {
	if svc == nil {
		return nil, errors.New("[NewManager] backend service is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] token store is required")
	}
	if machine == nil {
		return nil, errors.New("[NewManager] session machine is required")
	}

	m := &Manager{
		backend:        svc,
		store:          store,
		machine:        machine,
		redirects:      tokenstore.NewMemoryRedirectStore(),
		codec:          token.NewJWTCodec(),
		navigator:      NavigatorFunc(func(string) {}),
		metrics:        metrics.Nop{},
		logger:         zerolog.Nop(),
		nowFunc:        time.Now,
		landingPath:    DefaultLandingPath,
		loginPath:      DefaultLoginPath,
		refreshTimeout: 10 * time.Second,
		verifyTimeout:  10 * time.Second,
		logoutTimeout:  5 * time.Second,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Snapshot returns the state consumers render from.
func (m *Manager) Snapshot() session.Snapshot {
	return m.machine.Snapshot()
}

func (m *Manager) ClearError() {
	m.machine.ClearError()
}

// Subscribe forwards to the session machine.
func (m *Manager) Subscribe(fn func(session.Snapshot)) (func(), error) {
	return m.machine.Subscribe(fn)
}

// Wait blocks until background verification started by Initialize is done.
func (m *Manager) Wait() {
	m.background.Wait()
}

// Login exchanges credentials for a session. When the backend asks for a
// second factor the challenge is kept for VerifySecondFactor and no session
// is created.
func (m *Manager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	m.machine.ClearError()
	if err := ValidateCredentials(email, password); err != nil {
		m.metrics.Login(metrics.OutcomeFailure)
		return nil, m.fail(err)
	}

	prev := m.machine.Snapshot()
	m.begin()

	resp, err := m.backend.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		m.restore(prev)
		m.metrics.Login(metrics.OutcomeFailure)
		return nil, m.fail(classify(opLogin, err))
	}

	if resp.RequiresSecondFactor {
		m.setChallenge(&challenge{userID: resp.UserID, tempToken: resp.TempToken})
		m.restore(prev)
		m.metrics.Login(metrics.OutcomeSecondFactor)
		m.logger.Info().Str("userID", resp.UserID).Msg("login requires second factor")
		return &LoginResult{SecondFactorRequired: true}, nil
	}

	user, err := m.establish(resp)
	if err != nil {
		m.restore(prev)
		m.metrics.Login(metrics.OutcomeFailure)
		return nil, m.fail(err)
	}
	m.clearChallenge()
	m.metrics.Login(metrics.OutcomeSuccess)
	m.logger.Info().Str("userID", user.ID).Msg("login succeeded")

	return &LoginResult{User: user, RedirectTo: m.redirectAfterLogin()}, nil
}

// VerifySecondFactor submits a six digit code. Malformed codes are rejected
// without a network call.
func (m *Manager) VerifySecondFactor(ctx context.Context, code string) (*LoginResult, error) {
	m.machine.ClearError()
	if err := ValidateSecondFactorCode(code); err != nil {
		return nil, m.fail(err)
	}

	req := backend.SecondFactorRequest{Code: code}
	if c := m.currentChallenge(); c != nil {
		req.UserID = c.userID
		req.TempToken = c.tempToken
	}

	prev := m.machine.Snapshot()
	m.begin()

	resp, err := m.backend.VerifySecondFactor(ctx, req)
	if err != nil {
		m.restore(prev)
		m.metrics.Login(metrics.OutcomeFailure)
		return nil, m.fail(classify(opSecondFactor, err))
	}

	user, err := m.establish(resp)
	if err != nil {
		m.restore(prev)
		m.metrics.Login(metrics.OutcomeFailure)
		return nil, m.fail(err)
	}
	m.clearChallenge()
	m.metrics.Login(metrics.OutcomeSuccess)
	m.logger.Info().Str("userID", user.ID).Msg("second factor verified")

	return &LoginResult{User: user, RedirectTo: m.redirectAfterLogin()}, nil
}

// Register creates an account. It never changes the session status; the new
// account may need email verification before it can log in.
func (m *Manager) Register(ctx context.Context, data RegisterData) error {
	m.machine.ClearError()
	if err := data.Validate(); err != nil {
		return m.fail(err)
	}
	if _, err := m.backend.Register(ctx, data.request()); err != nil {
		return m.fail(classify(opRegister, err))
	}
	m.logger.Info().Str("email", data.Email).Msg("registration submitted")
	return nil
}

// Logout clears the local session first and then tells the backend. The
// backend call is bounded by the logout timeout and its failure is only
// logged. The returned error is non-nil only when the local store could not
// be cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.commit.Lock()
	m.generation++
	pair, loadErr := m.store.Load()
	clearErr := m.store.Clear()
	m.demote()
	m.commit.Unlock()

	m.clearChallenge()
	m.metrics.Logout()
	if loadErr != nil {
		m.logger.Warn().Err(loadErr).Msg("logout could not read stored tokens")
	}

	if pair != nil && pair.Refresh != "" {
		logoutCtx, cancel := context.WithTimeout(ctx, m.logoutTimeout)
		err := m.backend.Logout(logoutCtx, pair.Refresh)
		cancel()
		if err != nil {
			m.logger.Warn().Err(classify(opLogout, err)).Msg("backend logout failed, local session already cleared")
		}
	}

	m.navigator.Replace(m.loginPath)

	if clearErr != nil {
		return storageError(clearErr)
	}
	return nil
}

// VerifyEmail confirms an email address and returns the backend payload.
func (m *Manager) VerifyEmail(ctx context.Context, key string) (map[string]any, error) {
	if strings.TrimSpace(key) == "" {
		return nil, m.fail(newError(KindExpiredOrInvalidToken, "The verification link is missing its key.", nil))
	}
	payload, err := m.backend.VerifyEmail(ctx, key)
	if err != nil {
		return nil, m.fail(classify(opVerifyEmail, err))
	}
	return payload, nil
}

// RequestPasswordReset asks the backend to email a reset link.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return m.fail(validationError("email", "Email is required."))
	}
	if err := m.backend.RequestPasswordReset(ctx, strings.TrimSpace(email)); err != nil {
		return m.fail(classify(opPasswordReset, err))
	}
	return nil
}

// ConfirmPasswordReset sets a new password using the emailed token.
func (m *Manager) ConfirmPasswordReset(ctx context.Context, req PasswordResetConfirm) error {
	if err := req.Validate(); err != nil {
		return m.fail(err)
	}
	err := m.backend.ConfirmPasswordReset(ctx, backend.PasswordResetConfirm{
		Token:    req.Token,
		Password: req.Password,
		UserID:   req.UserID,
	})
	if err != nil {
		return m.fail(classify(opPasswordResetConfirm, err))
	}
	return nil
}

// ReportUnauthorized ends the session after the backend rejected rejected, an
// access token that was already refreshed. A rejection of a token that is no
// longer stored belongs to an earlier session and is ignored.
func (m *Manager) ReportUnauthorized(rejected string) {
	m.commit.Lock()
	defer m.commit.Unlock()

	pair, err := m.store.Load()
	if err == nil && (pair == nil || pair.Access != rejected) {
		m.logger.Debug().Msg("ignoring unauthorized response for a replaced token")
		return
	}
	m.logger.Warn().Msg("request rejected after token refresh, ending session")
	m.purgeLocked()
}

// establish persists the pair from a successful login and promotes the
// session. The backend user, when present, wins over the token claims.
func (m *Manager) establish(resp *backend.LoginResponse) (*tokenstore.UserSummary, error) {
	pair := tokenstore.Pair{Access: resp.Access, Refresh: resp.Refresh}
	if err := pair.Validate(); err != nil {
		return nil, newError(KindServer, "", errors.Join(backend.ErrMalformedResponse, err))
	}

	claims, err := m.codec.Decode(pair.Access)
	if err != nil {
		return nil, classify(opLogin, err)
	}
	user := userFromClaims(claims)
	if resp.User != nil && resp.User.ID != "" {
		user = *resp.User
	}

	m.commit.Lock()
	defer m.commit.Unlock()

	m.generation++
	if err := m.store.Save(pair); err != nil {
		m.purgeLocked()
		return nil, storageError(err)
	}
	if err := m.store.SaveUserSummary(user); err != nil {
		m.purgeLocked()
		return nil, storageError(err)
	}
	if err := m.authenticate(user); err != nil {
		m.purgeLocked()
		return nil, newError(KindServer, "", err)
	}
	return &user, nil
}

// restore puts the status back after a failed operation that began from prev.
func (m *Manager) restore(prev session.Snapshot) {
	m.commit.Lock()
	defer m.commit.Unlock()

	pair, err := m.store.Load()
	hasPair := err == nil && pair != nil
	switch {
	case hasPair && prev.Status == session.Authenticated && prev.User != nil:
		if m.authenticate(*prev.User) == nil {
			return
		}
	case hasPair && prev.Status == session.Loading:
		return
	}
	m.demote()
}

// purgeLocked clears the store and demotes. The caller holds commit.
func (m *Manager) purgeLocked() {
	m.generation++
	if err := m.store.Clear(); err != nil {
		m.logger.Error().Err(err).Msg("failed to clear token store")
	}
	m.demote()
}

func (m *Manager) begin() {
	if err := m.machine.Begin(); err != nil {
		m.logger.Error().Err(err).Msg("session could not enter loading")
		return
	}
	m.metrics.Status(session.Loading)
}

func (m *Manager) authenticate(user tokenstore.UserSummary) error {
	if err := m.machine.Authenticate(user); err != nil {
		return err
	}
	m.metrics.Status(session.Authenticated)
	return nil
}

func (m *Manager) demote() {
	m.machine.Reset()
	m.metrics.Status(session.Unauthenticated)
}

func (m *Manager) fail(err error) error {
	m.machine.SetError(UserMessage(err))
	return err
}

func (m *Manager) redirectAfterLogin() string {
	target, ok := m.redirects.ConsumePendingRedirect()
	if !ok || target == "" {
		target = m.landingPath
	}
	m.navigator.Replace(target)
	return target
}

func (m *Manager) setChallenge(c *challenge) {
	m.challengeLock.Lock()
	defer m.challengeLock.Unlock()
	m.pending = c
}

func (m *Manager) currentChallenge() *challenge {
	m.challengeLock.Lock()
	defer m.challengeLock.Unlock()
	return m.pending
}

func (m *Manager) clearChallenge() {
	m.setChallenge(nil)
}

func userFromClaims(claims *token.Claims) tokenstore.UserSummary {
	return tokenstore.UserSummary{
		ID:       claims.SubjectID,
		Email:    claims.SubjectEmail,
		Username: claims.Username,
	}
}
