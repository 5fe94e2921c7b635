// Package client decorates outbound HTTP traffic with the session's bearer
// token, refreshing it through the session manager when it has expired.
package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-client/token"
	"github.com/jrsteele09/go-session-client/tokenstore"
)

// Session is the part of the session manager the authenticator needs.
type Session interface {
	// RefreshStale returns a valid access token to use instead of stale,
	// refreshing through the shared in-flight refresh when needed.
	RefreshStale(ctx context.Context, stale string) (string, error)
	// ReportUnauthorized ends the session when rejected is still the stored
	// access token.
	ReportUnauthorized(rejected string)
}

// FailurePolicy decides what happens to a request when its token could not be
// refreshed.
type FailurePolicy int

const (
	// ProceedUnauthenticated sends the request without Authorization.
	ProceedUnauthenticated FailurePolicy = iota
	// FailRequest returns the refresh error instead of sending the request.
	FailRequest
)

// Authenticator is an http.RoundTripper that attaches the stored access token.
type Authenticator struct {
	next    http.RoundTripper
	store   tokenstore.Store
	codec   token.Codec
	session Session
	policy  FailurePolicy
	logger  zerolog.Logger
	nowFunc func() time.Time
}

var _ http.RoundTripper = (*Authenticator)(nil)

type AuthenticatorOption func(*Authenticator)

// WithTransport sets the round tripper requests are sent through
// (http.DefaultTransport when unset).
func WithTransport(next http.RoundTripper) AuthenticatorOption {
	return func(a *Authenticator) {
		if next != nil {
			a.next = next
		}
	}
}

func WithCodec(codec token.Codec) AuthenticatorOption {
	return func(a *Authenticator) {
		if codec != nil {
			a.codec = codec
		}
	}
}

func WithFailurePolicy(policy FailurePolicy) AuthenticatorOption {
	return func(a *Authenticator) {
		a.policy = policy
	}
}

func WithLogger(logger zerolog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithNowFunc sets the clock used for expiry checks (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		a.nowFunc = nowFunc
	}
}

func NewAuthenticator(store tokenstore.Store, session Session, options ...AuthenticatorOption) (*Authenticator, error) {
	if store == nil {
		return nil, errors.New("[NewAuthenticator] token store is required")
	}
	if session == nil {
		return nil, errors.New("[NewAuthenticator] session is required")
	}
	a := &Authenticator{
		next:    http.DefaultTransport,
		store:   store,
		codec:   token.NewJWTCodec(),
		session: session,
		policy:  ProceedUnauthenticated,
		logger:  zerolog.Nop(),
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a, nil
}

// Client returns an http.Client sending through the authenticator, wrapped
// by mw with the first middleware outermost.
func (a *Authenticator) Client(mw ...Middleware) *http.Client {
	return &http.Client{Transport: Chain(a, mw...)}
}

func (a *Authenticator) RoundTrip(req *http.Request) (*http.Response, error) {
	pair, err := a.store.Load()
	if err != nil {
		a.logger.Warn().Err(err).Msg("token store unreadable, sending request unauthenticated")
		if a.policy == FailRequest {
			closeBody(req)
			return nil, err
		}
		return a.next.RoundTrip(req)
	}
	if pair == nil {
		return a.next.RoundTrip(req)
	}

	access := pair.Access
	refreshed := false
	if a.codec.IsExpired(access, a.nowFunc()) {
		fresh, err := a.session.RefreshStale(req.Context(), access)
		if err != nil {
			a.logger.Warn().Err(err).Str("url", req.URL.Redacted()).Msg("token refresh failed")
			if a.policy == FailRequest {
				closeBody(req)
				return nil, err
			}
			return a.next.RoundTrip(req)
		}
		access = fresh
		refreshed = true
	}

	resp, err := a.next.RoundTrip(withBearer(req, access))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if refreshed {
		a.logger.Info().Str("url", req.URL.Redacted()).Msg("request unauthorized with a refreshed token")
		a.session.ReportUnauthorized(access)
		return resp, nil
	}
	return a.retryUnauthorized(req, resp, access)
}

// retryUnauthorized refreshes once after a 401 on a token that looked valid
// and replays the request when its body can be rewound.
func (a *Authenticator) retryUnauthorized(req *http.Request, resp *http.Response, access string) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	fresh, err := a.session.RefreshStale(req.Context(), access)
	if err != nil {
		a.logger.Warn().Err(err).Msg("refresh after unauthorized response failed")
		return resp, nil
	}

	retry := withBearer(req, fresh)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	retryResp, err := a.next.RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	if retryResp.StatusCode == http.StatusUnauthorized {
		a.logger.Info().Str("url", req.URL.Redacted()).Msg("request unauthorized after refresh")
		a.session.ReportUnauthorized(fresh)
	}
	return retryResp, nil
}

// closeBody honours the RoundTripper contract on paths that never send req.
func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

func withBearer(req *http.Request, access string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+access)
	return out
}
