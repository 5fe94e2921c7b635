// Package guard decides whether a route renders, shows a placeholder or
// redirects, based on the session status.
package guard

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-client/session"
	"github.com/jrsteele09/go-session-client/tokenstore"
)

type Action int

const (
	Render Action = iota
	// Placeholder shows neutral content while the status is still loading.
	Placeholder
	Redirect
)

func (a Action) String() string {
	switch a {
	case Render:
		return "render"
	case Placeholder:
		return "placeholder"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

type Decision struct {
	Action   Action
	Location string
}

var (
	DefaultProtected = []string{"/dashboard"}
	DefaultAuthOnly  = []string{"/", "/auth/login", "/auth/register", "/auth/forgot-password"}
)

// Guard gates protected and auth-only routes.
type Guard struct {
	redirects   tokenstore.RedirectStore
	protected   []string
	authOnly    map[string]struct{}
	loginPath   string
	landingPath string
	placeholder http.Handler
}

type Option func(*Guard)

// WithProtected replaces the protected prefixes. A prefix matches itself and
// everything below it on a segment boundary.
func WithProtected(prefixes ...string) Option {
	return func(g *Guard) {
		g.protected = g.protected[:0]
		for _, p := range prefixes {
			if p = strings.TrimSpace(p); p != "" {
				g.protected = append(g.protected, normalize(p))
			}
		}
	}
}

// WithAuthOnly replaces the paths an authenticated user is sent away from.
func WithAuthOnly(paths ...string) Option {
	return func(g *Guard) {
		g.authOnly = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			if p = strings.TrimSpace(p); p != "" {
				g.authOnly[normalize(p)] = struct{}{}
			}
		}
	}
}

func WithLoginPath(path string) Option {
	return func(g *Guard) {
		if path != "" {
			g.loginPath = path
		}
	}
}

func WithLandingPath(path string) Option {
	return func(g *Guard) {
		if path != "" {
			g.landingPath = path
		}
	}
}

// WithPlaceholder sets the handler served while the status is loading.
func WithPlaceholder(h http.Handler) Option {
	return func(g *Guard) {
		if h != nil {
			g.placeholder = h
		}
	}
}

// New builds a guard that records blocked destinations in redirects.
func New(redirects tokenstore.RedirectStore, options ...Option) (*Guard, error) {
	if redirects == nil {
		return nil, errors.New("[New] redirect store is required")
	}
	g := &Guard{
		redirects:   redirects,
		loginPath:   "/auth/login",
		landingPath: "/dashboard",
		placeholder: http.HandlerFunc(loadingPlaceholder),
	}
	WithProtected(DefaultProtected...)(g)
	WithAuthOnly(DefaultAuthOnly...)(g)
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Decide returns what to do with path for status. Redirecting to login
// records path as the pending redirect target.
func (g *Guard) Decide(path string, status session.Status) Decision {
	return g.decide(path, path, status)
}

func (g *Guard) decide(path, target string, status session.Status) Decision {
	switch status {
	case session.Loading:
		return Decision{Action: Placeholder}
	case session.Authenticated:
		if g.IsAuthOnly(path) && normalize(path) != normalize(g.landingPath) {
			return Decision{Action: Redirect, Location: g.landingPath}
		}
	case session.Unauthenticated:
		if g.IsProtected(path) && normalize(path) != normalize(g.loginPath) {
			g.redirects.SetPendingRedirect(target)
			return Decision{Action: Redirect, Location: g.loginPath}
		}
	}
	return Decision{Action: Render}
}

// IsProtected matches path against the protected prefixes.
func (g *Guard) IsProtected(path string) bool {
	path = normalize(path)
	for _, p := range g.protected {
		if p == "/" || path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// IsAuthOnly matches path exactly, ignoring a trailing slash.
func (g *Guard) IsAuthOnly(path string) bool {
	_, ok := g.authOnly[normalize(path)]
	return ok
}

// StatusSource reports the current session state.
type StatusSource interface {
	Snapshot() session.Snapshot
}

// Middleware applies decisions to every request served by next. Redirects use
// 303 See Other.
func (g *Guard) Middleware(source StatusSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.decide(r.URL.Path, r.URL.RequestURI(), source.Snapshot().Status)
			switch decision.Action {
			case Placeholder:
				g.placeholder.ServeHTTP(w, r)
			case Redirect:
				http.Redirect(w, r, decision.Location, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func loadingPlaceholder(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Loading"))
}

func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}
