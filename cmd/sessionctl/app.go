package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/backend"
	"github.com/jrsteele09/go-session-client/client"
	"github.com/jrsteele09/go-session-client/guard"
	"github.com/jrsteele09/go-session-client/internal/config"
	"github.com/jrsteele09/go-session-client/metrics"
	"github.com/jrsteele09/go-session-client/session"
	"github.com/jrsteele09/go-session-client/token"
	"github.com/jrsteele09/go-session-client/tokenstore"
	"github.com/jrsteele09/go-session-client/tokenstore/filestore"
	"github.com/jrsteele09/go-session-client/tokenstore/redisstore"
	"github.com/jrsteele09/go-session-client/tokenstore/repofake"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// app holds everything one sessionctl invocation works with.
type app struct {
	config        config.Config
	logger        zerolog.Logger
	in            *bufio.Reader
	out           io.Writer
	store         tokenstore.Store
	closeStore    func() error
	machine       *session.Machine
	manager       *auth.Manager
	guard         *guard.Guard
	codec         token.Codec
	registry      *prometheus.Registry
	unsubscribe   func()
	navigatedTo   string
}

func newApp(c config.Config, in io.Reader, out io.Writer) (_ *app, err error) {
	a := &app{
		config:   c,
		logger:   log.Logger,
		in:       bufio.NewReader(in),
		out:      out,
		registry: prometheus.NewRegistry(),
	}

	store, closeStore, err := openStore(c)
	if err != nil {
		return nil, err
	}
	a.store, a.closeStore = store, closeStore
	defer func() {
		if err != nil {
			if closeErr := closeStore(); closeErr != nil {
				a.logger.Warn().Err(closeErr).Msg("failed to close token store")
			}
		}
	}()

	svc, err := backend.NewHTTPClient(c.GetAPIBaseURL(),
		backend.WithHTTPClient(&http.Client{Timeout: c.GetRequestTimeout()}),
		backend.WithLogger(a.logger),
	)
	if err != nil {
		return nil, errors.Wrap(err, "backend client")
	}

	codec, err := newCodec(c)
	if err != nil {
		return nil, err
	}
	redirects := tokenstore.NewMemoryRedirectStore()
	a.machine = session.NewMachine()

	a.manager, err = auth.NewManager(svc, store, a.machine,
		auth.WithLogger(a.logger),
		auth.WithMetrics(metrics.NewCollector(
			metrics.WithRegistry(a.registry),
			metrics.WithConstLabels(prometheus.Labels{"app": c.GetAppName()}),
		)),
		auth.WithCodec(codec),
		auth.WithRedirectStore(redirects),
		auth.WithNavigator(auth.NavigatorFunc(a.navigate)),
		auth.WithLoginPath(c.GetLoginPath()),
		auth.WithLandingPath(c.GetLandingPath()),
		auth.WithRefreshTimeout(c.GetRefreshTimeout()),
		auth.WithVerifyTimeout(c.GetVerifyTimeout()),
		auth.WithLogoutTimeout(c.GetLogoutTimeout()),
	)
	if err != nil {
		return nil, err
	}

	a.guard, err = guard.New(redirects,
		guard.WithProtected(c.GetProtectedPrefixes()...),
		guard.WithAuthOnly(c.GetAuthOnlyPaths()...),
		guard.WithLoginPath(c.GetLoginPath()),
		guard.WithLandingPath(c.GetLandingPath()),
	)
	if err != nil {
		return nil, err
	}

	a.codec = codec

	a.unsubscribe, err = a.manager.Subscribe(func(s session.Snapshot) {
		a.logger.Debug().Str("status", s.Status.String()).Str("error", s.Error).Msg("session changed")
	})
	if err != nil {
		return nil, errors.Wrap(err, "session subscribe")
	}
	return a, nil
}

// newCodec verifies token signatures when TOKEN_VERIFY_KEYS names a key file
// and otherwise decodes without verification.
func newCodec(c config.Config) (token.Codec, error) {
	leeway := token.WithLeeway(c.GetTokenLeeway())
	path := c.GetTokenVerifyKeys()
	if path == "" {
		return token.NewJWTCodec(leeway), nil
	}
	keys, err := token.LoadPublicKeys(path)
	if err != nil {
		return nil, errors.Wrap(err, "token verify keys")
	}
	return token.NewSignedCodec(keys, c.GetTokenVerifyAlgs(), leeway), nil
}

// openStore picks the durable store named by STORE_BACKEND.
func openStore(c config.Config) (tokenstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch backendName := c.GetStoreBackend(); backendName {
	case config.StoreBackendFile:
		key, err := c.GetStoreKey()
		if err != nil {
			return nil, nil, err
		}
		store, err := filestore.New(c.GetDataFolder(), filestore.WithEncryptionKey(key))
		if err != nil {
			return nil, nil, errors.Wrap(err, "file store")
		}
		return store, noop, nil
	case config.StoreBackendRedis:
		store, err := redisstore.New(redisstore.Config{
			Addr:    c.GetRedisAddr(),
			Prefix:  c.GetRedisPrefix(),
			Timeout: c.GetRequestTimeout(),
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "redis store")
		}
		return store, store.Close, nil
	case config.StoreBackendMemory:
		return repofake.NewFakeStore(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", backendName)
	}
}

// initialize restores the saved session. Background verification is awaited
// so that a revoked session is reported before the command runs.
func (a *app) initialize(ctx context.Context) error {
	if err := a.manager.Initialize(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("session restore failed")
	}
	a.manager.Wait()
	return nil
}

func (a *app) close() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.machine.WaitPublished()
	return a.closeStore()
}

func (a *app) newAuthenticator(policy client.FailurePolicy) (*client.Authenticator, error) {
	return client.NewAuthenticator(a.store, a.manager,
		client.WithCodec(a.codec),
		client.WithFailurePolicy(policy),
		client.WithLogger(a.logger),
	)
}

// httpClient sends API requests with the session's access token attached.
func (a *app) httpClient(policy client.FailurePolicy) (*http.Client, error) {
	authenticator, err := a.newAuthenticator(policy)
	if err != nil {
		return nil, err
	}
	httpClient := authenticator.Client(
		client.RequestID(),
		client.Logging(a.logger, a.config.GetEnv()),
	)
	httpClient.Timeout = a.config.GetRequestTimeout()
	return httpClient, nil
}

func (a *app) navigate(path string) {
	a.navigatedTo = path
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// prompt reads one line from the input, trimming the newline.
func (a *app) prompt(label string) (string, error) {
	a.printf("%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", errors.Wrap(err, "read "+strings.ToLower(label))
	}
	return strings.TrimSpace(line), nil
}

// userError turns a manager failure into the message shown to the user,
// followed by any per-field messages.
func (a *app) userError(err error) error {
	a.logger.Debug().Err(err).Msg("operation failed")
	msg := auth.UserMessage(err)
	var authErr *auth.Error
	if errors.As(err, &authErr) && len(authErr.Fields) > 0 {
		a.printf("%s\n", (&backend.StatusError{Fields: authErr.Fields}).FieldSummary())
	}
	return errors.New(msg)
}
