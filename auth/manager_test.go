package auth_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/backend"
	"github.com/jrsteele09/go-session-client/backend/backendfake"
	"github.com/jrsteele09/go-session-client/internal/utils"
	"github.com/jrsteele09/go-session-client/metrics"
	"github.com/jrsteele09/go-session-client/session"
	"github.com/jrsteele09/go-session-client/token/tokenfake"
	"github.com/jrsteele09/go-session-client/tokenstore"
	"github.com/jrsteele09/go-session-client/tokenstore/repofake"
)

const (
	testEmail    = "test@example.com"
	testPassword = "SecurePass123!"
	testRefresh  = "refresh-token"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingNavigator struct {
	lock  sync.Mutex
	paths []string
}

func (n *recordingNavigator) Replace(path string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recordingNavigator) Last() string {
	n.lock.Lock()
	defer n.lock.Unlock()
	if len(n.paths) == 0 {
		return ""
	}
	return n.paths[len(n.paths)-1]
}

// testFixture holds all test dependencies
type testFixture struct {
	svc       *backendfake.FakeService
	store     *repofake.FakeStore
	machine   *session.Machine
	redirects *tokenstore.MemoryRedirectStore
	navigator *recordingNavigator
	registry  *prometheus.Registry
	manager   *auth.Manager
}

func setupTestFixture(t *testing.T, options ...auth.ManagerOption) *testFixture {
	t.Helper()

	f := &testFixture{
		svc:       backendfake.NewFakeService(),
		store:     repofake.NewFakeStore(),
		machine:   session.NewMachine(),
		redirects: tokenstore.NewMemoryRedirectStore(),
		navigator: &recordingNavigator{},
		registry:  prometheus.NewRegistry(),
	}

	options = append([]auth.ManagerOption{
		auth.WithNowFunc(func() time.Time { return testNow }),
		auth.WithNavigator(f.navigator),
		auth.WithRedirectStore(f.redirects),
		auth.WithMetrics(metrics.NewCollector(metrics.WithRegistry(f.registry))),
	}, options...)

	manager, err := auth.NewManager(f.svc, f.store, f.machine, options...)
	require.NoError(t, err)
	f.manager = manager
	return f
}

func validAccess(userID string) string {
	return tokenfake.AccessToken(userID, testEmail, testNow.Add(time.Hour))
}

func expiredAccess(userID string) string {
	return tokenfake.AccessToken(userID, testEmail, testNow.Add(-time.Minute))
}

func (f *testFixture) seed(t *testing.T, access string, user *tokenstore.UserSummary) {
	t.Helper()
	require.NoError(t, f.store.Save(tokenstore.Pair{Access: access, Refresh: testRefresh}))
	if user != nil {
		require.NoError(t, f.store.SaveUserSummary(*user))
	}
}

func (f *testFixture) requireSignedOut(t *testing.T) {
	t.Helper()
	require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
	pair, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, pair)
	user, err := f.store.LoadUserSummary()
	require.NoError(t, err)
	require.Nil(t, user)
}

func refreshCount(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "session_token_refreshes_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := auth.NewManager(nil, repofake.NewFakeStore(), session.NewMachine())
	require.Error(t, err)
	_, err = auth.NewManager(backendfake.NewFakeService(), nil, session.NewMachine())
	require.Error(t, err)
	_, err = auth.NewManager(backendfake.NewFakeService(), repofake.NewFakeStore(), nil)
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	t.Run("stores pair and provisional user", func(t *testing.T) {
		f := setupTestFixture(t)
		access := validAccess("1")
		f.svc.LoginFunc = func(_ context.Context, email, password string) (*backend.LoginResponse, error) {
			require.Equal(t, testEmail, email)
			require.Equal(t, testPassword, password)
			return &backend.LoginResponse{Access: access, Refresh: "R"}, nil
		}

		result, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.NoError(t, err)
		require.False(t, result.SecondFactorRequired)

		pair, err := f.store.Load()
		require.NoError(t, err)
		require.Equal(t, &tokenstore.Pair{Access: access, Refresh: "R"}, pair)

		user, err := f.store.LoadUserSummary()
		require.NoError(t, err)
		require.Equal(t, &tokenstore.UserSummary{ID: "1", Email: testEmail}, user)

		snap := f.manager.Snapshot()
		require.Equal(t, session.Authenticated, snap.Status)
		require.Equal(t, "1", snap.User.ID)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusUnauthorized, Detail: "Invalid credentials"}
		}

		_, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)

		var authErr *auth.Error
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, auth.KindInvalidCredentials, authErr.Kind)
		require.Equal(t, "Invalid credentials", authErr.Message)

		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
		require.Equal(t, "Invalid credentials", f.manager.Snapshot().Error)
		require.Zero(t, f.store.Writes())

		f.manager.ClearError()
		require.Empty(t, f.manager.Snapshot().Error)
	})

	t.Run("network failure is distinguishable from validation", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return nil, &backend.TransportError{Op: "POST login", Err: errors.New("connection refused")}
		}

		_, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.ErrorIs(t, err, auth.ErrNetwork)
		require.True(t, auth.Retryable(err))
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
	})

	t.Run("missing input fails before any request", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.manager.Login(context.Background(), " ", testPassword)
		require.ErrorIs(t, err, auth.ErrValidation)
		require.Zero(t, f.svc.TotalCalls())
	})

	t.Run("redirects to pending target once", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return &backend.LoginResponse{Access: validAccess("1"), Refresh: "R"}, nil
		}
		f.redirects.SetPendingRedirect("/dashboard/profile")

		result, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.NoError(t, err)
		require.Equal(t, "/dashboard/profile", result.RedirectTo)
		require.Equal(t, "/dashboard/profile", f.navigator.Last())

		_, ok := f.redirects.ConsumePendingRedirect()
		require.False(t, ok, "target is cleared after use")
	})

	t.Run("redirects to landing without target", func(t *testing.T) {
		f := setupTestFixture(t, auth.WithLandingPath("/home"))
		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return &backend.LoginResponse{Access: validAccess("1"), Refresh: "R"}, nil
		}

		result, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.NoError(t, err)
		require.Equal(t, "/home", result.RedirectTo)
		require.Equal(t, "/home", f.navigator.Last())
	})

	t.Run("backend user wins over claims", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return &backend.LoginResponse{
				Access:  validAccess("1"),
				Refresh: "R",
				User:    &tokenstore.UserSummary{ID: "1", Email: testEmail, Username: "tester"},
			}, nil
		}

		result, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.NoError(t, err)
		require.Equal(t, "tester", result.User.Username)
	})

	t.Run("undecodable access token writes nothing", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return &backend.LoginResponse{Access: "garbage", Refresh: "R"}, nil
		}

		_, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.ErrorIs(t, err, auth.ErrDecode)
		require.Zero(t, f.store.Writes())
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
	})

	t.Run("failed re-login keeps the existing session", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return &backend.LoginResponse{Access: validAccess("1"), Refresh: "R"}, nil
		}
		_, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.NoError(t, err)

		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusTooManyRequests}
		}
		_, err = f.manager.Login(context.Background(), testEmail, testPassword)
		require.ErrorIs(t, err, auth.ErrRateLimited)
		require.Equal(t, session.Authenticated, f.manager.Snapshot().Status)
	})

	t.Run("storage failure degrades to signed out", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return &backend.LoginResponse{Access: validAccess("1"), Refresh: "R"}, nil
		}
		f.store.FailWith(errors.New("disk full"))

		_, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.ErrorIs(t, err, auth.ErrStorage)
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
	})
}

func TestSecondFactor(t *testing.T) {
	t.Run("login challenge then verify", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
			return &backend.LoginResponse{RequiresSecondFactor: true, UserID: "1", TempToken: "tmp"}, nil
		}
		var sent backend.SecondFactorRequest
		f.svc.VerifySecondFactorFunc = func(_ context.Context, req backend.SecondFactorRequest) (*backend.LoginResponse, error) {
			sent = req
			return &backend.LoginResponse{Access: validAccess("1"), Refresh: "R"}, nil
		}

		result, err := f.manager.Login(context.Background(), testEmail, testPassword)
		require.NoError(t, err)
		require.True(t, result.SecondFactorRequired)
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
		require.Zero(t, f.store.Writes())

		var lock sync.Mutex
		var seen []session.Status
		_, err = f.manager.Subscribe(func(s session.Snapshot) {
			lock.Lock()
			defer lock.Unlock()
			seen = append(seen, s.Status)
		})
		require.NoError(t, err)

		f.redirects.SetPendingRedirect("/dashboard/tasks")
		result, err = f.manager.VerifySecondFactor(context.Background(), "123456")
		require.NoError(t, err)
		require.Equal(t, "1", result.User.ID)
		require.Equal(t, "/dashboard/tasks", f.navigator.Last())
		require.Equal(t, backend.SecondFactorRequest{Code: "123456", UserID: "1", TempToken: "tmp"}, sent)

		f.machine.WaitPublished()
		lock.Lock()
		defer lock.Unlock()
		require.Equal(t, []session.Status{session.Loading, session.Authenticated}, seen)
	})

	t.Run("rejects malformed codes before any request", func(t *testing.T) {
		f := setupTestFixture(t)
		for _, code := range []string{"12345", "1234567", "12a456", "", "１２３４５６"} {
			_, err := f.manager.VerifySecondFactor(context.Background(), code)
			require.ErrorIs(t, err, auth.ErrValidation, code)
		}
		require.Zero(t, f.svc.TotalCalls())
	})

	t.Run("rejected code leaves status alone", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.VerifySecondFactorFunc = func(context.Context, backend.SecondFactorRequest) (*backend.LoginResponse, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusBadRequest, Detail: "Invalid code"}
		}

		_, err := f.manager.VerifySecondFactor(context.Background(), "654321")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
		require.Zero(t, f.store.Writes())
	})
}

func TestRegister(t *testing.T) {
	valid := auth.RegisterData{
		Username:        "tester",
		Email:           testEmail,
		Password:        testPassword,
		PasswordConfirm: testPassword,
		FirstName:       "Test",
		LastName:        "User",
		OrganizationID:  utils.Ptr(""),
		PhoneNumber:     utils.Ptr(" 555-0100 "),
	}

	t.Run("submits without changing status", func(t *testing.T) {
		f := setupTestFixture(t)
		var sent backend.RegisterRequest
		f.svc.RegisterFunc = func(_ context.Context, req backend.RegisterRequest) (map[string]any, error) {
			sent = req
			return map[string]any{"id": 1}, nil
		}

		require.NoError(t, f.manager.Register(context.Background(), valid))
		require.Nil(t, sent.OrganizationID, "blank organization is sent as absent")
		require.Equal(t, "555-0100", utils.Value(sent.PhoneNumber))
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
		require.Zero(t, f.store.Writes())
	})

	t.Run("local validation", func(t *testing.T) {
		f := setupTestFixture(t)
		data := valid
		data.PasswordConfirm = "different"
		data.FirstName = ""

		err := f.manager.Register(context.Background(), data)
		var authErr *auth.Error
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, auth.KindValidation, authErr.Kind)
		require.Contains(t, authErr.Fields, "password_confirm")
		require.Contains(t, authErr.Fields, "first_name")
		require.Zero(t, f.svc.TotalCalls())
	})

	t.Run("field errors from backend", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.RegisterFunc = func(context.Context, backend.RegisterRequest) (map[string]any, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusBadRequest, Fields: map[string][]string{"email": {"already registered"}}}
		}

		err := f.manager.Register(context.Background(), valid)
		var authErr *auth.Error
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, auth.KindValidation, authErr.Kind)
		require.Equal(t, []string{"already registered"}, authErr.Fields["email"])
	})
}

func TestLogout(t *testing.T) {
	tests := map[string]func(ctx context.Context, refresh string) error{
		"backend succeeds": func(context.Context, string) error { return nil },
		"backend fails": func(context.Context, string) error {
			return &backend.StatusError{StatusCode: http.StatusInternalServerError}
		},
		"backend unreachable": func(context.Context, string) error {
			return &backend.TransportError{Op: "POST logout", Err: errors.New("no route to host")}
		},
		"backend times out": func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return &backend.TransportError{Op: "POST logout", Err: ctx.Err()}
		},
	}
	for name, logoutFunc := range tests {
		t.Run(name, func(t *testing.T) {
			f := setupTestFixture(t, auth.WithLogoutTimeout(20*time.Millisecond))
			f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
				return &backend.LoginResponse{Access: validAccess("1"), Refresh: testRefresh}, nil
			}
			var sentRefresh string
			f.svc.LogoutFunc = func(ctx context.Context, refresh string) error {
				sentRefresh = refresh
				return logoutFunc(ctx, refresh)
			}
			_, err := f.manager.Login(context.Background(), testEmail, testPassword)
			require.NoError(t, err)

			require.NoError(t, f.manager.Logout(context.Background()))
			require.Equal(t, testRefresh, sentRefresh)
			f.requireSignedOut(t)
			require.Equal(t, auth.DefaultLoginPath, f.navigator.Last())
		})
	}

	t.Run("without a session skips the backend", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.manager.Logout(context.Background()))
		require.Zero(t, f.svc.Calls(backendfake.CallLogout))
		f.requireSignedOut(t)
	})
}

func TestRefresh(t *testing.T) {
	t.Run("replaces only the access token", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seed(t, expiredAccess("1"), &tokenstore.UserSummary{ID: "1"})
		fresh := validAccess("1")
		f.svc.RefreshTokenFunc = func(_ context.Context, refresh string) (*backend.RefreshResponse, error) {
			require.Equal(t, testRefresh, refresh)
			return &backend.RefreshResponse{Access: fresh}, nil
		}

		access, err := f.manager.Refresh(context.Background())
		require.NoError(t, err)
		require.Equal(t, fresh, access)

		pair, err := f.store.Load()
		require.NoError(t, err)
		require.Equal(t, &tokenstore.Pair{Access: fresh, Refresh: testRefresh}, pair)
	})

	t.Run("failure clears the store and demotes", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seed(t, validAccess("1"), &tokenstore.UserSummary{ID: "1"})
		require.NoError(t, f.machine.Begin())
		require.NoError(t, f.machine.Authenticate(tokenstore.UserSummary{ID: "1"}))
		f.svc.RefreshTokenFunc = func(context.Context, string) (*backend.RefreshResponse, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusUnauthorized, Detail: "Token is blacklisted"}
		}

		_, err := f.manager.Refresh(context.Background())
		require.ErrorIs(t, err, auth.ErrExpiredOrInvalidToken)
		f.requireSignedOut(t)
	})

	t.Run("undecodable refreshed token is a failure", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seed(t, expiredAccess("1"), nil)
		f.svc.RefreshTokenFunc = func(context.Context, string) (*backend.RefreshResponse, error) {
			return &backend.RefreshResponse{Access: "not-a-jwt"}, nil
		}

		_, err := f.manager.Refresh(context.Background())
		require.ErrorIs(t, err, auth.ErrDecode)
		f.requireSignedOut(t)
	})

	t.Run("concurrent callers share one refresh", func(t *testing.T) {
		f := setupTestFixture(t)
		stale := expiredAccess("1")
		f.seed(t, stale, &tokenstore.UserSummary{ID: "1"})
		fresh := validAccess("1")

		release := make(chan struct{})
		f.svc.RefreshTokenFunc = func(context.Context, string) (*backend.RefreshResponse, error) {
			<-release
			return &backend.RefreshResponse{Access: fresh}, nil
		}

		const callers = 5
		results := make(chan string, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				access, err := f.manager.RefreshStale(context.Background(), stale)
				require.NoError(t, err)
				results <- access
			}()
		}

		require.Eventually(t, func() bool { return f.svc.Calls(backendfake.CallRefreshToken) == 1 }, time.Second, time.Millisecond)
		close(release)
		wg.Wait()
		close(results)

		for access := range results {
			require.Equal(t, fresh, access)
		}
		require.Equal(t, 1, f.svc.Calls(backendfake.CallRefreshToken))
		require.Equal(t, 1.0, refreshCount(t, f.registry, metrics.OutcomeSuccess))
	})

	t.Run("caller can abandon the wait", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seed(t, expiredAccess("1"), nil)
		release := make(chan struct{})
		defer close(release)
		f.svc.RefreshTokenFunc = func(context.Context, string) (*backend.RefreshResponse, error) {
			<-release
			return &backend.RefreshResponse{Access: validAccess("1")}, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := f.manager.Refresh(ctx)
		require.ErrorIs(t, err, auth.ErrNetwork)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("logout wins over a late refresh", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seed(t, expiredAccess("1"), &tokenstore.UserSummary{ID: "1"})

		started := make(chan struct{})
		release := make(chan struct{})
		f.svc.RefreshTokenFunc = func(context.Context, string) (*backend.RefreshResponse, error) {
			close(started)
			<-release
			return &backend.RefreshResponse{Access: validAccess("1")}, nil
		}

		errCh := make(chan error, 1)
		go func() {
			_, err := f.manager.Refresh(context.Background())
			errCh <- err
		}()

		<-started
		require.NoError(t, f.manager.Logout(context.Background()))
		close(release)

		require.ErrorIs(t, <-errCh, auth.ErrExpiredOrInvalidToken)
		f.requireSignedOut(t)
		require.Equal(t, 1.0, refreshCount(t, f.registry, metrics.OutcomeStale))
	})
}

func TestInitialize(t *testing.T) {
	t.Run("no cached pair", func(t *testing.T) {
		f := setupTestFixture(t)

		require.NoError(t, f.manager.Initialize(context.Background()))
		f.manager.Wait()
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
		require.Zero(t, f.svc.TotalCalls())
	})

	t.Run("valid pair is optimistic then verified", func(t *testing.T) {
		f := setupTestFixture(t)
		access := validAccess("1")
		f.seed(t, access, &tokenstore.UserSummary{ID: "1", Email: testEmail})

		release := make(chan struct{})
		f.svc.CheckAuthFunc = func(_ context.Context, got string) (*backend.CheckAuthResponse, error) {
			require.Equal(t, access, got)
			<-release
			return &backend.CheckAuthResponse{
				IsAuthenticated: true,
				User:            &tokenstore.UserSummary{ID: "1", Email: testEmail, Username: "verified"},
			}, nil
		}

		require.NoError(t, f.manager.Initialize(context.Background()))
		require.Equal(t, session.Authenticated, f.manager.Snapshot().Status, "authenticated before verification completes")

		close(release)
		f.manager.Wait()
		snap := f.manager.Snapshot()
		require.Equal(t, session.Authenticated, snap.Status)
		require.Equal(t, "verified", snap.User.Username)

		cached, err := f.store.LoadUserSummary()
		require.NoError(t, err)
		require.Equal(t, "verified", cached.Username)
	})

	t.Run("explicit rejection demotes", func(t *testing.T) {
		rejections := map[string]func(context.Context, string) (*backend.CheckAuthResponse, error){
			"not authenticated": func(context.Context, string) (*backend.CheckAuthResponse, error) {
				return &backend.CheckAuthResponse{IsAuthenticated: false}, nil
			},
			"401": func(context.Context, string) (*backend.CheckAuthResponse, error) {
				return nil, &backend.StatusError{StatusCode: http.StatusUnauthorized}
			},
			"403": func(context.Context, string) (*backend.CheckAuthResponse, error) {
				return nil, &backend.StatusError{StatusCode: http.StatusForbidden}
			},
		}
		for name, checkAuth := range rejections {
			t.Run(name, func(t *testing.T) {
				f := setupTestFixture(t)
				f.seed(t, validAccess("1"), &tokenstore.UserSummary{ID: "1"})
				f.svc.CheckAuthFunc = checkAuth

				require.NoError(t, f.manager.Initialize(context.Background()))
				f.manager.Wait()
				f.requireSignedOut(t)
			})
		}
	})

	t.Run("transient verification failure keeps the session", func(t *testing.T) {
		failures := map[string]error{
			"network": &backend.TransportError{Op: "GET check-auth", Err: errors.New("offline")},
			"server":  &backend.StatusError{StatusCode: http.StatusBadGateway},
		}
		for name, failure := range failures {
			t.Run(name, func(t *testing.T) {
				f := setupTestFixture(t)
				f.seed(t, validAccess("1"), &tokenstore.UserSummary{ID: "1"})
				f.svc.CheckAuthFunc = func(context.Context, string) (*backend.CheckAuthResponse, error) {
					return nil, failure
				}

				require.NoError(t, f.manager.Initialize(context.Background()))
				f.manager.Wait()
				require.Equal(t, session.Authenticated, f.manager.Snapshot().Status)
				pair, err := f.store.Load()
				require.NoError(t, err)
				require.NotNil(t, pair)
			})
		}
	})

	t.Run("missing cached user is rebuilt from claims", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seed(t, validAccess("7"), nil)
		f.svc.CheckAuthFunc = func(context.Context, string) (*backend.CheckAuthResponse, error) {
			return &backend.CheckAuthResponse{IsAuthenticated: true}, nil
		}

		require.NoError(t, f.manager.Initialize(context.Background()))
		f.manager.Wait()
		snap := f.manager.Snapshot()
		require.Equal(t, session.Authenticated, snap.Status)
		require.Equal(t, tokenstore.UserSummary{ID: "7", Email: testEmail}, *snap.User)
	})

	t.Run("expired access refreshes exactly once", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seed(t, expiredAccess("1"), &tokenstore.UserSummary{ID: "1"})
		fresh := validAccess("1")
		f.svc.RefreshTokenFunc = func(context.Context, string) (*backend.RefreshResponse, error) {
			return &backend.RefreshResponse{Access: fresh}, nil
		}
		f.svc.CheckAuthFunc = func(_ context.Context, got string) (*backend.CheckAuthResponse, error) {
			require.Equal(t, fresh, got)
			return &backend.CheckAuthResponse{IsAuthenticated: true}, nil
		}

		require.NoError(t, f.manager.Initialize(context.Background()))
		f.manager.Wait()
		require.Equal(t, 1, f.svc.Calls(backendfake.CallRefreshToken))
		require.Equal(t, session.Authenticated, f.manager.Snapshot().Status)
	})

	t.Run("expired access with failed refresh", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seed(t, expiredAccess("1"), &tokenstore.UserSummary{ID: "1"})
		f.svc.RefreshTokenFunc = func(context.Context, string) (*backend.RefreshResponse, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusUnauthorized}
		}

		err := f.manager.Initialize(context.Background())
		require.ErrorIs(t, err, auth.ErrExpiredOrInvalidToken)
		f.manager.Wait()
		require.Equal(t, 1, f.svc.Calls(backendfake.CallRefreshToken))
		require.Zero(t, f.svc.Calls(backendfake.CallCheckAuth))
		f.requireSignedOut(t)
	})

	t.Run("unreadable store starts signed out", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seed(t, validAccess("1"), nil)
		f.store.FailWith(errors.New("corrupt"))

		err := f.manager.Initialize(context.Background())
		require.ErrorIs(t, err, auth.ErrStorage)
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
	})
}

func TestReportUnauthorized(t *testing.T) {
	f := setupTestFixture(t)
	f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
		return &backend.LoginResponse{Access: validAccess("1"), Refresh: "R"}, nil
	}
	_, err := f.manager.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	f.manager.ReportUnauthorized(validAccess("2"))
	require.Equal(t, session.Authenticated, f.manager.Snapshot().Status, "replaced token is ignored")

	f.manager.ReportUnauthorized(validAccess("1"))
	f.requireSignedOut(t)
}

func TestVerifyEmail(t *testing.T) {
	f := setupTestFixture(t)
	f.svc.VerifyEmailFunc = func(_ context.Context, key string) (map[string]any, error) {
		require.Equal(t, "abc", key)
		return map[string]any{"detail": "ok"}, nil
	}

	payload, err := f.manager.VerifyEmail(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "ok", payload["detail"])
	require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)

	f.svc.VerifyEmailFunc = func(context.Context, string) (map[string]any, error) {
		return nil, &backend.StatusError{StatusCode: http.StatusNotFound}
	}
	_, err = f.manager.VerifyEmail(context.Background(), "stale")
	require.ErrorIs(t, err, auth.ErrExpiredOrInvalidToken)
}

func TestPasswordReset(t *testing.T) {
	t.Run("request maps unknown email to validation", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.RequestPasswordResetFunc = func(context.Context, string) error {
			return &backend.StatusError{StatusCode: http.StatusNotFound, Detail: "No account with that email"}
		}

		err := f.manager.RequestPasswordReset(context.Background(), testEmail)
		require.ErrorIs(t, err, auth.ErrValidation)
		require.Equal(t, "No account with that email", auth.UserMessage(err))
	})

	t.Run("confirm with stale token", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.ConfirmPasswordResetFunc = func(_ context.Context, req backend.PasswordResetConfirm) error {
			require.Equal(t, "42", req.UserID)
			return &backend.StatusError{StatusCode: http.StatusBadRequest, Fields: map[string][]string{"token": {"Invalid or expired."}}}
		}

		err := f.manager.ConfirmPasswordReset(context.Background(), auth.PasswordResetConfirm{
			Token: "t", Password: "NewPass123!", PasswordConfirm: "NewPass123!", UserID: "42",
		})
		require.ErrorIs(t, err, auth.ErrExpiredOrInvalidToken)
	})

	t.Run("confirm with weak password", func(t *testing.T) {
		f := setupTestFixture(t)
		f.svc.ConfirmPasswordResetFunc = func(context.Context, backend.PasswordResetConfirm) error {
			return &backend.StatusError{StatusCode: http.StatusBadRequest, Fields: map[string][]string{"password": {"This password is too common."}}}
		}

		err := f.manager.ConfirmPasswordReset(context.Background(), auth.PasswordResetConfirm{Token: "t", Password: "password"})
		require.ErrorIs(t, err, auth.ErrValidation)
	})

	t.Run("confirm checks locally first", func(t *testing.T) {
		f := setupTestFixture(t)
		err := f.manager.ConfirmPasswordReset(context.Background(), auth.PasswordResetConfirm{Token: "t", Password: "a", PasswordConfirm: "b"})
		require.ErrorIs(t, err, auth.ErrValidation)
		require.Zero(t, f.svc.TotalCalls())
	})
}

func TestLoginMetrics(t *testing.T) {
	f := setupTestFixture(t)
	f.svc.LoginFunc = func(context.Context, string, string) (*backend.LoginResponse, error) {
		return &backend.LoginResponse{Access: validAccess("1"), Refresh: "R"}, nil
	}
	_, err := f.manager.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(f.registry, "session_logins_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
