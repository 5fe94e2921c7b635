package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/jrsteele09/go-session-client/backend"
	"github.com/jrsteele09/go-session-client/metrics"
	"github.com/jrsteele09/go-session-client/session"
	"github.com/jrsteele09/go-session-client/tokenstore"
)

const refreshKey = "refresh"

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent callers share one backend call; each caller may give up on its
// own ctx while the shared call runs to completion under the refresh timeout.
// On failure the store is cleared and the session demoted. A result that
// arrives after the session was cleared or replaced is discarded.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	return m.awaitRefresh(ctx, m.refreshShared)
}

// RefreshStale is Refresh for a caller holding the expired token stale. When
// another caller has already replaced it with a token that is still valid,
// that token is returned without a backend call. The check runs inside the
// shared call so late arrivals never start a second refresh.
func (m *Manager) RefreshStale(ctx context.Context, stale string) (string, error) {
	return m.awaitRefresh(ctx, func() (string, error) {
		if access, ok := m.currentAccess(stale); ok {
			return access, nil
		}
		return m.refreshShared()
	})
}

func (m *Manager) awaitRefresh(ctx context.Context, fn func() (string, error)) (string, error) {
	ch := m.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return fn()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", newError(KindNetwork, "", ctx.Err())
	}
}

func (m *Manager) currentAccess(stale string) (string, bool) {
	pair, err := m.store.Load()
	if err != nil || pair == nil || pair.Access == stale {
		return "", false
	}
	if m.codec.IsExpired(pair.Access, m.nowFunc()) {
		return "", false
	}
	return pair.Access, true
}

func (m *Manager) refreshShared() (string, error) {
	m.commit.Lock()
	gen := m.generation
	pair, err := m.store.Load()
	if err != nil {
		m.purgeLocked()
		m.commit.Unlock()
		m.metrics.Refresh(metrics.OutcomeFailure)
		return "", storageError(err)
	}
	if pair == nil {
		m.commit.Unlock()
		return "", newError(KindExpiredOrInvalidToken, "No refresh token available.", nil)
	}
	m.commit.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	resp, err := m.backend.RefreshToken(ctx, pair.Refresh)
	if err == nil {
		_, err = m.codec.Decode(resp.Access)
	}
	if err != nil {
		authErr := classify(opRefresh, err)
		m.metrics.Refresh(metrics.OutcomeFailure)
		m.logger.Warn().Err(authErr).Msg("token refresh failed, ending session")
		m.invalidate(gen)
		return "", authErr
	}

	m.commit.Lock()
	defer m.commit.Unlock()

	if m.generation != gen {
		m.metrics.Refresh(metrics.OutcomeStale)
		m.logger.Debug().Msg("discarding refresh result for a cleared session")
		return "", newError(KindExpiredOrInvalidToken, "The session ended while the token was being refreshed.", nil)
	}

	m.generation++
	if err := m.store.Save(tokenstore.Pair{Access: resp.Access, Refresh: pair.Refresh}); err != nil {
		m.purgeLocked()
		m.metrics.Refresh(metrics.OutcomeFailure)
		return "", storageError(err)
	}
	m.metrics.Refresh(metrics.OutcomeSuccess)
	return resp.Access, nil
}

// invalidate clears the session if nothing has replaced the credentials
// since gen was read.
func (m *Manager) invalidate(gen uint64) {
	m.commit.Lock()
	defer m.commit.Unlock()
	if m.generation != gen {
		return
	}
	m.purgeLocked()
}

// Initialize restores the session at startup. With a valid cached pair the
// session is promoted at once from the cached user and re-verified in the
// background; only an explicit rejection from the backend ends it. An expired
// access token gets exactly one refresh attempt.
func (m *Manager) Initialize(ctx context.Context) error {
	pair, err := m.store.Load()
	if err != nil {
		m.logger.Warn().Err(err).Msg("stored session unreadable, starting signed out")
		m.commit.Lock()
		m.purgeLocked()
		m.commit.Unlock()
		return storageError(err)
	}
	if pair == nil {
		m.commit.Lock()
		m.demote()
		m.commit.Unlock()
		return nil
	}

	m.begin()

	access := pair.Access
	if m.codec.IsExpired(access, m.nowFunc()) {
		m.logger.Debug().Msg("cached access token expired, refreshing")
		m.commit.Lock()
		gen := m.generation
		m.commit.Unlock()

		access, err = m.Refresh(ctx)
		if err != nil {
			m.invalidate(gen)
			m.commit.Lock()
			if m.machine.Status() == session.Loading {
				m.demote()
			}
			m.commit.Unlock()
			return err
		}
	}

	claims, err := m.codec.Decode(access)
	if err != nil {
		m.commit.Lock()
		m.purgeLocked()
		m.commit.Unlock()
		return classify(opCheckAuth, err)
	}

	m.commit.Lock()
	current, err := m.store.Load()
	if err != nil || current == nil || current.Access != access {
		m.commit.Unlock()
		return nil
	}
	user, err := m.store.LoadUserSummary()
	if err != nil || user == nil || user.ID == "" {
		rebuilt := userFromClaims(claims)
		user = &rebuilt
		if err := m.store.SaveUserSummary(rebuilt); err != nil {
			m.logger.Warn().Err(err).Msg("failed to cache user summary")
		}
	}
	if err := m.authenticate(*user); err != nil {
		m.purgeLocked()
		m.commit.Unlock()
		return newError(KindServer, "", err)
	}
	gen := m.generation
	m.commit.Unlock()

	m.background.Add(1)
	go m.verify(gen, access)
	return nil
}

// verify confirms the restored session with the backend. Transport and server
// failures keep the optimistic session.
func (m *Manager) verify(gen uint64, access string) {
	defer m.background.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.verifyTimeout)
	defer cancel()

	resp, err := m.backend.CheckAuth(ctx, access)
	if err != nil {
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			m.logger.Info().Int("status", statusErr.StatusCode).Msg("backend rejected restored session")
			m.invalidate(gen)
			return
		}
		m.logger.Warn().Err(classify(opCheckAuth, err)).Msg("session verification failed, keeping cached session")
		return
	}

	if !resp.IsAuthenticated {
		m.logger.Info().Msg("backend reports session is not authenticated")
		m.invalidate(gen)
		return
	}
	if resp.User == nil || resp.User.ID == "" {
		return
	}

	m.commit.Lock()
	defer m.commit.Unlock()
	if m.generation != gen || m.machine.Status() != session.Authenticated {
		return
	}
	if err := m.store.SaveUserSummary(*resp.User); err != nil {
		m.logger.Warn().Err(err).Msg("failed to cache verified user")
	}
	if err := m.authenticate(*resp.User); err != nil {
		m.logger.Error().Err(err).Msg("failed to apply verified user")
	}
}
