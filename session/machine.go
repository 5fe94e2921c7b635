// Package session holds the in-memory authentication state that every consumer
// reads, and publishes each change to subscribers.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asaskevich/EventBus"

	"github.com/jrsteele09/go-session-client/tokenstore"
)

// TopicChanged is the bus topic carrying a Snapshot after every change.
const TopicChanged = "session:changed"

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrUserRequired      = errors.New("authenticated session requires a user")
)

// Snapshot is a consistent copy of the machine state.
type Snapshot struct {
	Status Status                  `json:"status"`
	User   *tokenstore.UserSummary `json:"user,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// Machine is the single source of truth for session status. Mutations are
// published in order on the bus; handlers run asynchronously and must not
// mutate the machine from inside the handler goroutine.
type Machine struct {
	lock    sync.RWMutex
	publish sync.Mutex
	status  Status
	user    *tokenstore.UserSummary
	errMsg  string
	bus     EventBus.Bus
}

type Option func(*Machine)

// WithBus publishes on an existing bus instead of a private one.
func WithBus(bus EventBus.Bus) Option {
	return func(m *Machine) {
		if bus != nil {
			m.bus = bus
		}
	}
}

func NewMachine(options ...Option) *Machine {
	m := &Machine{
		status: Unauthenticated,
		bus:    EventBus.New(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *Machine) Snapshot() Snapshot {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.snapshotLocked()
}

func (m *Machine) Status() Status {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.status
}

// Begin moves to Loading. The current user is kept so a failed operation can
// restore it.
func (m *Machine) Begin() error {
	return m.Transition(Loading, nil)
}

// Authenticate moves to Authenticated with user, which must carry an ID.
// Calling it while already authenticated replaces the user.
func (m *Machine) Authenticate(user tokenstore.UserSummary) error {
	return m.Transition(Authenticated, &user)
}

// Reset moves to Unauthenticated and drops the user. It is legal from every
// status.
func (m *Machine) Reset() {
	_ = m.Transition(Unauthenticated, nil)
}

// Transition applies a move from the current status and publishes the result.
func (m *Machine) Transition(to Status, user *tokenstore.UserSummary) error {
	if to == Authenticated && (user == nil || user.ID == "") {
		return ErrUserRequired
	}

	m.publish.Lock()
	defer m.publish.Unlock()

	m.lock.Lock()
	if !CanTransition(m.status, to) {
		from := m.status
		m.lock.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	m.status = to
	switch to {
	case Authenticated:
		u := *user
		m.user = &u
	case Unauthenticated:
		m.user = nil
	}
	snap := m.snapshotLocked()
	m.lock.Unlock()

	m.bus.Publish(TopicChanged, snap)
	return nil
}

// SetError records the message shown to the user for the last failure.
func (m *Machine) SetError(msg string) {
	m.update(func() bool {
		if m.errMsg == msg {
			return false
		}
		m.errMsg = msg
		return true
	})
}

func (m *Machine) ClearError() {
	m.SetError("")
}

func (m *Machine) update(fn func() bool) {
	m.publish.Lock()
	defer m.publish.Unlock()

	m.lock.Lock()
	changed := fn()
	snap := m.snapshotLocked()
	m.lock.Unlock()

	if changed {
		m.bus.Publish(TopicChanged, snap)
	}
}

// Subscribe registers fn for every published Snapshot. Calls for one
// subscriber never overlap and arrive in publish order. The returned func
// removes the subscription.
func (m *Machine) Subscribe(fn func(Snapshot)) (func(), error) {
	if fn == nil {
		return nil, errors.New("[Subscribe] handler is required")
	}
	if err := m.bus.SubscribeAsync(TopicChanged, fn, true); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return func() {
		_ = m.bus.Unsubscribe(TopicChanged, fn)
	}, nil
}

// WaitPublished blocks until every handler started so far has returned.
func (m *Machine) WaitPublished() {
	m.bus.WaitAsync()
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{Status: m.status, Error: m.errMsg}
	if m.user != nil {
		u := *m.user
		snap.User = &u
	}
	return snap
}
