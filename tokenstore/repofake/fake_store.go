package repofake

import (
	"sync"

	"github.com/jrsteele09/go-session-client/tokenstore"
)

var _ tokenstore.Store = (*FakeStore)(nil)

// FakeStore is an in-memory tokenstore.Store. It also counts writes so tests
// can assert that an operation left the store untouched.
type FakeStore struct {
	pair   *tokenstore.Pair
	user   *tokenstore.UserSummary
	writes int
	err    error
	lock   sync.RWMutex
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

// FailWith makes every later call return err until it is called with nil.
func (s *FakeStore) FailWith(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.err = err
}

func (s *FakeStore) Save(pair tokenstore.Pair) error {
	if err := pair.Validate(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.err != nil {
		return s.err
	}

	s.pair = &pair
	s.writes++
	return nil
}

func (s *FakeStore) Load() (*tokenstore.Pair, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	if s.pair == nil {
		return nil, nil
	}
	pair := *s.pair
	return &pair, nil
}

func (s *FakeStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.err != nil {
		return s.err
	}

	s.pair = nil
	s.user = nil
	s.writes++
	return nil
}

func (s *FakeStore) SaveUserSummary(user tokenstore.UserSummary) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.err != nil {
		return s.err
	}

	s.user = &user
	s.writes++
	return nil
}

func (s *FakeStore) LoadUserSummary() (*tokenstore.UserSummary, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	if s.user == nil {
		return nil, nil
	}
	user := *s.user
	return &user, nil
}

// Writes reports how many mutating calls have been made.
func (s *FakeStore) Writes() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.writes
}
