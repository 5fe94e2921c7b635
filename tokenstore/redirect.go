package tokenstore

import "sync"

// MemoryRedirectStore keeps the pending redirect for the life of the process,
// the equivalent of a browser tab's session storage.
type MemoryRedirectStore struct {
	path *string
	lock sync.Mutex
}

var _ RedirectStore = (*MemoryRedirectStore)(nil)

func NewMemoryRedirectStore() *MemoryRedirectStore {
	return &MemoryRedirectStore{}
}

func (s *MemoryRedirectStore) SetPendingRedirect(path string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.path = &path
}

func (s *MemoryRedirectStore) ConsumePendingRedirect() (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.path == nil {
		return "", false
	}
	path := *s.path
	s.path = nil
	return path, true
}
