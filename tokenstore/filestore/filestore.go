// Package filestore keeps the session in a single JSON document on disk,
// optionally sealed with XChaCha20-Poly1305.
package filestore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	ierrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/tokenstore"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	defaultFileName = "session.json"
	filePerm        = 0o600
	dirPerm         = 0o700
)

var _ tokenstore.Store = (*FileStore)(nil)

// document is the on-disk layout: one entry per storage key.
type document struct {
	Pair *tokenstore.Pair        `json:"auth_tokens,omitempty"`
	User *tokenstore.UserSummary `json:"user_data,omitempty"`
}

// FileStore implements tokenstore.Store. Each mutation rewrites the whole
// document through a temporary file and a rename, so readers only ever see a
// complete previous or next version.
type FileStore struct {
	path string
	aead cipher.AEAD
	lock sync.RWMutex
}

type Option func(*FileStore) error

// WithEncryptionKey seals the document with a 32 byte key.
func WithEncryptionKey(key []byte) Option {
	return func(s *FileStore) error {
		if len(key) == 0 {
			return nil
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return errors.Wrap(err, "filestore.WithEncryptionKey")
		}
		s.aead = aead
		return nil
	}
}

// WithFileName overrides the document name inside the folder.
func WithFileName(name string) Option {
	return func(s *FileStore) error {
		s.path = filepath.Join(filepath.Dir(s.path), name)
		return nil
	}
}

// New creates the data folder if needed and returns a store rooted there.
func New(folder string, options ...Option) (*FileStore, error) {
	if err := os.MkdirAll(folder, dirPerm); err != nil {
		return nil, errors.Wrap(err, "filestore.New MkdirAll")
	}
	s := &FileStore{path: filepath.Join(folder, defaultFileName)}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(pair tokenstore.Pair) error {
	if err := pair.Validate(); err != nil {
		return err
	}
	return s.update(func(doc *document) {
		doc.Pair = &pair
	})
}

func (s *FileStore) Load() (*tokenstore.Pair, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	if doc.Pair == nil {
		return nil, nil
	}
	if err := doc.Pair.Validate(); err != nil {
		return nil, ierrors.Wrapf(ierrors.ErrCorrupt, "filestore.Load %s", tokenstore.PairKey)
	}
	return doc.Pair, nil
}

func (s *FileStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return ierrors.Wrapf(ierrors.ErrStoreIO, "filestore.Clear: %v", err)
	}
	return nil
}

func (s *FileStore) SaveUserSummary(user tokenstore.UserSummary) error {
	return s.update(func(doc *document) {
		doc.User = &user
	})
}

func (s *FileStore) LoadUserSummary() (*tokenstore.UserSummary, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.User, nil
}

func (s *FileStore) update(mutate func(doc *document)) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	doc, err := s.readLocked()
	if err != nil && !ierrors.Is(err, ierrors.ErrCorrupt) {
		return err
	}
	// A corrupt document is replaced rather than patched.
	if err != nil {
		doc = &document{}
	}
	mutate(doc)
	return s.writeLocked(doc)
}

func (s *FileStore) read() (*document, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.readLocked()
}

func (s *FileStore) readLocked() (*document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &document{}, nil
	}
	if err != nil {
		return nil, ierrors.Wrapf(ierrors.ErrStoreIO, "filestore read: %v", err)
	}

	if s.aead != nil {
		if data, err = s.open(data); err != nil {
			return nil, err
		}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, ierrors.Wrapf(ierrors.ErrCorrupt, "filestore decode: %v", err)
	}
	return &doc, nil
}

func (s *FileStore) writeLocked(doc *document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "filestore encode")
	}
	if s.aead != nil {
		if data, err = s.seal(data); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return ierrors.Wrapf(ierrors.ErrStoreIO, "filestore temp file: %v", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ierrors.Wrapf(ierrors.ErrStoreIO, "filestore write: %v", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return ierrors.Wrapf(ierrors.ErrStoreIO, "filestore chmod: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return ierrors.Wrapf(ierrors.ErrStoreIO, "filestore close: %v", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return ierrors.Wrapf(ierrors.ErrStoreIO, "filestore rename: %v", err)
	}
	return nil
}

func (s *FileStore) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, ierrors.Wrapf(ierrors.ErrEncryption, "filestore nonce: %v", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(tokenstore.PairKey)), nil
}

func (s *FileStore) open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, ierrors.Wrapf(ierrors.ErrCorrupt, "filestore ciphertext too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(tokenstore.PairKey))
	if err != nil {
		return nil, ierrors.Wrapf(ierrors.ErrCorrupt, "filestore open: %v", err)
	}
	return plaintext, nil
}
