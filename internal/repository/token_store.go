package repository

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"geosewa_exam/internal/model"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// TokenStore keeps the access/refresh pair between runs. Load returns
// nil, nil when nothing is stored.
type TokenStore interface {
	Load() (*model.TokenPair, error)
	Save(pair *model.TokenPair) error
	Clear() error
}

type MemoryTokenStore struct {
	mu   sync.Mutex
	pair *model.TokenPair
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load() (*model.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return nil, nil
	}
	cp := *s.pair
	return &cp, nil
}

func (s *MemoryTokenStore) Save(pair *model.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pair
	s.pair = &cp
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	s.pair = nil
	s.mu.Unlock()
	return nil
}

const (
	saltSize  = 16
	nonceSize = 24
)

var ErrSealedFileCorrupt = errors.New("session file cannot be opened")

// SealedFileTokenStore writes the pair to disk encrypted with a key derived
// from a secret. File layout: salt | nonce | secretbox.
type SealedFileTokenStore struct {
	path   string
	secret []byte
	mu     sync.Mutex
}

func NewSealedFileTokenStore(path, secret string) (*SealedFileTokenStore, error) {
	if secret == "" {
		return nil, errors.New("session secret is required for the file store")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &SealedFileTokenStore{path: path, secret: []byte(secret)}, nil
}

func (s *SealedFileTokenStore) key(salt []byte) (*[32]byte, error) {
	k, err := scrypt.Key(s.secret, salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], k)
	return &key, nil
}

func (s *SealedFileTokenStore) Load() (*model.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) < saltSize+nonceSize+secretbox.Overhead {
		return nil, ErrSealedFileCorrupt
	}

	key, err := s.key(data[:saltSize])
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[saltSize:saltSize+nonceSize])
	plain, ok := secretbox.Open(nil, data[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrSealedFileCorrupt
	}

	var pair model.TokenPair
	if err := json.Unmarshal(plain, &pair); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedFileCorrupt, err)
	}
	return &pair, nil
}

func (s *SealedFileTokenStore) Save(pair *model.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return err
	}
	key, err := s.key(salt)
	if err != nil {
		return err
	}

	out := append(salt, nonce[:]...)
	out = secretbox.Seal(out, plain, &nonce, key)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *SealedFileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
