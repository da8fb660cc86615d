package session

import (
	"errors"
	"sync"
)

// KeySize is the only accepted symmetric key length (AES-256).
const KeySize = 32

// ErrKeySize is returned for keys that are not exactly KeySize bytes.
var ErrKeySize = errors.New("symmetric key must be 32 bytes")

// KeyStore tracks symmetric keys announced by connected devices. Keys
// stay in-process and are never used by the relay itself; they exist so
// future validation hooks have something to check against. Lifetime is
// independent of the session registry.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string][]byte)}
}

// Store saves a device's key, replacing any previous one.
func (s *KeyStore) Store(deviceID string, key []byte) error {
	if len(key) != KeySize {
		return ErrKeySize
	}
	buf := make([]byte, KeySize)
	copy(buf, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[deviceID] = buf
	return nil
}

// Get returns a copy of the device's key.
func (s *KeyStore) Get(deviceID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[deviceID]
	if !ok {
		return nil, false
	}
	buf := make([]byte, len(key))
	copy(buf, key)
	return buf, true
}

// Remove forgets the device's key. No-op if absent.
func (s *KeyStore) Remove(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, deviceID)
}

// IsRegistered reports whether the device has announced a key.
func (s *KeyStore) IsRegistered(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[deviceID]
	return ok
}
