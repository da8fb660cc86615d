package session

import (
	"bytes"
	"errors"
	"testing"
)

func TestKeyStore(t *testing.T) {
	s := NewKeyStore()

	if err := s.Store("mac", []byte("short")); !errors.Is(err, ErrKeySize) {
		t.Errorf("Store short key = %v, want %v", err, ErrKeySize)
	}
	if s.IsRegistered("mac") {
		t.Error("rejected key must not be stored")
	}

	key := bytes.Repeat([]byte{7}, KeySize)
	if err := s.Store("mac", key); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !s.IsRegistered("mac") {
		t.Error("IsRegistered = false after Store")
	}

	got, ok := s.Get("mac")
	if !ok || !bytes.Equal(got, key) {
		t.Errorf("Get = %v, %v", got, ok)
	}

	// The store hands out copies, never its own backing slice.
	got[0] = 99
	again, _ := s.Get("mac")
	if again[0] != 7 {
		t.Error("mutating a fetched key leaked into the store")
	}

	s.Remove("mac")
	if s.IsRegistered("mac") {
		t.Error("IsRegistered = true after Remove")
	}
	if _, ok := s.Get("mac"); ok {
		t.Error("Get should miss after Remove")
	}
}
