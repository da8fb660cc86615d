package pairing

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps pairing entries in-process. It exists for
// single-node deployments that run without Redis and for tests; the
// transition guards are the exact ones RedisStore applies.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) CreateCode(ctx context.Context, initiatorID, initiatorName, initiatorPublicKey string, ttl time.Duration) (*Entry, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	issuedAt := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	for attempt := 0; attempt < codeAllocationAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return nil, err
		}
		if _, taken := s.entries[code]; taken {
			continue
		}
		entry := &Entry{
			Code:                code,
			InitiatorDeviceID:   initiatorID,
			InitiatorDeviceName: initiatorName,
			InitiatorPublicKey:  initiatorPublicKey,
			IssuedAt:            issuedAt,
			ExpiresAt:           issuedAt.Add(ttl),
		}
		s.entries[code] = entry.clone()
		return entry, nil
	}
	return nil, ErrAllocationFailed
}

func (s *MemoryStore) ClaimCode(ctx context.Context, code, responderID, responderName, responderPublicKey string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.loadLocked(code)
	if err != nil {
		return nil, err
	}
	if err := claimEntry(entry, responderID, responderName, responderPublicKey); err != nil {
		return nil, err
	}
	if err := s.saveLocked(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *MemoryStore) StoreChallenge(ctx context.Context, code, responderID, challengeJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.loadLocked(code)
	if err != nil {
		return err
	}
	if err := setChallenge(entry, responderID, challengeJSON); err != nil {
		return err
	}
	return s.saveLocked(entry)
}

func (s *MemoryStore) ConsumeChallenge(ctx context.Context, code, initiatorID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.loadLocked(code)
	if err != nil {
		return "", err
	}
	challenge, err := takeChallenge(entry, initiatorID)
	if err != nil {
		return "", err
	}
	if err := s.saveLocked(entry); err != nil {
		return "", err
	}
	return challenge, nil
}

func (s *MemoryStore) StoreAck(ctx context.Context, code, initiatorID, ackJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.loadLocked(code)
	if err != nil {
		return err
	}
	if err := setAck(entry, initiatorID, ackJSON); err != nil {
		return err
	}
	return s.saveLocked(entry)
}

func (s *MemoryStore) ConsumeAck(ctx context.Context, code, responderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.loadLocked(code)
	if err != nil {
		return "", err
	}
	ack, err := takeAck(entry, responderID)
	if err != nil {
		return "", err
	}
	delete(s.entries, code)
	return ack, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) loadLocked(code string) (*Entry, error) {
	entry, ok := s.entries[code]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.ExpiresAt.After(time.Now()) {
		delete(s.entries, code)
		return nil, ErrNotFound
	}
	return entry.clone(), nil
}

func (s *MemoryStore) saveLocked(entry *Entry) error {
	if _, err := remainingTTL(entry); err != nil {
		return err
	}
	s.entries[entry.Code] = entry.clone()
	return nil
}

// sweepLocked drops entries past their deadline so abandoned codes do
// not accumulate.
func (s *MemoryStore) sweepLocked() {
	now := time.Now()
	for code, entry := range s.entries {
		if !entry.ExpiresAt.After(now) {
			delete(s.entries, code)
		}
	}
}

func (e *Entry) clone() *Entry {
	c := *e
	c.ResponderDeviceID = cloneString(e.ResponderDeviceID)
	c.ResponderDeviceName = cloneString(e.ResponderDeviceName)
	c.ResponderPublicKey = cloneString(e.ResponderPublicKey)
	c.ChallengeJSON = cloneString(e.ChallengeJSON)
	c.AckJSON = cloneString(e.AckJSON)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
