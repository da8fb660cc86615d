package pairing

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// runStoreSuite drives the pairing state machine against any Store.
// Each subtest allocates its own code, so one backend instance serves
// the whole suite.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	create := func(t *testing.T, ttl time.Duration) *Entry {
		t.Helper()
		entry, err := s.CreateCode(ctx, "initiator-1", "MacBook Pro", "pub-init", ttl)
		if err != nil {
			t.Fatalf("CreateCode: %v", err)
		}
		if !codePattern.MatchString(entry.Code) {
			t.Fatalf("code %q is not 6 digits", entry.Code)
		}
		return entry
	}

	t.Run("full handshake", func(t *testing.T) {
		entry := create(t, CodeTTL)
		if entry.ResponderDeviceID != nil {
			t.Error("fresh code should be unclaimed")
		}

		claimed, err := s.ClaimCode(ctx, entry.Code, "responder-1", "iPhone", "pub-resp")
		if err != nil {
			t.Fatalf("ClaimCode: %v", err)
		}
		if claimed.InitiatorDeviceID != "initiator-1" || claimed.InitiatorPublicKey != "pub-init" {
			t.Errorf("claim returned wrong initiator: %+v", claimed)
		}

		if err := s.StoreChallenge(ctx, entry.Code, "responder-1", `{"c":"blob"}`); err != nil {
			t.Fatalf("StoreChallenge: %v", err)
		}
		challenge, err := s.ConsumeChallenge(ctx, entry.Code, "initiator-1")
		if err != nil {
			t.Fatalf("ConsumeChallenge: %v", err)
		}
		if challenge != `{"c":"blob"}` {
			t.Errorf("challenge = %q", challenge)
		}
		// The challenge is one-shot.
		if _, err := s.ConsumeChallenge(ctx, entry.Code, "initiator-1"); !errors.Is(err, ErrChallengeNotAvailable) {
			t.Errorf("second consume = %v, want %v", err, ErrChallengeNotAvailable)
		}

		if err := s.StoreAck(ctx, entry.Code, "initiator-1", `{"a":"blob"}`); err != nil {
			t.Fatalf("StoreAck: %v", err)
		}
		ack, err := s.ConsumeAck(ctx, entry.Code, "responder-1")
		if err != nil {
			t.Fatalf("ConsumeAck: %v", err)
		}
		if ack != `{"a":"blob"}` {
			t.Errorf("ack = %q", ack)
		}
		// Consuming the ack retires the code.
		if _, err := s.ClaimCode(ctx, entry.Code, "responder-2", "iPad", "pub-2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("claim after completion = %v, want %v", err, ErrNotFound)
		}
	})

	t.Run("claim conflicts", func(t *testing.T) {
		entry := create(t, CodeTTL)
		if _, err := s.ClaimCode(ctx, entry.Code, "responder-1", "iPhone", "pub-1"); err != nil {
			t.Fatalf("ClaimCode: %v", err)
		}
		if _, err := s.ClaimCode(ctx, entry.Code, "responder-2", "iPad", "pub-2"); !errors.Is(err, ErrAlreadyClaimed) {
			t.Errorf("second claim = %v, want %v", err, ErrAlreadyClaimed)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		if _, err := s.ClaimCode(ctx, "no-such-code", "responder-1", "iPhone", "pub-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ClaimCode = %v, want %v", err, ErrNotFound)
		}
	})

	t.Run("challenge guards", func(t *testing.T) {
		entry := create(t, CodeTTL)

		if err := s.StoreChallenge(ctx, entry.Code, "responder-1", "{}"); !errors.Is(err, ErrNotClaimed) {
			t.Errorf("challenge before claim = %v, want %v", err, ErrNotClaimed)
		}
		if _, err := s.ClaimCode(ctx, entry.Code, "responder-1", "iPhone", "pub-1"); err != nil {
			t.Fatalf("ClaimCode: %v", err)
		}
		if err := s.StoreChallenge(ctx, entry.Code, "responder-2", "{}"); !errors.Is(err, ErrAlreadyClaimed) {
			t.Errorf("challenge from wrong responder = %v, want %v", err, ErrAlreadyClaimed)
		}
		if _, err := s.ConsumeChallenge(ctx, entry.Code, "someone-else"); !errors.Is(err, ErrNotFound) {
			t.Errorf("consume by wrong initiator = %v, want %v", err, ErrNotFound)
		}
		if _, err := s.ConsumeChallenge(ctx, entry.Code, "initiator-1"); !errors.Is(err, ErrChallengeNotAvailable) {
			t.Errorf("consume before submit = %v, want %v", err, ErrChallengeNotAvailable)
		}
	})

	t.Run("ack guards", func(t *testing.T) {
		entry := create(t, CodeTTL)

		if _, err := s.ConsumeAck(ctx, entry.Code, "responder-1"); !errors.Is(err, ErrNotClaimed) {
			t.Errorf("ack before claim = %v, want %v", err, ErrNotClaimed)
		}
		if _, err := s.ClaimCode(ctx, entry.Code, "responder-1", "iPhone", "pub-1"); err != nil {
			t.Fatalf("ClaimCode: %v", err)
		}
		if _, err := s.ConsumeAck(ctx, entry.Code, "responder-2"); !errors.Is(err, ErrAlreadyClaimed) {
			t.Errorf("ack by wrong responder = %v, want %v", err, ErrAlreadyClaimed)
		}
		if _, err := s.ConsumeAck(ctx, entry.Code, "responder-1"); !errors.Is(err, ErrAckNotAvailable) {
			t.Errorf("ack before submit = %v, want %v", err, ErrAckNotAvailable)
		}
		if err := s.StoreAck(ctx, entry.Code, "someone-else", "{}"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ack from wrong initiator = %v, want %v", err, ErrNotFound)
		}
	})

	t.Run("expiry", func(t *testing.T) {
		entry := create(t, time.Second)
		time.Sleep(1100 * time.Millisecond)
		if _, err := s.ClaimCode(ctx, entry.Code, "responder-1", "iPhone", "pub-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("claim after expiry = %v, want %v", err, ErrNotFound)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestMemoryStoreSweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateCode(ctx, "init", "Mac", "pub", time.Second); err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := s.CreateCode(ctx, "init", "Mac", "pub", CodeTTL); err != nil {
		t.Fatalf("CreateCode: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) != 1 {
		t.Errorf("entries = %d, want 1 after sweep", len(s.entries))
	}
}
