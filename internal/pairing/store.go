// Package pairing implements the short-lived code exchange two devices
// use to bootstrap a trust relationship. The relay never inspects the
// challenge or ack blobs; it only shuttles them between initiator and
// responder under a TTL-bound code.
package pairing

import (
	"context"
	"errors"
	"time"
)

// CodeTTL is how long a freshly created pairing code stays claimable.
const CodeTTL = 60 * time.Second

var (
	ErrNotFound              = errors.New("pairing code not found")
	ErrExpired               = errors.New("pairing code expired")
	ErrAlreadyClaimed        = errors.New("pairing code already claimed")
	ErrNotClaimed            = errors.New("pairing code not yet claimed")
	ErrChallengeNotAvailable = errors.New("pairing challenge not available")
	ErrAckNotAvailable       = errors.New("pairing acknowledgement not available")
	ErrAllocationFailed      = errors.New("unable to allocate unique pairing code")
)

// Entry is one pairing handshake in flight. Responder fields are nil
// until the code is claimed; challenge and ack are one-shot blobs that
// are cleared when consumed.
type Entry struct {
	Code                string    `json:"code"`
	InitiatorDeviceID   string    `json:"initiator_device_id"`
	InitiatorDeviceName string    `json:"initiator_device_name"`
	InitiatorPublicKey  string    `json:"initiator_public_key"`
	IssuedAt            time.Time `json:"issued_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	ResponderDeviceID   *string   `json:"responder_device_id"`
	ResponderDeviceName *string   `json:"responder_device_name"`
	ResponderPublicKey  *string   `json:"responder_public_key"`
	ChallengeJSON       *string   `json:"challenge_json"`
	AckJSON             *string   `json:"ack_json"`
}

// Store is the pairing code state machine over some TTL-capable backend.
// Implementations must apply the transition guards identically; the
// HTTP layer maps the sentinel errors onto status codes.
type Store interface {
	// CreateCode allocates a fresh 6-digit code for the initiator.
	CreateCode(ctx context.Context, initiatorID, initiatorName, initiatorPublicKey string, ttl time.Duration) (*Entry, error)
	// ClaimCode binds the responder to an unclaimed code.
	ClaimCode(ctx context.Context, code, responderID, responderName, responderPublicKey string) (*Entry, error)
	// StoreChallenge saves the responder's challenge blob.
	StoreChallenge(ctx context.Context, code, responderID, challengeJSON string) error
	// ConsumeChallenge hands the challenge to the initiator, once.
	ConsumeChallenge(ctx context.Context, code, initiatorID string) (string, error)
	// StoreAck saves the initiator's acknowledgement blob.
	StoreAck(ctx context.Context, code, initiatorID, ackJSON string) error
	// ConsumeAck hands the ack to the responder and retires the code.
	ConsumeAck(ctx context.Context, code, responderID string) (string, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// The transition guards below are shared by every Store implementation
// so the two backends cannot drift apart.

func claimEntry(e *Entry, responderID, responderName, responderPublicKey string) error {
	if e.ResponderDeviceID != nil {
		return ErrAlreadyClaimed
	}
	e.ResponderDeviceID = &responderID
	e.ResponderDeviceName = &responderName
	e.ResponderPublicKey = &responderPublicKey
	return nil
}

func setChallenge(e *Entry, responderID, challengeJSON string) error {
	switch {
	case e.ResponderDeviceID == nil:
		return ErrNotClaimed
	case *e.ResponderDeviceID != responderID:
		return ErrAlreadyClaimed
	}
	e.ChallengeJSON = &challengeJSON
	return nil
}

func takeChallenge(e *Entry, initiatorID string) (string, error) {
	if e.InitiatorDeviceID != initiatorID {
		return "", ErrNotFound
	}
	if e.ChallengeJSON == nil {
		return "", ErrChallengeNotAvailable
	}
	challenge := *e.ChallengeJSON
	e.ChallengeJSON = nil
	return challenge, nil
}

func setAck(e *Entry, initiatorID, ackJSON string) error {
	if e.InitiatorDeviceID != initiatorID {
		return ErrNotFound
	}
	e.AckJSON = &ackJSON
	return nil
}

func takeAck(e *Entry, responderID string) (string, error) {
	switch {
	case e.ResponderDeviceID == nil:
		return "", ErrNotClaimed
	case *e.ResponderDeviceID != responderID:
		return "", ErrAlreadyClaimed
	}
	if e.AckJSON == nil {
		return "", ErrAckNotAvailable
	}
	ack := *e.AckJSON
	e.AckJSON = nil
	return ack, nil
}

// remainingTTL computes how long a saved entry may live. Saving an
// entry whose deadline has passed fails with ErrExpired.
func remainingTTL(e *Entry) (time.Duration, error) {
	remaining := time.Until(e.ExpiresAt)
	if remaining <= 0 {
		return 0, ErrExpired
	}
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining, nil
}
