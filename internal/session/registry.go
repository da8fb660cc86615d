package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrDeviceNotConnected is returned by targeted sends when no session
	// exists for the device.
	ErrDeviceNotConnected = errors.New("device not connected")
	// ErrSendFailed is returned when the session was found but its queue
	// had already closed underneath the send.
	ErrSendFailed = errors.New("send failed: session is closing")
)

type entry struct {
	queue    *Queue
	token    uint64
	lastSeen time.Time
}

// Registration is handed to a freshly registered connection: the
// receive half of its outbound queue plus the token that guards its
// teardown.
type Registration struct {
	Receiver *Queue
	Token    uint64
}

// DeviceInfo describes one connected device.
type DeviceInfo struct {
	DeviceID string
	LastSeen time.Time
}

// Registry maps device ids to live sessions. Reads dominate (every
// fan-out takes the read lock); writes happen only at connect and
// disconnect. Device ids are lowercased by the admission layer before
// they reach the registry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	tokens   atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Register mints a fresh session token and installs a new queue for the
// device, replacing any prior session. The prior queue is closed so its
// writer drains staged frames and exits; frames pushed from now on reach
// only the new session.
func (r *Registry) Register(deviceID string) Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := r.tokens.Add(1)
	if old, ok := r.sessions[deviceID]; ok {
		old.queue.close()
		log.Info().
			Str("deviceID", deviceID).
			Uint64("oldToken", old.token).
			Uint64("newToken", token).
			Msg("Session replaced by new registration")
	}
	q := newQueue()
	r.sessions[deviceID] = &entry{queue: q, token: token, lastSeen: time.Now()}
	return Registration{Receiver: q, Token: token}
}

// UnregisterWithToken removes the device's session only if its token
// still matches. A stale connection tearing down after a takeover finds
// a newer token and leaves the live session alone.
func (r *Registry) UnregisterWithToken(deviceID string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[deviceID]
	if !ok || e.token != token {
		return false
	}
	e.queue.close()
	delete(r.sessions, deviceID)
	return true
}

// SendBinary enqueues a copy of the frame for one device.
func (r *Registry) SendBinary(deviceID string, frame []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[deviceID]
	if !ok {
		return ErrDeviceNotConnected
	}
	if !e.queue.push(cloneFrame(frame)) {
		return ErrSendFailed
	}
	return nil
}

// BroadcastExcept enqueues a copy of the frame for every device other
// than the sender and reports how many sessions received it. Enqueue
// failures are ignored; those sessions are collapsing.
func (r *Registry) BroadcastExcept(senderID string, frame []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for id, e := range r.sessions {
		if id == senderID {
			continue
		}
		if e.queue.push(cloneFrame(frame)) {
			delivered++
		}
	}
	return delivered
}

// Touch refreshes the device's last-seen timestamp. No-op if the
// session is gone.
func (r *Registry) Touch(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[deviceID]; ok {
		e.lastSeen = time.Now()
	}
}

// ConnectedDevices returns the ids of all live sessions.
func (r *Registry) ConnectedDevices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ConnectedDevicesInfo returns id and last-seen for all live sessions.
func (r *Registry) ConnectedDevicesInfo() []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(r.sessions))
	for id, e := range r.sessions {
		infos = append(infos, DeviceInfo{DeviceID: id, LastSeen: e.lastSeen})
	}
	return infos
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func cloneFrame(frame []byte) []byte {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	return buf
}
