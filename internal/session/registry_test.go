package session

import (
	"bytes"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func recvFrame(t *testing.T, q *Queue) []byte {
	t.Helper()
	select {
	case frame, ok := <-q.Out():
		if !ok {
			t.Fatal("queue closed while expecting a frame")
		}
		q.Refill()
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func expectClosed(t *testing.T, q *Queue) {
	t.Helper()
	select {
	case frame, ok := <-q.Out():
		if ok {
			t.Fatalf("expected closed queue, got frame %q", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queue close")
	}
}

func expectEmpty(t *testing.T, q *Queue) {
	t.Helper()
	select {
	case frame, ok := <-q.Out():
		if ok {
			t.Fatalf("unexpected frame %q", frame)
		}
		t.Fatal("unexpected queue close")
	default:
	}
}

func TestRegisterReplacesSession(t *testing.T) {
	r := NewRegistry()

	reg1 := r.Register("mac")
	if err := r.SendBinary("mac", []byte("one")); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	if err := r.SendBinary("mac", []byte("two")); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}

	reg2 := r.Register("mac")
	if reg2.Token <= reg1.Token {
		t.Errorf("new token %d not greater than old %d", reg2.Token, reg1.Token)
	}
	if got := r.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}

	if err := r.SendBinary("mac", []byte("three")); err != nil {
		t.Fatalf("SendBinary after takeover: %v", err)
	}

	// The replaced receiver drains what was staged for it, then sees close.
	if got := string(recvFrame(t, reg1.Receiver)); got != "one" {
		t.Errorf("old receiver frame = %q, want %q", got, "one")
	}
	if got := string(recvFrame(t, reg1.Receiver)); got != "two" {
		t.Errorf("old receiver frame = %q, want %q", got, "two")
	}
	expectClosed(t, reg1.Receiver)

	// Frames sent after the takeover reach only the new receiver.
	if got := string(recvFrame(t, reg2.Receiver)); got != "three" {
		t.Errorf("new receiver frame = %q, want %q", got, "three")
	}
	expectEmpty(t, reg2.Receiver)
}

func TestUnregisterWithToken(t *testing.T) {
	r := NewRegistry()

	reg1 := r.Register("mac")
	reg2 := r.Register("mac")

	if r.UnregisterWithToken("mac", reg1.Token) {
		t.Error("stale token must not evict the live session")
	}
	if got := r.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}

	if !r.UnregisterWithToken("mac", reg2.Token) {
		t.Error("current token should remove the session")
	}
	if got := r.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
	if r.UnregisterWithToken("mac", reg2.Token) {
		t.Error("second unregister should be a no-op")
	}
}

func TestSendBinary(t *testing.T) {
	r := NewRegistry()

	if err := r.SendBinary("ghost", []byte("x")); !errors.Is(err, ErrDeviceNotConnected) {
		t.Errorf("SendBinary to absent device = %v, want %v", err, ErrDeviceNotConnected)
	}

	reg := r.Register("mac")
	frame := []byte{0, 0, 0, 2, '{', '}'}
	if err := r.SendBinary("mac", frame); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	if got := recvFrame(t, reg.Receiver); !bytes.Equal(got, frame) {
		t.Errorf("delivered frame = %v, want %v", got, frame)
	}

	r.UnregisterWithToken("mac", reg.Token)
	if err := r.SendBinary("mac", frame); !errors.Is(err, ErrDeviceNotConnected) {
		t.Errorf("SendBinary after unregister = %v, want %v", err, ErrDeviceNotConnected)
	}
}

func TestBroadcastExcept(t *testing.T) {
	r := NewRegistry()
	regA := r.Register("alice")
	regB := r.Register("bob")
	regC := r.Register("charlie")

	orig := []byte("payload")
	sent := append([]byte(nil), orig...)
	if n := r.BroadcastExcept("alice", sent); n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	// Mutating the caller's buffer must not reach the recipients.
	sent[0] = 'X'

	for _, reg := range []Registration{regB, regC} {
		got := recvFrame(t, reg.Receiver)
		if !bytes.Equal(got, orig) {
			t.Errorf("recipient frame = %q, want %q", got, orig)
		}
		expectEmpty(t, reg.Receiver)
	}
	expectEmpty(t, regA.Receiver)
}

func TestTokenMonotonicUnderConcurrentRegistration(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 100

	r := NewRegistry()
	minted := make([][]uint64, goroutines)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				reg := r.Register("shared")
				minted[g] = append(minted[g], reg.Token)
			}
		}(g)
	}
	wg.Wait()

	var all []uint64
	for g, tokens := range minted {
		for i := 1; i < len(tokens); i++ {
			if tokens[i] <= tokens[i-1] {
				t.Errorf("goroutine %d: token %d not greater than %d", g, tokens[i], tokens[i-1])
			}
		}
		all = append(all, tokens...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		if all[i] == all[i-1] {
			t.Fatalf("duplicate token %d", all[i])
		}
	}

	if got := r.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
	// The surviving entry carries the highest minted token.
	if !r.UnregisterWithToken("shared", all[len(all)-1]) {
		t.Error("live entry should carry the max minted token")
	}
}

func TestConnectedDevicesAndTouch(t *testing.T) {
	r := NewRegistry()
	r.Register("alice")
	r.Register("bob")

	assert.ElementsMatch(t, []string{"alice", "bob"}, r.ConnectedDevices())

	var before time.Time
	for _, info := range r.ConnectedDevicesInfo() {
		if info.DeviceID == "alice" {
			before = info.LastSeen
		}
	}

	time.Sleep(20 * time.Millisecond)
	r.Touch("alice")
	r.Touch("ghost") // no-op

	for _, info := range r.ConnectedDevicesInfo() {
		if info.DeviceID == "alice" && !info.LastSeen.After(before) {
			t.Error("Touch did not advance last-seen")
		}
	}
}
