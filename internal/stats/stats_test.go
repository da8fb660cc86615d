package stats

import "testing"

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 3; i++ {
		c.MessageProcessed()
	}
	c.PairingOp()
	c.Error()
	c.Error()

	s := c.Snapshot()
	if s.MessagesProcessed != 3 {
		t.Errorf("MessagesProcessed = %d, want 3", s.MessagesProcessed)
	}
	if s.PairingOps != 1 {
		t.Errorf("PairingOps = %d, want 1", s.PairingOps)
	}
	if s.Errors != 2 {
		t.Errorf("Errors = %d, want 2", s.Errors)
	}
	if s.HasDurations {
		t.Error("HasDurations should be false before any samples")
	}
}

func TestDurationWindow(t *testing.T) {
	c := NewCollector()

	c.RecordRequestDuration(0.001)
	c.RecordRequestDuration(0.002)
	c.RecordRequestDuration(0.003)

	s := c.Snapshot()
	if !s.HasDurations {
		t.Fatal("HasDurations should be true")
	}
	if got, want := s.AvgRequestDuration, 0.002; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("AvgRequestDuration = %v, want %v", got, want)
	}

	// Overflow the window; the average must stay stable when every
	// sample is identical.
	for i := 0; i < 2500; i++ {
		c.RecordRequestDuration(0.01)
	}
	s = c.Snapshot()
	if got := s.AvgRequestDuration; got < 0.0099 || got > 0.0101 {
		t.Errorf("AvgRequestDuration after overflow = %v, want ~0.01", got)
	}
}
