package metrics

import (
	"testing"
	"time"
)

func TestSessionSummary(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession(start)

	if got := s.TranscriptReceived(false, start); got != 0 {
		t.Errorf("latency before any audio = %v, want 0", got)
	}

	for i := 0; i < 4; i++ {
		s.ChunkSent(3200, start.Add(time.Duration(i)*100*time.Millisecond))
	}
	last := start.Add(300 * time.Millisecond)
	s.TranscriptReceived(false, last.Add(100*time.Millisecond))
	s.TranscriptReceived(true, last.Add(300*time.Millisecond))

	sum := s.Summary(start.Add(time.Second))
	if sum.Chunks != 4 || sum.Bytes != 12800 {
		t.Errorf("chunks/bytes = %d/%d, want 4/12800", sum.Chunks, sum.Bytes)
	}
	if sum.Transcripts != 3 || sum.Finals != 1 {
		t.Errorf("transcripts/finals = %d/%d, want 3/1", sum.Transcripts, sum.Finals)
	}
	if sum.MinLatency != 100*time.Millisecond || sum.MaxLatency != 300*time.Millisecond {
		t.Errorf("latency range = %v..%v", sum.MinLatency, sum.MaxLatency)
	}
	if sum.AvgLatency != 200*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 200ms", sum.AvgLatency)
	}
	if sum.ChunksPerSec < 13.3 || sum.ChunksPerSec > 13.4 {
		t.Errorf("ChunksPerSec = %v, want 4/0.3s", sum.ChunksPerSec)
	}
	if sum.Runtime != time.Second {
		t.Errorf("Runtime = %v", sum.Runtime)
	}
}

func TestLatencyWindowIsBounded(t *testing.T) {
	start := time.Now()
	s := NewSession(start)
	s.ChunkSent(1, start)
	for i := 1; i <= 60; i++ {
		s.TranscriptReceived(true, start.Add(time.Duration(i)*time.Millisecond))
	}
	sum := s.Summary(start)
	if sum.MinLatency != 11*time.Millisecond {
		t.Errorf("MinLatency = %v, want the oldest of the last %d", sum.MinLatency, latencyWindow)
	}
}
