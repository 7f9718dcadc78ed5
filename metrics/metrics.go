// Package metrics keeps per-session relay statistics.
package metrics

import (
	"sync"
	"time"

	"github.com/mrsingh-rishi/voice-relay/queue"
)

const (
	latencyWindow = 50
	chunkWindow   = 100
)

// Session counts what one client session sent upstream and received back.
// Latency is measured from the most recent audio frame to each transcript.
type Session struct {
	mu          sync.Mutex
	start       time.Time
	chunks      int64
	bytes       int64
	transcripts int64
	finals      int64
	lastChunk   time.Time
	latencies   *queue.Queue[time.Duration]
	chunkTimes  *queue.Queue[time.Time]
}

func NewSession(start time.Time) *Session {
	return &Session{
		start:      start,
		latencies:  queue.NewBounded[time.Duration](latencyWindow),
		chunkTimes: queue.NewBounded[time.Time](chunkWindow),
	}
}

func (s *Session) ChunkSent(size int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks++
	s.bytes += int64(size)
	s.lastChunk = at
	s.chunkTimes.Enqueue(at)
}

// TranscriptReceived records one result and returns its latency, or zero
// if no audio has been sent yet.
func (s *Session) TranscriptReceived(final bool, at time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts++
	if final {
		s.finals++
	}
	if s.lastChunk.IsZero() {
		return 0
	}
	latency := at.Sub(s.lastChunk)
	s.latencies.Enqueue(latency)
	return latency
}

type Summary struct {
	Runtime      time.Duration
	Chunks       int64
	Bytes        int64
	Transcripts  int64
	Finals       int64
	ChunksPerSec float64
	AvgLatency   time.Duration
	MinLatency   time.Duration
	MaxLatency   time.Duration
}

// KeyVals flattens the summary for structured logging.
func (m Summary) KeyVals() []any {
	return []any{
		"runtime", m.Runtime.Round(100 * time.Millisecond),
		"chunks", m.Chunks,
		"bytes", m.Bytes,
		"transcripts", m.Transcripts,
		"finals", m.Finals,
		"chunks_per_sec", m.ChunksPerSec,
		"avg_latency", m.AvgLatency,
		"min_latency", m.MinLatency,
		"max_latency", m.MaxLatency,
	}
}

func (s *Session) Summary(now time.Time) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Runtime:     now.Sub(s.start),
		Chunks:      s.chunks,
		Bytes:       s.bytes,
		Transcripts: s.transcripts,
		Finals:      s.finals,
	}

	times := s.chunkTimes.Items()
	if len(times) >= 2 {
		if span := times[len(times)-1].Sub(times[0]); span > 0 {
			sum.ChunksPerSec = float64(len(times)) / span.Seconds()
		}
	}

	lats := s.latencies.Items()
	if len(lats) > 0 {
		var total time.Duration
		sum.MinLatency, sum.MaxLatency = lats[0], lats[0]
		for _, l := range lats {
			total += l
			if l < sum.MinLatency {
				sum.MinLatency = l
			}
			if l > sum.MaxLatency {
				sum.MaxLatency = l
			}
		}
		sum.AvgLatency = total / time.Duration(len(lats))
	}
	return sum
}
