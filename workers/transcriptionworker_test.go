package workers

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mrsingh-rishi/voice-relay/metrics"
	"github.com/mrsingh-rishi/voice-relay/types"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []types.TranscriptMessage
}

func (s *recordingSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, v.(types.TranscriptMessage))
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]types.TranscriptEvent
}

func (p *recordingPublisher) Publish(id string, ev types.TranscriptEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]types.TranscriptEvent)
	}
	p.events[id] = append(p.events[id], ev)
}

func TestTranscriptionWorkerForwardsInOrder(t *testing.T) {
	results := make(chan types.TranscriptionResult, 8)
	client := &recordingSender{}
	hub := &recordingPublisher{}

	var mu sync.Mutex
	id := ""
	recordingID := func() string {
		mu.Lock()
		defer mu.Unlock()
		return id
	}

	tw, err := NewTranscriptionWorker(results, client, hub, recordingID, metrics.NewSession(time.Now()), log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	tw.Start()

	results <- types.TranscriptionResult{Transcription: "before", Final: true, ReceivedAt: time.Now()}
	// Let the first result go through before the recording id is set.
	deadline := time.Now().Add(time.Second)
	for {
		client.mu.Lock()
		n := len(client.msgs)
		client.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	id = "rec-1"
	mu.Unlock()

	results <- types.TranscriptionResult{Transcription: "hel", ReceivedAt: time.Now()}
	results <- types.TranscriptionResult{Transcription: "hello", Final: true, Confidence: 0.9, Start: 1, Duration: 0.5, ReceivedAt: time.Now()}
	close(results)
	tw.Wait()

	if len(client.msgs) != 3 {
		t.Fatalf("client got %d messages, want 3", len(client.msgs))
	}
	if client.msgs[2].Transcript != "hello" || !client.msgs[2].IsFinal {
		t.Errorf("last echo = %+v", client.msgs[2])
	}

	evs := hub.events["rec-1"]
	if len(evs) != 2 || evs[0].Text != "hel" || evs[1].Text != "hello" {
		t.Fatalf("published = %+v, want [hel hello]", evs)
	}
	if evs[1].EndOffset != 1.5 {
		t.Errorf("EndOffset = %v, want 1.5", evs[1].EndOffset)
	}
	if _, ok := hub.events[""]; ok {
		t.Errorf("published without a recording id")
	}
}

func TestNewTranscriptionWorkerValidates(t *testing.T) {
	if _, err := NewTranscriptionWorker(nil, &recordingSender{}, &recordingPublisher{}, nil, nil, log.New(io.Discard)); err == nil {
		t.Errorf("expected error for nil results channel")
	}
}
