package live

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mrsingh-rishi/voice-relay/types"
)

type fakeViewer struct {
	mu       sync.Mutex
	received []types.ViewerMessage
	fail     bool
}

func (v *fakeViewer) Send(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fail {
		return errors.New("broken pipe")
	}
	var msg types.ViewerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	v.received = append(v.received, msg)
	return nil
}

func (v *fakeViewer) texts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.received))
	for i, m := range v.received {
		out[i] = m.Transcript
	}
	return out
}

func newTestHub() *Hub {
	return NewHub(log.New(io.Discard))
}

func event(text string, final bool) types.TranscriptEvent {
	return types.TranscriptEvent{Text: text, IsFinal: final, Confidence: 0.9, ReceivedAt: time.Now()}
}

func assertTexts(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLateJoinerReceivesHistoryInOrder(t *testing.T) {
	h := newTestHub()
	h.Activate("rec-1")
	h.Publish("rec-1", event("one", false))
	h.Publish("rec-1", event("two", true))
	h.Publish("rec-1", event("three", true))

	v := &fakeViewer{}
	if err := h.Join("rec-1", v); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	assertTexts(t, v.texts(), "one", "two", "three")

	h.Publish("rec-1", event("four", true))
	assertTexts(t, v.texts(), "one", "two", "three", "four")
}

func TestBroadcastDropsFailingViewer(t *testing.T) {
	h := newTestHub()
	h.Activate("rec-1")

	a := &fakeViewer{}
	b := &fakeViewer{}
	if err := h.Join("rec-1", a); err != nil {
		t.Fatal(err)
	}
	if err := h.Join("rec-1", b); err != nil {
		t.Fatal(err)
	}

	a.mu.Lock()
	a.fail = true
	a.mu.Unlock()

	h.Publish("rec-1", event("hello", true))
	assertTexts(t, b.texts(), "hello")
	if got := h.Viewers("rec-1"); got != 1 {
		t.Fatalf("Viewers() = %d, want 1 after failed send", got)
	}

	a.mu.Lock()
	a.fail = false
	a.mu.Unlock()

	h.Publish("rec-1", event("again", true))
	assertTexts(t, b.texts(), "hello", "again")
	assertTexts(t, a.texts())
}

func TestEmptyViewerSetIsRemoved(t *testing.T) {
	h := newTestHub()
	v := &fakeViewer{}
	if err := h.Join("rec-1", v); err != nil {
		t.Fatal(err)
	}
	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}
	h.Leave("rec-1", v)
	if h.Len() != 0 {
		t.Errorf("Len() = %d after last viewer left, want 0", h.Len())
	}
	h.Leave("rec-1", v)
}

func TestReleaseKeepsLogWhileViewersRemain(t *testing.T) {
	h := newTestHub()
	h.Activate("rec-1")
	v := &fakeViewer{}
	if err := h.Join("rec-1", v); err != nil {
		t.Fatal(err)
	}
	h.Publish("rec-1", event("a", true))
	h.Release("rec-1")

	if h.IsLive("rec-1") {
		t.Errorf("IsLive() = true after Release")
	}
	if got := len(h.Events("rec-1")); got != 1 {
		t.Fatalf("Events() len = %d, want 1 while a viewer is attached", got)
	}

	h.Leave("rec-1", v)
	if got := len(h.Events("rec-1")); got != 0 {
		t.Errorf("Events() len = %d after last viewer left, want 0", got)
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}

func TestFinalEventsFiltersInterim(t *testing.T) {
	h := newTestHub()
	h.Activate("rec-1")
	h.Publish("rec-1", event("hel", false))
	h.Publish("rec-1", event("hello", true))
	h.Publish("rec-1", event("wor", false))

	finals := h.FinalEvents("rec-1")
	if len(finals) != 1 || finals[0].Text != "hello" {
		t.Errorf("FinalEvents() = %+v, want only \"hello\"", finals)
	}
	if !h.IsLive("rec-1") || h.ActiveCount() != 1 {
		t.Errorf("recording should be live")
	}
}

func TestConcurrentPublishAndJoin(t *testing.T) {
	h := newTestHub()
	h.Activate("rec-1")

	const n = 200
	viewers := make([]*fakeViewer, 20)
	for i := range viewers {
		viewers[i] = &fakeViewer{}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			h.Publish("rec-1", types.TranscriptEvent{Text: string(rune('a' + i%26)), IsFinal: true, StartOffset: float64(i)})
		}
	}()
	for _, v := range viewers {
		wg.Add(1)
		go func(v *fakeViewer) {
			defer wg.Done()
			if err := h.Join("rec-1", v); err != nil {
				t.Error(err)
			}
		}(v)
	}
	wg.Wait()

	want := h.Events("rec-1")
	for i, v := range viewers {
		got := v.texts()
		if len(got) != len(want) {
			t.Fatalf("viewer %d got %d events, want %d", i, len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j].Text {
				t.Fatalf("viewer %d event %d = %q, want %q", i, j, got[j], want[j].Text)
			}
		}
	}
}

func TestForgetDropsViewers(t *testing.T) {
	h := newTestHub()
	h.Activate("rec-1")
	if err := h.Join("rec-1", &fakeViewer{}); err != nil {
		t.Fatal(err)
	}
	h.Forget("rec-1")
	if h.Viewers("rec-1") != 0 || h.IsLive("rec-1") || h.TotalViewers() != 0 {
		t.Errorf("Forget() left state behind")
	}
}
