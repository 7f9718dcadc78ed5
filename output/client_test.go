package output

import (
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/gofiber/websocket/v2"
)

type written struct {
	kind int
	data []byte
}

type fakeSocket struct {
	mu     sync.Mutex
	frames []written
	closed int
	fail   bool
}

func (s *fakeSocket) WriteMessage(kind int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.frames = append(s.frames, written{kind: kind, data: append([]byte(nil), data...)})
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSocket) snapshot() ([]written, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]written(nil), s.frames...), s.closed
}

func TestClientOutputPreservesOrder(t *testing.T) {
	ws := &fakeSocket{}
	out := NewClientOutput(ws, log.New(io.Discard))
	out.Start()

	for i := 0; i < 100; i++ {
		if err := out.Send(map[string]int{"n": i}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	out.Stop()

	frames, closed := ws.snapshot()
	if len(frames) != 100 {
		t.Fatalf("wrote %d frames, want 100", len(frames))
	}
	for i, f := range frames {
		want := `{"n":` + strconv.Itoa(i) + `}`
		if string(f.data) != want || f.kind != websocket.TextMessage {
			t.Fatalf("frame %d = %s, want %s", i, f.data, want)
		}
	}
	if closed == 0 {
		t.Errorf("socket not closed after Stop")
	}
}

func TestClientOutputCloseWith(t *testing.T) {
	ws := &fakeSocket{}
	out := NewClientOutput(ws, log.New(io.Discard))
	out.Start()

	if err := out.Send(map[string]string{"type": "limit_reached"}); err != nil {
		t.Fatal(err)
	}
	if err := out.CloseWith(4002, "limit reached"); err != nil {
		t.Fatalf("CloseWith() error = %v", err)
	}
	if err := out.Send(map[string]string{"type": "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after close error = %v, want ErrClosed", err)
	}
	if err := out.CloseWith(4002, "again"); !errors.Is(err, ErrClosed) {
		t.Errorf("second CloseWith() error = %v, want ErrClosed", err)
	}
	out.Stop()

	frames, _ := ws.snapshot()
	if len(frames) != 2 {
		t.Fatalf("wrote %d frames, want 2", len(frames))
	}
	last := frames[1]
	if last.kind != websocket.CloseMessage {
		t.Fatalf("last frame kind = %d, want close", last.kind)
	}
	if code := binary.BigEndian.Uint16(last.data[:2]); code != 4002 {
		t.Errorf("close code = %d, want 4002", code)
	}
	if string(last.data[2:]) != "limit reached" {
		t.Errorf("close reason = %q", last.data[2:])
	}
}

func TestClientOutputSurvivesWriteErrors(t *testing.T) {
	ws := &fakeSocket{fail: true}
	out := NewClientOutput(ws, log.New(io.Discard))
	out.Start()
	for i := 0; i < 10; i++ {
		out.Send(i)
	}
	out.Stop()
	out.Stop()
}

func TestViewerSend(t *testing.T) {
	ws := &fakeSocket{}
	v := NewViewer(ws)
	if err := v.Send([]byte(`{"transcript":"hi"}`)); err != nil {
		t.Fatal(err)
	}
	ws.mu.Lock()
	ws.fail = true
	ws.mu.Unlock()
	if err := v.Send([]byte(`{}`)); err == nil {
		t.Errorf("Send() on broken socket should fail")
	}
	v.CloseWith(4004, "not found")
	_, closed := ws.snapshot()
	if closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}
}
