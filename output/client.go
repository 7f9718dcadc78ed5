package output

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/websocket/v2"
)

// ErrClosed is returned by Send once the output has been closed.
var ErrClosed = errors.New("output closed")

// Socket is the write side of a websocket connection.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

const writeTimeout = 5 * time.Second

type frame struct {
	kind   int
	data   []byte
	closes bool
}

// ClientOutput owns every write to one client socket. Messages are written
// by a single goroutine in the order they were queued.
type ClientOutput struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     Socket
	frames chan frame
	quit   chan struct{}
	done   chan struct{}
	logger *log.Logger

	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once
}

func NewClientOutput(ws Socket, logger *log.Logger) *ClientOutput {
	ctx, cancel := context.WithCancel(context.Background())
	return &ClientOutput{
		ctx:    ctx,
		cancel: cancel,
		ws:     ws,
		frames: make(chan frame, 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (o *ClientOutput) Start() {
	go func() {
		defer close(o.done)
		for {
			select {
			case <-o.ctx.Done():
				return
			case f := <-o.frames:
				if o.write(f) {
					return
				}
			case <-o.quit:
				for {
					select {
					case f := <-o.frames:
						if o.write(f) {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
}

// write sends one frame and reports whether the socket is now closed.
func (o *ClientOutput) write(f frame) bool {
	if d, ok := o.ws.(deadliner); ok {
		d.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	if err := o.ws.WriteMessage(f.kind, f.data); err != nil {
		o.logger.Debug("client write failed", "error", err)
	}
	if f.closes {
		o.ws.Close()
		return true
	}
	return false
}

func (o *ClientOutput) enqueue(f frame, closes bool) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if closes {
		o.closed = true
	}
	o.mu.Unlock()

	select {
	case o.frames <- f:
		return nil
	case <-o.done:
		return ErrClosed
	case <-o.ctx.Done():
		return ErrClosed
	}
}

// Send queues v as a JSON text message.
func (o *ClientOutput) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return o.enqueue(frame{kind: websocket.TextMessage, data: data}, false)
}

// CloseWith queues a close frame with code and reason after everything
// already queued, then closes the socket. Later sends fail with ErrClosed.
func (o *ClientOutput) CloseWith(code int, reason string) error {
	return o.enqueue(frame{
		kind:   websocket.CloseMessage,
		data:   websocket.FormatCloseMessage(code, reason),
		closes: true,
	}, true)
}

// Stop flushes queued messages, waits for the writer to exit and closes
// the socket.
func (o *ClientOutput) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		close(o.quit)
		select {
		case <-o.done:
		case <-time.After(writeTimeout):
			o.logger.Warn("client writer did not drain in time")
		}
		o.cancel()
		o.ws.Close()
	})
}
