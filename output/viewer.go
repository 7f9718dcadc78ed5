package output

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Viewer writes live transcript frames to one watcher socket. Sends are
// synchronous so a failed write is reported to the caller right away.
type Viewer struct {
	ws Socket
	mu sync.Mutex
}

func NewViewer(ws Socket) *Viewer {
	return &Viewer{ws: ws}
}

func (v *Viewer) Send(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d, ok := v.ws.(deadliner); ok {
		d.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return v.ws.WriteMessage(websocket.TextMessage, data)
}

// CloseWith sends a close frame and closes the socket.
func (v *Viewer) CloseWith(code int, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	v.ws.Close()
}
