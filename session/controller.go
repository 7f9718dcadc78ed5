// Package session runs one recording client connection: it relays audio to
// the recognition engine, meters active time against the tier cap and saves
// the recording once when the session ends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/websocket/v2"

	"github.com/mrsingh-rishi/voice-relay/audio"
	"github.com/mrsingh-rishi/voice-relay/live"
	"github.com/mrsingh-rishi/voice-relay/metrics"
	"github.com/mrsingh-rishi/voice-relay/model"
	"github.com/mrsingh-rishi/voice-relay/output"
	"github.com/mrsingh-rishi/voice-relay/store"
	"github.com/mrsingh-rishi/voice-relay/types"
	"github.com/mrsingh-rishi/voice-relay/workers"
)

// ErrLimitExceeded is returned by Run when the session was closed because
// the tier cap was reached.
var ErrLimitExceeded = errors.New("session time limit reached")

const lookupTimeout = 10 * time.Second

// Relay is an open stream to the recognition engine.
type Relay interface {
	Send(chunk []byte) error
	Results() <-chan types.TranscriptionResult
	Close() error
}

// Dialer opens a Relay for one session.
type Dialer func(ctx context.Context) (Relay, error)

// Socket is the client websocket.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	output.Socket
}

// Config describes the authenticated client behind one session.
type Config struct {
	ClientID string
	UserID   string
	Tier     model.Tier
	// Limit is the active-time cap for one interval. Zero means unlimited.
	Limit time.Duration
	// Tick is how often the limit is checked.
	Tick time.Duration
	// StatsEvery enables the periodic metrics report when positive.
	StatsEvery time.Duration
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Dial   Dialer
	Hub    *live.Hub
	Store  RecordingStore
	Blobs  BlobStore
	Titles Titler
	Logger *log.Logger
	Now    func() time.Time
}

type Controller struct {
	cfg    Config
	deps   Deps
	ws     Socket
	out    *output.ClientOutput
	buffer *audio.Buffer
	stats  *metrics.Session
	logger *log.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	relay  Relay
	wg     sync.WaitGroup

	mu          sync.Mutex
	recordingID string
	generatedID string
	title       string
	elapsed     time.Duration
	activeSince time.Time
	// saved is set when the buffer has been finalized and cleared by new audio.
	saved   bool
	charged int64
	limited bool
	timerGen    int
	timerCancel context.CancelFunc
}

func New(ws Socket, cfg Config, deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	logger := deps.Logger.With("client", cfg.ClientID)
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		ws:     ws,
		out:    output.NewClientOutput(ws, logger),
		buffer: audio.NewBuffer(audio.DefaultSampleRate, audio.DefaultChannels),
		stats:  metrics.NewSession(deps.Now()),
		logger: logger,
		now:    deps.Now,
	}
}

// Run serves the session until the client disconnects, the limit is hit or
// ctx is cancelled. Teardown and finalize have completed when it returns.
func (c *Controller) Run(ctx context.Context) error {
	stopWatch := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stopWatch()

	c.ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()

	c.out.Start()

	relay, err := c.deps.Dial(c.ctx)
	if err != nil {
		c.logger.Error("relay dial failed", "error", err)
		c.out.Send(types.ErrorMessage{Type: types.MessageError, Message: "failed to connect to transcription service"})
		c.out.CloseWith(websocket.CloseInternalServerErr, "transcription unavailable")
		c.out.Stop()
		return err
	}
	c.relay = relay

	worker, err := workers.NewTranscriptionWorker(relay.Results(), c.out, c.deps.Hub, c.RecordingID, c.stats, c.logger)
	if err != nil {
		relay.Close()
		c.out.Stop()
		return err
	}
	worker.Start()

	if c.cfg.StatsEvery > 0 {
		c.wg.Add(1)
		go c.reportStatistics()
	}

	c.logger.Info("session ready", "user", c.cfg.UserID, "tier", c.cfg.Tier, "limit", c.cfg.Limit)
	readErr := c.readLoop()
	c.teardown(worker)

	c.mu.Lock()
	limited := c.limited
	c.mu.Unlock()
	if limited {
		return ErrLimitExceeded
	}
	return readErr
}

func (c *Controller) readLoop() error {
	for {
		mt, msg, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.logger.Info("client closed")
			case c.ctx.Err() != nil || c.isLimited():
			default:
				c.logger.Warn("client read failed", "error", err)
				return err
			}
			return nil
		}

		switch mt {
		case websocket.TextMessage:
			c.handleControl(msg)
		case websocket.BinaryMessage:
			c.handleAudio(msg)
		}
	}
}

func (c *Controller) handleControl(msg []byte) {
	var ctl types.ControlMessage
	if err := json.Unmarshal(msg, &ctl); err != nil {
		c.logger.Warn("bad control message", "error", err)
		return
	}
	switch ctl.Type {
	case types.MessageConfigure:
		if ctl.RecordingID == "" {
			c.logger.Warn("configure without recording id")
			return
		}
		if err := c.Configure(ctl.RecordingID, ctl.Title); err != nil {
			c.logger.Warn("configure rejected", "recording", ctl.RecordingID, "error", err)
			msg := "failed to configure recording"
			if errors.Is(err, store.ErrNotOwner) {
				msg = "recording belongs to another user"
			}
			c.out.Send(types.ErrorMessage{Type: types.MessageError, Message: msg})
		}
	case types.MessageStopRecording:
		c.Stop()
	default:
		c.logger.Warn("unknown control message", "type", ctl.Type)
	}
}

// Configure binds the session to a recording and restarts the active
// interval. It may be called again; switching to a different recording saves
// the previous one and starts a fresh buffer. A recording that already belongs
// to another user is rejected with store.ErrNotOwner.
func (c *Controller) Configure(recordingID, title string) error {
	if c.isLimited() {
		return ErrLimitExceeded
	}
	if err := c.checkOwner(recordingID); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.recordingID
	switching := prev != recordingID && (prev != "" || c.generatedID != "")
	if switching {
		c.foldLocked()
		c.stopTimerLocked()
	}
	c.mu.Unlock()

	if switching {
		c.finalize()
		if prev != "" {
			c.deps.Hub.Release(prev)
		}
	}

	c.mu.Lock()
	if c.limited {
		c.mu.Unlock()
		return ErrLimitExceeded
	}
	if switching {
		c.resetRecordingLocked()
	}
	c.recordingID = recordingID
	if title != "" {
		c.title = title
	}
	c.restartTimerLocked(true)
	c.mu.Unlock()

	c.deps.Hub.Activate(recordingID)
	c.logger.Info("configured", "recording", recordingID, "previous", prev)
	return nil
}

// checkOwner fails when recordingID is stored under a different user.
func (c *Controller) checkOwner(recordingID string) error {
	if c.deps.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(c.ctx, lookupTimeout)
	defer cancel()

	rec, err := c.deps.Store.Recording(ctx, recordingID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("look up recording %s: %w", recordingID, err)
	case rec.UserID != c.cfg.UserID:
		return store.ErrNotOwner
	}
	return nil
}

// resetRecordingLocked clears per-recording state after the previous
// recording was saved. Caller holds c.mu.
func (c *Controller) resetRecordingLocked() {
	c.buffer.Reset()
	c.elapsed = 0
	c.activeSince = time.Time{}
	c.title = ""
	c.generatedID = ""
	c.saved = false
	c.charged = 0
}

func (c *Controller) handleAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limited {
		return
	}
	c.restartTimerLocked(false)
	c.buffer.Append(chunk)
	c.saved = false
	if err := c.relay.Send(chunk); err != nil {
		c.logger.Warn("relay send failed", "error", err)
		return
	}
	c.stats.ChunkSent(len(chunk), c.now())
}

// Stop closes the active interval and saves the recording.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.foldLocked()
	c.stopTimerLocked()
	c.mu.Unlock()

	c.logger.Info("recording stop received")
	c.finalize()
}

// RecordingID returns the currently configured recording, if any.
func (c *Controller) RecordingID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordingID
}

// Elapsed returns the active time so far, including any open interval.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.elapsed
	if !c.activeSince.IsZero() {
		total += c.now().Sub(c.activeSince)
	}
	return total
}

func (c *Controller) isLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limited
}

// foldLocked moves the open interval, if any, into elapsed.
func (c *Controller) foldLocked() {
	if c.activeSince.IsZero() {
		return
	}
	if d := c.now().Sub(c.activeSince); d > 0 {
		c.elapsed += d
	}
	c.activeSince = time.Time{}
}

func (c *Controller) teardown(worker *workers.TranscriptionWorker) {
	c.mu.Lock()
	c.foldLocked()
	c.stopTimerLocked()
	c.mu.Unlock()

	c.cancel()
	if err := c.relay.Close(); err != nil {
		c.logger.Debug("relay close", "error", err)
	}
	select {
	case <-worker.Done():
	case <-time.After(2 * time.Second):
		c.logger.Warn("relay results not drained")
	}
	worker.Stop()
	c.wg.Wait()

	c.finalize()

	if id := c.RecordingID(); id != "" {
		c.deps.Hub.Release(id)
	}
	c.logger.Info("session closed", c.stats.Summary(c.now()).KeyVals()...)
	c.out.Stop()
}

func (c *Controller) reportStatistics() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.StatsEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.logger.Debug("session stats", c.stats.Summary(c.now()).KeyVals()...)
		}
	}
}
