// Package server exposes the recording and viewer websockets and the REST
// endpoints around them.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/mrsingh-rishi/voice-relay/auth"
	"github.com/mrsingh-rishi/voice-relay/live"
	"github.com/mrsingh-rishi/voice-relay/model"
	"github.com/mrsingh-rishi/voice-relay/session"
)

// Store is everything the server reads and writes in the database.
type Store interface {
	session.RecordingStore
	Profile(ctx context.Context, userID string) (model.Profile, error)
	UsageBetween(ctx context.Context, userID string, from, to time.Time) (int64, error)
	CreateShare(ctx context.Context, share model.LiveShare) (model.LiveShare, error)
	ShareByToken(ctx context.Context, token string) (model.LiveShare, error)
	ListRecordings(ctx context.Context, userID string) ([]model.Recording, error)
	DeleteRecording(ctx context.Context, id string) error
}

// Blobs stores recording audio.
type Blobs interface {
	session.BlobStore
	SignedURL(ctx context.Context, path string, expires time.Duration) (string, error)
	Delete(ctx context.Context, path string) error
}

type Options struct {
	Limits model.Limits
	// Tick is the session limit check interval.
	Tick time.Duration
	// StatsEvery turns on periodic per-session stats when positive.
	StatsEvery   time.Duration
	ShareTTL     time.Duration
	SignedURLTTL time.Duration
}

// Deps are the server's collaborators. Blobs and Titles may be nil.
type Deps struct {
	Auth   auth.Verifier
	Store  Store
	Blobs  Blobs
	Titles session.Titler
	Dial   session.Dialer
	Hub    *live.Hub
	Logger *log.Logger
	Now    func() time.Time
}

type Server struct {
	app    *fiber.App
	opts   Options
	deps   Deps
	logger *log.Logger
	now    func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

func New(opts Options, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if opts.Limits == (model.Limits{}) {
		opts.Limits = model.DefaultLimits
	}
	if opts.ShareTTL <= 0 {
		opts.ShareTTL = 24 * time.Hour
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: deps.Logger,
		now:    deps.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/transcribe", websocket.New(s.transcribe))
	s.app.Get("/ws/watch/:token", websocket.New(s.watch))

	s.app.Get("/api/shares/:token", s.getShare)

	api := s.app.Group("/api", s.requireUser)
	api.Post("/recordings/init", s.initRecording)
	api.Get("/recordings", s.listRecordings)
	api.Get("/recordings/:id", s.getRecording)
	api.Delete("/recordings/:id", s.deleteRecording)
	api.Post("/shares", s.createShare)
	api.Get("/user/usage", s.usage)
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections, ends every live session and waits
// for their recordings to be saved.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.app.ShutdownWithContext(ctx)

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":            "ok",
		"timestamp":         s.now().UTC().Format(time.RFC3339),
		"active_recordings": s.deps.Hub.ActiveCount(),
		"viewers":           s.deps.Hub.TotalViewers(),
	})
}
