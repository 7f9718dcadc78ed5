package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/mrsingh-rishi/voice-relay/auth"
	"github.com/mrsingh-rishi/voice-relay/model"
	"github.com/mrsingh-rishi/voice-relay/output"
	"github.com/mrsingh-rishi/voice-relay/session"
	"github.com/mrsingh-rishi/voice-relay/store"
	"github.com/mrsingh-rishi/voice-relay/types"
)

const lookupTimeout = 10 * time.Second

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}

// transcribe serves one recording client for its whole life.
func (s *Server) transcribe(conn *websocket.Conn) {
	s.sessions.Add(1)
	defer s.sessions.Done()

	ctx, cancel := context.WithTimeout(s.ctx, lookupTimeout)
	identity, err := s.deps.Auth.Verify(ctx, conn.Query("token"))
	if err != nil {
		cancel()
		if errors.Is(err, auth.ErrMissingToken) {
			closeWith(conn, types.CloseMissingAuth, "missing auth token")
			return
		}
		s.logger.Info("rejected client", "error", err)
		closeWith(conn, types.CloseInvalidAuth, "invalid auth token")
		return
	}

	tier := model.TierFree
	prof, err := s.deps.Store.Profile(ctx, identity.UserID)
	cancel()
	switch {
	case err == nil:
		tier = prof.Tier
	case errors.Is(err, store.ErrNotFound):
	default:
		s.logger.Warn("profile lookup failed, using free tier", "user", identity.UserID, "error", err)
	}

	ctl := session.New(conn, session.Config{
		ClientID:   uuid.NewString(),
		UserID:     identity.UserID,
		Tier:       tier,
		Limit:      s.opts.Limits.For(tier),
		Tick:       s.opts.Tick,
		StatsEvery: s.opts.StatsEvery,
	}, session.Deps{
		Dial:   s.deps.Dial,
		Hub:    s.deps.Hub,
		Store:  s.deps.Store,
		Blobs:  s.blobStore(),
		Titles: s.deps.Titles,
		Logger: s.logger,
		Now:    s.now,
	})

	if err := ctl.Run(s.ctx); err != nil && !errors.Is(err, session.ErrLimitExceeded) {
		s.logger.Warn("session ended with error", "user", identity.UserID, "error", err)
	}
}

// blobStore keeps a nil Blobs nil when narrowed to session.BlobStore.
func (s *Server) blobStore() session.BlobStore {
	if s.deps.Blobs == nil {
		return nil
	}
	return s.deps.Blobs
}

// watch attaches a read-only viewer to a shared recording.
func (s *Server) watch(conn *websocket.Conn) {
	token := conn.Params("token")

	ctx, cancel := context.WithTimeout(s.ctx, lookupTimeout)
	share, err := s.deps.Store.ShareByToken(ctx, token)
	cancel()
	switch {
	case errors.Is(err, store.ErrNotFound):
		closeWith(conn, types.CloseShareNotFound, "share not found")
		return
	case err != nil:
		s.logger.Error("share lookup failed", "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "share lookup failed")
		return
	case !share.IsActive:
		closeWith(conn, types.CloseShareInactive, "share is no longer active")
		return
	case share.Expired(s.now()):
		closeWith(conn, types.CloseShareExpired, "share has expired")
		return
	}

	viewer := output.NewViewer(conn)
	if err := s.deps.Hub.Join(share.RecordingID, viewer); err != nil {
		s.logger.Debug("viewer replay failed", "recording", share.RecordingID, "error", err)
		conn.Close()
		return
	}
	defer s.deps.Hub.Leave(share.RecordingID, viewer)

	stop := context.AfterFunc(s.ctx, func() {
		viewer.CloseWith(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
