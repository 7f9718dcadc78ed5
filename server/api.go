package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/mrsingh-rishi/voice-relay/auth"
	"github.com/mrsingh-rishi/voice-relay/billing"
	"github.com/mrsingh-rishi/voice-relay/model"
	"github.com/mrsingh-rishi/voice-relay/store"
)

const identityKey = "identity"

// requireUser authenticates REST calls by bearer header or token query.
func (s *Server) requireUser(c *fiber.Ctx) error {
	token := strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
	if token == "" {
		token = c.Query("token")
	}
	identity, err := s.deps.Auth.Verify(c.UserContext(), token)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			return fiber.NewError(fiber.StatusUnauthorized, "missing auth token")
		}
		return fiber.NewError(fiber.StatusUnauthorized, "invalid auth token")
	}
	c.Locals(identityKey, identity)
	return c.Next()
}

func identityOf(c *fiber.Ctx) auth.Identity {
	id, _ := c.Locals(identityKey).(auth.Identity)
	return id
}

// ownedRecording loads id and checks it belongs to the caller.
func (s *Server) ownedRecording(c *fiber.Ctx, id string) (model.Recording, error) {
	rec, err := s.deps.Store.Recording(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Recording{}, fiber.NewError(fiber.StatusNotFound, "recording not found")
	}
	if err != nil {
		return model.Recording{}, err
	}
	if rec.UserID != identityOf(c).UserID {
		return model.Recording{}, fiber.NewError(fiber.StatusForbidden, "not your recording")
	}
	return rec, nil
}

// signAudio swaps the stored audio reference for a signed download URL.
// Signing failures leave the URL empty.
func (s *Server) signAudio(ctx context.Context, rec *model.Recording) {
	if rec.AudioURL == "" || s.deps.Blobs == nil {
		rec.AudioURL = ""
		return
	}
	url, err := s.deps.Blobs.SignedURL(ctx, rec.AudioURL, s.opts.SignedURLTTL)
	if err != nil {
		s.logger.Warn("sign audio url failed", "recording", rec.ID, "error", err)
		rec.AudioURL = ""
		return
	}
	rec.AudioURL = url
}

type initRequest struct {
	RecordingID string `json:"recording_id"`
	Title       string `json:"title"`
}

// initRecording creates the placeholder row a client configures its
// session with.
func (s *Server) initRecording(c *fiber.Ctx) error {
	var req initRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON")
		}
	}
	if req.RecordingID == "" {
		req.RecordingID = uuid.NewString()
	}

	user := identityOf(c).UserID
	existing, err := s.deps.Store.Recording(c.UserContext(), req.RecordingID)
	switch {
	case err == nil && existing.UserID != user:
		return fiber.NewError(fiber.StatusForbidden, "not your recording")
	case err == nil:
		return c.JSON(fiber.Map{"recording_id": existing.ID, "title": existing.Title})
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	title := req.Title
	if title == "" {
		title = model.DefaultTitle
	}
	rec := model.Recording{ID: req.RecordingID, UserID: user, Title: title}
	if err := s.deps.Store.UpsertRecording(c.UserContext(), rec); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"recording_id": rec.ID, "title": rec.Title})
}

func (s *Server) listRecordings(c *fiber.Ctx) error {
	recs, err := s.deps.Store.ListRecordings(c.UserContext(), identityOf(c).UserID)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []model.Recording{}
	}
	for i := range recs {
		s.signAudio(c.UserContext(), &recs[i])
	}
	return c.JSON(recs)
}

type recordingResponse struct {
	model.Recording
	IsLive bool `json:"is_live"`
}

func (s *Server) getRecording(c *fiber.Ctx) error {
	rec, err := s.ownedRecording(c, c.Params("id"))
	if err != nil {
		return err
	}
	s.signAudio(c.UserContext(), &rec)
	if rec.Transcripts == nil {
		rec.Transcripts = []model.Transcript{}
	}
	return c.JSON(recordingResponse{Recording: rec, IsLive: s.deps.Hub.IsLive(rec.ID)})
}

func (s *Server) deleteRecording(c *fiber.Ctx) error {
	rec, err := s.ownedRecording(c, c.Params("id"))
	if err != nil {
		return err
	}

	if rec.AudioURL != "" && s.deps.Blobs != nil {
		if err := s.deps.Blobs.Delete(c.UserContext(), rec.AudioURL); err != nil {
			s.logger.Warn("audio delete failed", "recording", rec.ID, "error", err)
		}
	}
	if err := s.deps.Store.DeleteRecording(c.UserContext(), rec.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "recording not found")
		}
		return err
	}
	s.deps.Hub.Forget(rec.ID)
	s.logger.Info("recording deleted", "recording", rec.ID)
	return c.JSON(fiber.Map{"deleted": rec.ID})
}

type shareRequest struct {
	RecordingID    string  `json:"recording_id"`
	ExpiresInHours float64 `json:"expires_in_hours"`
}

func (s *Server) createShare(c *fiber.Ctx) error {
	var req shareRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON")
	}
	if req.RecordingID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "recording_id is required")
	}
	if _, err := s.ownedRecording(c, req.RecordingID); err != nil {
		return err
	}

	ttl := s.opts.ShareTTL
	if req.ExpiresInHours > 0 {
		ttl = time.Duration(req.ExpiresInHours * float64(time.Hour))
	}
	expires := s.now().Add(ttl).UTC()

	share, err := s.deps.Store.CreateShare(c.UserContext(), model.LiveShare{
		ID:          uuid.NewString(),
		RecordingID: req.RecordingID,
		ShareToken:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		IsActive:    true,
		ExpiresAt:   &expires,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(share)
}

type shareResponse struct {
	RecordingID     string             `json:"recording_id"`
	Title           string             `json:"title"`
	DurationSeconds int                `json:"duration_seconds"`
	AudioURL        string             `json:"audio_url,omitempty"`
	Transcripts     []model.Transcript `json:"transcripts"`
	IsLive          bool               `json:"is_live"`
	ExpiresAt       *time.Time         `json:"expires_at"`
}

// getShare is public: anyone with the token can read the recording.
func (s *Server) getShare(c *fiber.Ctx) error {
	share, err := s.deps.Store.ShareByToken(c.UserContext(), c.Params("token"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "share not found")
	}
	if err != nil {
		return err
	}
	if !share.IsActive || share.Expired(s.now()) {
		return fiber.NewError(fiber.StatusGone, "share is no longer available")
	}

	live := s.deps.Hub.IsLive(share.RecordingID)
	resp := shareResponse{
		RecordingID: share.RecordingID,
		IsLive:      live,
		ExpiresAt:   share.ExpiresAt,
		Transcripts: []model.Transcript{},
	}

	rec, err := s.deps.Store.Recording(c.UserContext(), share.RecordingID)
	switch {
	case err == nil:
		s.signAudio(c.UserContext(), &rec)
		resp.Title = rec.Title
		resp.DurationSeconds = rec.DurationSeconds
		resp.AudioURL = rec.AudioURL
		if rec.Transcripts != nil {
			resp.Transcripts = rec.Transcripts
		}
	case errors.Is(err, store.ErrNotFound) && live:
		resp.Title = model.DefaultTitle
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "recording not found")
	default:
		return err
	}

	if live && len(resp.Transcripts) == 0 {
		for _, e := range s.deps.Hub.FinalEvents(share.RecordingID) {
			confidence := e.Confidence
			resp.Transcripts = append(resp.Transcripts, model.Transcript{
				RecordingID: share.RecordingID,
				Text:        e.Text,
				StartTime:   e.StartOffset,
				EndTime:     e.EndOffset,
				Confidence:  &confidence,
				IsFinal:     true,
			})
		}
	}
	return c.JSON(resp)
}

// usage reports the caller's consumption within the current billing
// period. Unlimited tiers report -1 for limit and remaining.
func (s *Server) usage(c *fiber.Ctx) error {
	user := identityOf(c).UserID
	prof, err := s.deps.Store.Profile(c.UserContext(), user)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		prof = model.Profile{ID: user, Tier: model.TierFree}
	}

	now := s.now()
	start, end := billing.Window(prof.CreatedAt, now)
	used, err := s.deps.Store.UsageBetween(c.UserContext(), user, start, end)
	if err != nil {
		return err
	}

	limit := int64(s.opts.Limits.For(prof.Tier) / time.Second)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	if prof.Tier == model.TierUnlimited {
		limit, remaining = -1, -1
	}

	return c.JSON(fiber.Map{
		"tier":              prof.Tier,
		"limit_seconds":     limit,
		"used_seconds":      used,
		"remaining_seconds": remaining,
		"lifetime_seconds":  prof.UsageSeconds,
		"period_start":      start,
		"period_end":        end,
	})
}
