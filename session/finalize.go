package session

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mrsingh-rishi/voice-relay/model"
	"github.com/mrsingh-rishi/voice-relay/types"
)

const finalizeTimeout = 30 * time.Second

// RecordingStore persists finished recordings. Writes to a recording owned
// by another user fail with store.ErrNotOwner.
type RecordingStore interface {
	Recording(ctx context.Context, id string) (model.Recording, error)
	UpsertRecording(ctx context.Context, rec model.Recording) error
	ReplaceTranscripts(ctx context.Context, userID, recordingID string, transcripts []model.Transcript) error
	AddUsage(ctx context.Context, userID string, seconds int64) error
}

// BlobStore holds recording audio. Upload returns the stored reference.
type BlobStore interface {
	Upload(ctx context.Context, userID, recordingID string, wav []byte) (string, error)
}

// Titler names a recording from its transcript.
type Titler interface {
	Title(ctx context.Context, transcript string) (string, error)
}

// finalize saves the current recording. It does nothing while the audio
// buffer is empty or when nothing was added since the last save, so a stop
// followed by a disconnect saves once. Usage is charged only for seconds not
// already billed to this recording. Each write is attempted independently;
// failures are logged.
func (c *Controller) finalize() {
	c.mu.Lock()
	if c.saved || c.buffer.Len() == 0 {
		c.mu.Unlock()
		return
	}
	c.saved = true
	total := c.elapsed
	if !c.activeSince.IsZero() {
		total += c.now().Sub(c.activeSince)
	}
	recordingID, title := c.recordingID, c.title
	if recordingID == "" {
		if c.generatedID == "" {
			c.generatedID = uuid.NewString()
		}
		recordingID = c.generatedID
	}
	charged := c.charged
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), finalizeTimeout)
	defer cancel()

	duration := int(math.Round(total.Seconds()))
	if duration == 0 {
		duration = int(math.Round(c.buffer.Duration()))
	}
	logger := c.logger.With("recording", recordingID)

	finals := c.deps.Hub.FinalEvents(recordingID)
	if title == "" {
		title = c.generateTitle(ctx, finals)
	}

	var audioRef string
	if c.deps.Blobs != nil {
		ref, err := c.deps.Blobs.Upload(ctx, c.cfg.UserID, recordingID, c.buffer.WAV())
		if err != nil {
			logger.Error("audio upload failed", "error", err)
		} else {
			audioRef = ref
		}
	}

	if c.deps.Store == nil {
		logger.Warn("no store configured, recording not saved")
		return
	}

	rec := model.Recording{
		ID:              recordingID,
		UserID:          c.cfg.UserID,
		Title:           title,
		AudioURL:        audioRef,
		DurationSeconds: duration,
	}
	if err := c.deps.Store.UpsertRecording(ctx, rec); err != nil {
		logger.Error("recording upsert failed", "error", err)
	}

	if err := c.deps.Store.ReplaceTranscripts(ctx, c.cfg.UserID, recordingID, transcriptRows(recordingID, finals)); err != nil {
		logger.Error("transcript save failed", "error", err)
	}

	if due := int64(duration) - charged; c.cfg.UserID != "" && due > 0 {
		if err := c.deps.Store.AddUsage(ctx, c.cfg.UserID, due); err != nil {
			logger.Error("usage update failed", "error", err)
		} else {
			c.mu.Lock()
			c.charged += due
			c.mu.Unlock()
		}
	}

	logger.Info("recording saved", "duration", duration, "bytes", c.buffer.Len(), "transcripts", len(finals))
}

func (c *Controller) generateTitle(ctx context.Context, finals []types.TranscriptEvent) string {
	if c.deps.Titles == nil || len(finals) == 0 {
		return model.DefaultTitle
	}
	texts := make([]string, len(finals))
	for i, e := range finals {
		texts[i] = e.Text
	}
	title, err := c.deps.Titles.Title(ctx, strings.Join(texts, " "))
	if err != nil || strings.TrimSpace(title) == "" {
		c.logger.Warn("title generation failed", "error", err)
		return model.DefaultTitle
	}
	return title
}

func transcriptRows(recordingID string, events []types.TranscriptEvent) []model.Transcript {
	rows := make([]model.Transcript, 0, len(events))
	for _, e := range events {
		confidence := e.Confidence
		rows = append(rows, model.Transcript{
			RecordingID: recordingID,
			Text:        e.Text,
			StartTime:   e.StartOffset,
			EndTime:     e.EndOffset,
			Confidence:  &confidence,
			IsFinal:     true,
		})
	}
	return rows
}
