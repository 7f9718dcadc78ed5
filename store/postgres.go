// Package store persists recordings, transcripts, shares and usage in
// Postgres.
package store

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/voice-relay/model"
)

//go:embed schema.sql
var schema string

var (
	ErrNotFound = errors.New("not found")
	// ErrNotOwner is returned when a write targets another user's recording.
	ErrNotOwner = errors.New("recording belongs to another user")
)

type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to reach database")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to apply schema")
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// UpsertRecording inserts rec or updates the existing row with the same id.
// An empty audio URL keeps the stored one. A row owned by a different user is
// left untouched and ErrNotOwner is returned.
func (p *Postgres) UpsertRecording(ctx context.Context, rec model.Recording) error {
	title := rec.Title
	if title == "" {
		title = model.DefaultTitle
	}
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO recordings (id, user_id, title, audio_url, duration_seconds)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			audio_url = COALESCE(EXCLUDED.audio_url, recordings.audio_url),
			duration_seconds = EXCLUDED.duration_seconds,
			updated_at = now()
		WHERE recordings.user_id = EXCLUDED.user_id`,
		rec.ID, rec.UserID, title, rec.AudioURL, rec.DurationSeconds,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert recording %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotOwner, "upsert recording %s", rec.ID)
	}
	return nil
}

// ReplaceTranscripts swaps the stored transcript rows of a recording for
// rows in one transaction. The recording must exist and belong to userID.
func (p *Postgres) ReplaceTranscripts(ctx context.Context, userID, recordingID string, rows []model.Transcript) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var owner string
	err = tx.QueryRow(ctx, `SELECT user_id FROM recordings WHERE id = $1 FOR UPDATE`, recordingID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "load recording owner")
	}
	if owner != userID {
		return errors.Wrapf(ErrNotOwner, "replace transcripts of %s", recordingID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM transcripts WHERE recording_id = $1`, recordingID); err != nil {
		return errors.Wrap(err, "delete transcripts")
	}

	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, t := range rows {
			batch.Queue(`
				INSERT INTO transcripts (recording_id, text, start_time, end_time, confidence, is_final)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				recordingID, t.Text, t.StartTime, t.EndTime, t.Confidence, t.IsFinal,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "insert transcripts")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "failed to commit transaction")
}

// AddUsage atomically adds seconds to the user's lifetime usage.
func (p *Postgres) AddUsage(ctx context.Context, userID string, seconds int64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO profiles (id, usage_seconds) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET usage_seconds = profiles.usage_seconds + EXCLUDED.usage_seconds`,
		userID, seconds,
	)
	return errors.Wrapf(err, "add usage for %s", userID)
}

func (p *Postgres) Profile(ctx context.Context, userID string) (model.Profile, error) {
	var (
		prof model.Profile
		tier string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, subscription_tier, usage_seconds, created_at
		FROM profiles WHERE id = $1`, userID,
	).Scan(&prof.ID, &tier, &prof.UsageSeconds, &prof.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Profile{}, ErrNotFound
	}
	if err != nil {
		return model.Profile{}, errors.Wrap(err, "load profile")
	}
	prof.Tier = model.ParseTier(tier)
	return prof, nil
}

// UsageBetween sums the durations of the user's recordings created in
// [from, to).
func (p *Postgres) UsageBetween(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	var total int64
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(duration_seconds), 0)
		FROM recordings
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`,
		userID, from, to,
	).Scan(&total)
	return total, errors.Wrap(err, "sum usage")
}

func (p *Postgres) CreateShare(ctx context.Context, share model.LiveShare) (model.LiveShare, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO live_shares (id, recording_id, share_token, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		share.ID, share.RecordingID, share.ShareToken, share.IsActive, share.ExpiresAt,
	).Scan(&share.CreatedAt)
	if err != nil {
		return model.LiveShare{}, errors.Wrap(err, "create share")
	}
	return share, nil
}

func (p *Postgres) ShareByToken(ctx context.Context, token string) (model.LiveShare, error) {
	var s model.LiveShare
	err := p.pool.QueryRow(ctx, `
		SELECT id, recording_id, share_token, is_active, expires_at, created_at
		FROM live_shares WHERE share_token = $1`, token,
	).Scan(&s.ID, &s.RecordingID, &s.ShareToken, &s.IsActive, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LiveShare{}, ErrNotFound
	}
	if err != nil {
		return model.LiveShare{}, errors.Wrap(err, "load share")
	}
	return s, nil
}

const recordingColumns = `id, user_id, title, COALESCE(audio_url, ''), duration_seconds, created_at, updated_at`

func scanRecording(row pgx.Row) (model.Recording, error) {
	var r model.Recording
	err := row.Scan(&r.ID, &r.UserID, &r.Title, &r.AudioURL, &r.DurationSeconds, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// Recording loads one recording with its transcripts in time order.
func (p *Postgres) Recording(ctx context.Context, id string) (model.Recording, error) {
	rec, err := scanRecording(p.pool.QueryRow(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Recording{}, ErrNotFound
	}
	if err != nil {
		return model.Recording{}, errors.Wrap(err, "load recording")
	}

	rows, err := p.pool.Query(ctx, `
		SELECT recording_id, text, start_time, end_time, confidence, is_final
		FROM transcripts WHERE recording_id = $1
		ORDER BY start_time, id`, id)
	if err != nil {
		return model.Recording{}, errors.Wrap(err, "load transcripts")
	}
	defer rows.Close()

	for rows.Next() {
		var t model.Transcript
		if err := rows.Scan(&t.RecordingID, &t.Text, &t.StartTime, &t.EndTime, &t.Confidence, &t.IsFinal); err != nil {
			return model.Recording{}, errors.Wrap(err, "scan transcript")
		}
		rec.Transcripts = append(rec.Transcripts, t)
	}
	return rec, errors.Wrap(rows.Err(), "load transcripts")
}

// ListRecordings returns the user's recordings, newest first, without
// transcripts.
func (p *Postgres) ListRecordings(ctx context.Context, userID string) ([]model.Recording, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list recordings")
	}
	defer rows.Close()

	var out []model.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan recording")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "list recordings")
}

// DeleteRecording removes a recording with its transcripts and shares.
func (p *Postgres) DeleteRecording(ctx context.Context, id string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM transcripts WHERE recording_id = $1`, id); err != nil {
		return errors.Wrap(err, "delete transcripts")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM live_shares WHERE recording_id = $1`, id); err != nil {
		return errors.Wrap(err, "delete shares")
	}
	tag, err := tx.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete recording")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return errors.Wrap(tx.Commit(ctx), "failed to commit transaction")
}
