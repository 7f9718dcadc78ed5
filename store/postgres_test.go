package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mrsingh-rishi/voice-relay/model"
)

func openTestDB(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := Open(context.Background(), url)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func TestRecordingLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	id := uuid.NewString()

	if err := db.UpsertRecording(ctx, model.Recording{ID: id, UserID: user}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertRecording(ctx, model.Recording{ID: id, UserID: user, Title: "Call", AudioURL: user + "/" + id + ".wav", DurationSeconds: 42}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertRecording(ctx, model.Recording{ID: id, UserID: user, Title: "Call", DurationSeconds: 42}); err != nil {
		t.Fatal(err)
	}

	conf := 0.9
	first := []model.Transcript{{Text: "a", StartTime: 0, EndTime: 1, Confidence: &conf, IsFinal: true}}
	second := []model.Transcript{
		{Text: "b", StartTime: 1, EndTime: 2, IsFinal: true},
		{Text: "c", StartTime: 2, EndTime: 3, IsFinal: true},
	}
	if err := db.ReplaceTranscripts(ctx, user, id, first); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceTranscripts(ctx, user, id, second); err != nil {
		t.Fatal(err)
	}

	rec, err := db.Recording(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "Call" || rec.DurationSeconds != 42 || rec.AudioURL != user+"/"+id+".wav" {
		t.Errorf("recording = %+v", rec)
	}
	if len(rec.Transcripts) != 2 || rec.Transcripts[0].Text != "b" {
		t.Errorf("transcripts = %+v, want the replaced pair", rec.Transcripts)
	}

	list, err := db.ListRecordings(ctx, user)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListRecordings() = %v, %v", list, err)
	}

	used, err := db.UsageBetween(ctx, user, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil || used != 42 {
		t.Errorf("UsageBetween() = %d, %v, want 42", used, err)
	}

	if err := db.DeleteRecording(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Recording(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Recording() after delete error = %v, want ErrNotFound", err)
	}
	if err := db.DeleteRecording(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRecording() error = %v, want ErrNotFound", err)
	}
}

func TestWritesRejectOtherUsersRecording(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	owner := "user-" + uuid.NewString()
	intruder := "user-" + uuid.NewString()
	id := uuid.NewString()

	if err := db.UpsertRecording(ctx, model.Recording{ID: id, UserID: owner, Title: "Mine", DurationSeconds: 30}); err != nil {
		t.Fatal(err)
	}
	kept := []model.Transcript{{Text: "original", StartTime: 0, EndTime: 1, IsFinal: true}}
	if err := db.ReplaceTranscripts(ctx, owner, id, kept); err != nil {
		t.Fatal(err)
	}

	err := db.UpsertRecording(ctx, model.Recording{ID: id, UserID: intruder, Title: "Theirs", DurationSeconds: 5})
	if !errors.Is(err, ErrNotOwner) {
		t.Errorf("UpsertRecording() by another user error = %v, want ErrNotOwner", err)
	}
	err = db.ReplaceTranscripts(ctx, intruder, id, []model.Transcript{{Text: "overwritten", IsFinal: true}})
	if !errors.Is(err, ErrNotOwner) {
		t.Errorf("ReplaceTranscripts() by another user error = %v, want ErrNotOwner", err)
	}
	if err := db.ReplaceTranscripts(ctx, owner, uuid.NewString(), kept); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReplaceTranscripts() for a missing recording error = %v, want ErrNotFound", err)
	}

	rec, err := db.Recording(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.UserID != owner || rec.Title != "Mine" || rec.DurationSeconds != 30 {
		t.Errorf("recording = %+v, want it unchanged", rec)
	}
	if len(rec.Transcripts) != 1 || rec.Transcripts[0].Text != "original" {
		t.Errorf("transcripts = %+v, want the owner's row", rec.Transcripts)
	}
}

func TestAddUsageAccumulates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	if _, err := db.Profile(ctx, user); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Profile() error = %v, want ErrNotFound", err)
	}
	for _, s := range []int64{30, 12} {
		if err := db.AddUsage(ctx, user, s); err != nil {
			t.Fatal(err)
		}
	}
	prof, err := db.Profile(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if prof.UsageSeconds != 42 || prof.Tier != model.TierFree {
		t.Errorf("profile = %+v", prof)
	}
}

func TestShares(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	share, err := db.CreateShare(ctx, model.LiveShare{
		ID:          uuid.NewString(),
		RecordingID: uuid.NewString(),
		ShareToken:  uuid.NewString(),
		IsActive:    true,
		ExpiresAt:   &expires,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.ShareByToken(ctx, share.ShareToken)
	if err != nil {
		t.Fatal(err)
	}
	if got.RecordingID != share.RecordingID || !got.IsActive || got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("share = %+v", got)
	}
	if _, err := db.ShareByToken(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ShareByToken(missing) error = %v", err)
	}
}
