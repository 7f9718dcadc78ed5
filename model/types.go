package model

import (
	"strings"
	"time"
)

// Tier is a subscription level. It controls the per-session active-time cap.
type Tier string

const (
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
	TierUnlimited Tier = "unlimited"
)

// ParseTier maps a stored tier name to a Tier, falling back to free for
// anything unknown.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPro:
		return TierPro
	case TierUnlimited:
		return TierUnlimited
	default:
		return TierFree
	}
}

// Limits holds the per-tier session caps. A zero duration means no cap.
type Limits struct {
	Free time.Duration
	Pro  time.Duration
}

// DefaultLimits are 10 minutes for free and 1,200 minutes for pro.
var DefaultLimits = Limits{
	Free: 600 * time.Second,
	Pro:  1200 * time.Minute,
}

// For returns the cap for a tier. Unlimited always returns 0.
func (l Limits) For(t Tier) time.Duration {
	switch t {
	case TierUnlimited:
		return 0
	case TierPro:
		return l.Pro
	default:
		return l.Free
	}
}

// DefaultTitle is used when a recording is saved without a title.
const DefaultTitle = "Untitled Recording"

type Recording struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Title           string    `json:"title"`
	AudioURL        string    `json:"audio_url,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Transcripts []Transcript `json:"transcripts,omitempty"`
}

type Transcript struct {
	RecordingID string   `json:"recording_id"`
	Text        string   `json:"text"`
	StartTime   float64  `json:"start_time"`
	EndTime     float64  `json:"end_time"`
	Confidence  *float64 `json:"confidence,omitempty"`
	IsFinal     bool     `json:"is_final"`
}

type LiveShare struct {
	ID          string     `json:"id"`
	RecordingID string     `json:"recording_id"`
	ShareToken  string     `json:"share_token"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the share has passed its expiry at now.
func (s LiveShare) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

type Profile struct {
	ID           string    `json:"id"`
	Tier         Tier      `json:"subscription_tier"`
	UsageSeconds int64     `json:"usage_seconds"`
	CreatedAt    time.Time `json:"created_at"`
}
