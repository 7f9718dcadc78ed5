package types

import "time"

// TranscriptionResult is what the relay surfaces for every non-blank
// recognition result, interim or final.
type TranscriptionResult struct {
	Transcription string
	Confidence    float64
	Final         bool
	Start         float64
	Duration      float64
	ReceivedAt    time.Time
}

// TranscriptEvent is one entry of a recording's live transcript log.
type TranscriptEvent struct {
	Text        string
	StartOffset float64
	EndOffset   float64
	Confidence  float64
	IsFinal     bool
	ReceivedAt  time.Time
}

// Event converts a relay result into a log entry.
func (r TranscriptionResult) Event() TranscriptEvent {
	return TranscriptEvent{
		Text:        r.Transcription,
		StartOffset: r.Start,
		EndOffset:   r.Start + r.Duration,
		Confidence:  r.Confidence,
		IsFinal:     r.Final,
		ReceivedAt:  r.ReceivedAt,
	}
}

// Control messages sent by the recording client as text frames.
const (
	MessageConfigure     = "configure"
	MessageStopRecording = "stop_recording"
	MessageLimitReached  = "limit_reached"
	MessageError         = "error"
)

type ControlMessage struct {
	Type        string `json:"type"`
	RecordingID string `json:"recording_id,omitempty"`
	Title       string `json:"title,omitempty"`
}

// TranscriptMessage is echoed to the recording client.
type TranscriptMessage struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

// ViewerMessage is the transcript shape pushed to live viewers.
type ViewerMessage struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Timestamp  float64 `json:"timestamp"`
}

func (e TranscriptEvent) ViewerMessage() ViewerMessage {
	return ViewerMessage{
		Transcript: e.Text,
		IsFinal:    e.IsFinal,
		Confidence: e.Confidence,
		Timestamp:  float64(e.ReceivedAt.UnixNano()) / 1e9,
	}
}

type LimitMessage struct {
	Type         string `json:"type"`
	Tier         string `json:"tier"`
	LimitSeconds int    `json:"limit_seconds"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Close codes used on the client and viewer sockets.
const (
	CloseMissingAuth   = 4000
	CloseInvalidAuth   = 4001
	CloseLimitReached  = 4002
	CloseShareInactive = 4003
	CloseShareNotFound = 4004
	CloseShareExpired  = 4010
)
