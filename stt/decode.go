package stt

import (
	"encoding/json"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/voice-relay/types"
)

// ErrProtocol marks an engine message that could not be decoded.
var ErrProtocol = errors.New("malformed deepgram message")

type Kind int

const (
	KindIgnored Kind = iota
	KindTranscript
	KindSpeechStarted
	KindUtteranceEnd
	KindUnknown
)

// Event is one decoded engine message.
type Event struct {
	Kind      Kind
	Type      string
	Result    types.TranscriptionResult
	Timestamp float64
}

// Decode classifies and parses one engine message. Results with no
// alternatives or a blank top transcript decode as KindIgnored.
func Decode(msg []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return Event{}, errors.Wrap(ErrProtocol, err.Error())
	}

	switch head.Type {
	case "Results":
		var mr api.MessageResponse
		if err := json.Unmarshal(msg, &mr); err != nil {
			return Event{}, errors.Wrap(ErrProtocol, err.Error())
		}
		if len(mr.Channel.Alternatives) == 0 {
			return Event{Kind: KindIgnored, Type: head.Type}, nil
		}
		top := mr.Channel.Alternatives[0]
		if strings.TrimSpace(top.Transcript) == "" {
			return Event{Kind: KindIgnored, Type: head.Type}, nil
		}
		return Event{
			Kind: KindTranscript,
			Type: head.Type,
			Result: types.TranscriptionResult{
				Transcription: top.Transcript,
				Confidence:    top.Confidence,
				Final:         mr.IsFinal || mr.SpeechFinal,
				Start:         mr.Start,
				Duration:      mr.Duration,
			},
		}, nil

	case "SpeechStarted":
		var ssr api.SpeechStartedResponse
		if err := json.Unmarshal(msg, &ssr); err != nil {
			return Event{}, errors.Wrap(ErrProtocol, err.Error())
		}
		return Event{Kind: KindSpeechStarted, Type: head.Type, Timestamp: ssr.Timestamp}, nil

	case "UtteranceEnd":
		var ur api.UtteranceEndResponse
		if err := json.Unmarshal(msg, &ur); err != nil {
			return Event{}, errors.Wrap(ErrProtocol, err.Error())
		}
		return Event{Kind: KindUtteranceEnd, Type: head.Type, Timestamp: ur.LastWordEnd}, nil

	case "Metadata":
		return Event{Kind: KindIgnored, Type: head.Type}, nil

	default:
		return Event{Kind: KindUnknown, Type: head.Type}, nil
	}
}
