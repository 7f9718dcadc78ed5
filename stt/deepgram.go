package stt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	gws "github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/voice-relay/types"
)

const DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

// ErrUpstreamConnect is returned when the recognition engine cannot be reached.
var ErrUpstreamConnect = errors.New("deepgram connect failed")

// Options are fixed for the lifetime of one stream.
type Options struct {
	Endpoint       string
	Model          string
	Language       string
	Encoding       string
	SampleRate     int
	Channels       int
	InterimResults bool
	Punctuate      bool
	SmartFormat    bool
	FillerWords    bool
	EndpointingMs  int
	KeepAlive      time.Duration
}

// DefaultOptions match the linear16 mono audio the web and mobile clients send.
func DefaultOptions() Options {
	return Options{
		Endpoint:       DefaultEndpoint,
		Model:          "nova-2",
		Encoding:       "linear16",
		SampleRate:     16000,
		Channels:       1,
		InterimResults: true,
		Punctuate:      true,
		SmartFormat:    true,
		EndpointingMs:  200,
		KeepAlive:      5 * time.Second,
	}
}

func (o Options) url() (string, error) {
	u, err := url.Parse(o.Endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse deepgram endpoint")
	}
	q := u.Query()
	q.Set("model", o.Model)
	q.Set("encoding", o.Encoding)
	q.Set("sample_rate", strconv.Itoa(o.SampleRate))
	q.Set("channels", strconv.Itoa(o.Channels))
	q.Set("interim_results", strconv.FormatBool(o.InterimResults))
	q.Set("punctuate", strconv.FormatBool(o.Punctuate))
	q.Set("smart_format", strconv.FormatBool(o.SmartFormat))
	q.Set("filler_words", strconv.FormatBool(o.FillerWords))
	if o.Language != "" {
		q.Set("language", o.Language)
	}
	if o.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(o.EndpointingMs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DeepgramClient opens one live transcription stream per session.
type DeepgramClient struct {
	APIKey  string
	Options Options
	Logger  *log.Logger
	Dialer  *gws.Dialer
}

func NewDeepgramClient(apiKey string, opts Options, logger *log.Logger) *DeepgramClient {
	return &DeepgramClient{
		APIKey:  apiKey,
		Options: opts,
		Logger:  logger,
		Dialer:  gws.DefaultDialer,
	}
}

// Dial connects to Deepgram and starts the receive loop and keepalive
// goroutines. Both stop when ctx is cancelled or the stream is closed.
func (dg *DeepgramClient) Dial(ctx context.Context) (*Stream, error) {
	endpoint, err := dg.Options.url()
	if err != nil {
		return nil, err
	}

	header := http.Header{
		"Authorization": {fmt.Sprintf("Token %s", dg.APIKey)},
	}
	conn, _, err := dg.Dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamConnect, "%v", err)
	}
	dg.Logger.Info("relay open", "model", dg.Options.Model, "sample_rate", dg.Options.SampleRate)

	s := &Stream{
		conn:    conn,
		logger:  dg.Logger,
		results: make(chan types.TranscriptionResult, 64),
		done:    make(chan struct{}),
	}

	go s.listenForResponses()
	if dg.Options.KeepAlive > 0 {
		go s.keepAlive(ctx, dg.Options.KeepAlive)
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// Stream is one open connection to the recognition engine.
type Stream struct {
	conn    *gws.Conn
	writeMu sync.Mutex
	logger  *log.Logger
	results chan types.TranscriptionResult
	done    chan struct{}
	once    sync.Once

	keepalives int
}

// Results yields decoded transcripts in arrival order. It is closed when
// the connection ends.
func (s *Stream) Results() <-chan types.TranscriptionResult {
	return s.results
}

// Send forwards one audio frame unchanged.
func (s *Stream) Send(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(gws.BinaryMessage, chunk); err != nil {
		return errors.Wrap(err, "deepgram write")
	}
	return nil
}

func (s *Stream) writeText(msg string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(gws.TextMessage, []byte(msg))
}

func (s *Stream) keepAlive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeText(`{"type":"KeepAlive"}`); err != nil {
				s.logger.Warn("keepalive failed", "error", err)
				continue
			}
			s.keepalives++
			s.logger.Debug("keepalive sent", "count", s.keepalives)
		}
	}
}

// listenForResponses reads until the connection fails, decoding each frame.
// Frames that cannot be decoded are logged and skipped.
func (s *Stream) listenForResponses() {
	defer close(s.results)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if gws.IsUnexpectedCloseError(err, gws.CloseNormalClosure) {
					s.logger.Warn("relay read failed", "error", err)
				}
			}
			return
		}

		ev, err := Decode(message)
		if err != nil {
			s.logger.Warn("skipping deepgram message", "error", err)
			continue
		}

		switch ev.Kind {
		case KindTranscript:
			ev.Result.ReceivedAt = time.Now()
			select {
			case s.results <- ev.Result:
			case <-s.done:
				return
			}
		case KindSpeechStarted:
			s.logger.Debug("speech started", "timestamp", ev.Timestamp)
		case KindUtteranceEnd:
			s.logger.Debug("utterance end", "last_word_end", ev.Timestamp)
		case KindIgnored:
		default:
			s.logger.Debug("unhandled deepgram event", "type", ev.Type)
		}
	}
}

// Close asks Deepgram to flush and closes the connection. Safe to call more
// than once.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.conn.WriteMessage(gws.TextMessage, []byte(`{"type":"CloseStream"}`))
		s.conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, "Closing connection"))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
