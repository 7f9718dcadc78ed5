package workers

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/mrsingh-rishi/voice-relay/metrics"
	"github.com/mrsingh-rishi/voice-relay/types"
)

// Sender delivers a JSON message to the recording client.
type Sender interface {
	Send(v any) error
}

// Publisher fans transcript events out to a recording's viewers.
type Publisher interface {
	Publish(recordingID string, ev types.TranscriptEvent)
}

// TranscriptionWorker forwards relay results to the client and, once the
// session has a recording id, to the live hub. Results are handled one at a
// time so both see them in arrival order.
type TranscriptionWorker struct {
	ctx         context.Context
	cancel      context.CancelFunc
	results     <-chan types.TranscriptionResult
	client      Sender
	hub         Publisher
	recordingID func() string
	metrics     *metrics.Session
	logger      *log.Logger
	done        chan struct{}
}

func NewTranscriptionWorker(results <-chan types.TranscriptionResult, client Sender, hub Publisher, recordingID func() string, m *metrics.Session, logger *log.Logger) (*TranscriptionWorker, error) {
	if results == nil {
		return nil, fmt.Errorf("results channel is required")
	}
	if client == nil {
		return nil, fmt.Errorf("client output is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if recordingID == nil {
		recordingID = func() string { return "" }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TranscriptionWorker{
		ctx:         ctx,
		cancel:      cancel,
		results:     results,
		client:      client,
		hub:         hub,
		recordingID: recordingID,
		metrics:     m,
		logger:      logger,
		done:        make(chan struct{}),
	}, nil
}

func (tw *TranscriptionWorker) Start() {
	go func() {
		defer close(tw.done)
		for {
			select {
			case <-tw.ctx.Done():
				return
			case result, ok := <-tw.results:
				if !ok {
					return
				}
				tw.handle(result)
			}
		}
	}()
}

func (tw *TranscriptionWorker) handle(result types.TranscriptionResult) {
	if tw.metrics != nil {
		latency := tw.metrics.TranscriptReceived(result.Final, result.ReceivedAt)
		tw.logger.Debug("transcript", "final", result.Final, "confidence", result.Confidence, "latency", latency, "text", result.Transcription)
	}

	err := tw.client.Send(types.TranscriptMessage{
		Transcript: result.Transcription,
		IsFinal:    result.Final,
		Confidence: result.Confidence,
	})
	if err != nil {
		tw.logger.Debug("transcript echo dropped", "error", err)
	}

	if id := tw.recordingID(); id != "" {
		tw.hub.Publish(id, result.Event())
	}
}

// Wait blocks until the results channel is drained and closed.
func (tw *TranscriptionWorker) Wait() {
	<-tw.done
}

// Done is closed when the worker has exited.
func (tw *TranscriptionWorker) Done() <-chan struct{} {
	return tw.done
}

func (tw *TranscriptionWorker) Stop() {
	tw.cancel()
	<-tw.done
}
