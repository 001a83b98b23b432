// Package sse encodes Progress Bus events as the "data: {...}" /
// ":keepalive" Server-Sent Events wire format.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shao3d/Experts-panel-sub000/pkg/progress"
)

// keepaliveCommentBytes is the minimum padding size for a ":keepalive"
// line, large enough to defeat a proxy's response-buffering heuristics.
const keepaliveCommentBytes = 2048

// wireEvent is the JSON object shape written as one SSE "data:" line.
type wireEvent struct {
	Phase    string      `json:"phase"`
	Status   string      `json:"status,omitempty"`
	ExpertID string      `json:"expert_id,omitempty"`
	Message  string      `json:"message,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

func phaseFor(ev progress.Event) string {
	if ev.Stage != "" {
		return ev.Stage
	}
	switch ev.Kind {
	case progress.EventRequestDone:
		return "complete"
	default:
		return ""
	}
}

func statusFor(ev progress.Event) string {
	switch ev.Kind {
	case progress.EventStageStarted, progress.EventExpertStarted:
		return "started"
	case progress.EventStageCompleted:
		return "completed"
	case progress.EventExpertAnswer, progress.EventRequestDone:
		return "completed"
	case progress.EventExpertError:
		return "failed"
	default:
		return "progress"
	}
}

// Encoder writes Progress Bus events to w as Server-Sent Events.
type Encoder struct {
	w          *bufio.Writer
	lastWrite  time.Time
}

// NewEncoder wraps w for SSE writes.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), lastWrite: time.Now()}
}

// WriteEvent writes one Progress Bus event as a "data:" line.
func (e *Encoder) WriteEvent(ev progress.Event) error {
	wire := wireEvent{
		Phase:    phaseFor(ev),
		Status:   statusFor(ev),
		ExpertID: ev.ExpertID,
		Payload:  ev.Payload,
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode sse event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	e.lastWrite = time.Now()
	return e.w.Flush()
}

// WriteKeepalive writes a padded ":keepalive" comment line, used when the
// gap since the last event exceeds the configured threshold.
func (e *Encoder) WriteKeepalive() error {
	padding := make([]byte, keepaliveCommentBytes)
	for i := range padding {
		padding[i] = ' '
	}
	if _, err := fmt.Fprintf(e.w, ":keepalive%s\n\n", padding); err != nil {
		return err
	}
	e.lastWrite = time.Now()
	return e.w.Flush()
}

// SinceLastWrite reports how long it has been since the last event or
// keepalive was written.
func (e *Encoder) SinceLastWrite() time.Duration {
	return time.Since(e.lastWrite)
}

// Stream drains ch onto the Encoder until it closes or done is closed,
// inserting a keepalive whenever the gap exceeds keepaliveInterval.
func Stream(ch <-chan progress.Event, enc *Encoder, keepaliveInterval time.Duration, done <-chan struct{}) error {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := enc.WriteEvent(ev); err != nil {
				return err
			}
		case <-ticker.C:
			if enc.SinceLastWrite() >= keepaliveInterval {
				if err := enc.WriteKeepalive(); err != nil {
					return err
				}
			}
		}
	}
}
