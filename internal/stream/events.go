// Package stream consumes the incremental validation response of a streaming contract.
package stream

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// EventType tags the payload of a stream line.
type EventType string

const (
	EventStart    EventType = "start"
	EventResult   EventType = "result"
	EventComplete EventType = "complete"
)

// DataPrefix marks a line that carries an event.
const DataPrefix = "data: "

// ErrNotData is returned by DecodeEvent for blank lines, comments and other non-data lines.
var ErrNotData = eris.New("not a data line")

// StartEvent corrects the client-side totals estimate.
type StartEvent struct {
	Total             int `json:"total"`
	OriginalCount     int `json:"original_count"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

// ServerProgress is the backend's view of progress. It is authoritative for counts.
type ServerProgress struct {
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ResultEvent carries one validation verdict.
type ResultEvent struct {
	Result   batch.Result   `json:"result"`
	Progress ServerProgress `json:"progress"`
}

// CompleteEvent carries the authoritative totals.
type CompleteEvent struct {
	ValidCount        int               `json:"valid_count"`
	InvalidCount      int               `json:"invalid_count"`
	Total             int               `json:"total"`
	DuplicatesRemoved int               `json:"duplicates_removed"`
	DomainStats       batch.DomainStats `json:"domain_stats,omitempty"`
	ProcessingTime    *float64          `json:"processing_time,omitempty"`
	QuotaUsage        *batch.Quota      `json:"quota_usage,omitempty"`
}

// Completion converts the event into the reconciler's input.
func (e CompleteEvent) Completion() batch.Completion {
	return batch.Completion{
		ValidCount:        e.ValidCount,
		InvalidCount:      e.InvalidCount,
		Total:             e.Total,
		DuplicatesRemoved: e.DuplicatesRemoved,
		DomainStats:       e.DomainStats,
		ProcessingTime:    e.ProcessingTime,
		QuotaUsage:        e.QuotaUsage,
	}
}

// Event is a decoded stream line. Exactly one payload pointer matches Type.
type Event struct {
	Type     EventType
	Start    *StartEvent
	Result   *ResultEvent
	Complete *CompleteEvent
}

// envelope lists every field any event may carry; presence is checked per type.
type envelope struct {
	Type EventType `json:"type"`

	Total             *int `json:"total"`
	OriginalCount     *int `json:"original_count"`
	DuplicatesRemoved *int `json:"duplicates_removed"`

	Result   *batch.Result   `json:"result"`
	Progress *ServerProgress `json:"progress"`

	ValidCount     *int              `json:"valid_count"`
	InvalidCount   *int              `json:"invalid_count"`
	DomainStats    batch.DomainStats `json:"domain_stats"`
	ProcessingTime *float64          `json:"processing_time"`
	QuotaUsage     *batch.Quota      `json:"quota_usage"`
}

// DecodeEvent parses one line of the stream.
//
// Lines without the data prefix return ErrNotData. Malformed JSON, unknown types and events
// missing required fields return a *batch.DecodeError.
func DecodeEvent(line []byte) (Event, error) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return Event{}, ErrNotData
	}
	payload := bytes.TrimSpace(line[len(DataPrefix):])

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, &batch.DecodeError{Line: string(line), Err: err}
	}
	ev, err := env.event()
	if err != nil {
		return Event{}, &batch.DecodeError{Line: string(line), Err: err}
	}
	return ev, nil
}

func (env envelope) event() (Event, error) {
	switch env.Type {
	case EventStart:
		if env.Total == nil {
			return Event{}, missing(env.Type, "total")
		}
		return Event{Type: EventStart, Start: &StartEvent{
			Total:             *env.Total,
			OriginalCount:     deref(env.OriginalCount, *env.Total),
			DuplicatesRemoved: deref(env.DuplicatesRemoved, 0),
		}}, nil

	case EventResult:
		if env.Result == nil {
			return Event{}, missing(env.Type, "result")
		}
		if env.Result.Email == "" {
			return Event{}, missing(env.Type, "result.email")
		}
		if env.Progress == nil {
			return Event{}, missing(env.Type, "progress")
		}
		return Event{Type: EventResult, Result: &ResultEvent{
			Result:   *env.Result,
			Progress: *env.Progress,
		}}, nil

	case EventComplete:
		switch {
		case env.ValidCount == nil:
			return Event{}, missing(env.Type, "valid_count")
		case env.InvalidCount == nil:
			return Event{}, missing(env.Type, "invalid_count")
		case env.Total == nil:
			return Event{}, missing(env.Type, "total")
		}
		return Event{Type: EventComplete, Complete: &CompleteEvent{
			ValidCount:        *env.ValidCount,
			InvalidCount:      *env.InvalidCount,
			Total:             *env.Total,
			DuplicatesRemoved: deref(env.DuplicatesRemoved, 0),
			DomainStats:       env.DomainStats,
			ProcessingTime:    env.ProcessingTime,
			QuotaUsage:        env.QuotaUsage,
		}}, nil

	case "":
		return Event{}, eris.New("event type missing")
	default:
		return Event{}, eris.Errorf("unknown event type %q", env.Type)
	}
}

func missing(t EventType, field string) error {
	return eris.Errorf("%s event missing %s", t, field)
}

func deref(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

// Encode renders an event as a data line followed by the blank separator line.
func Encode(ev Event) ([]byte, error) {
	var payload any
	switch ev.Type {
	case EventStart:
		if ev.Start == nil {
			return nil, missing(ev.Type, "payload")
		}
		payload = struct {
			Type EventType `json:"type"`
			StartEvent
		}{ev.Type, *ev.Start}
	case EventResult:
		if ev.Result == nil {
			return nil, missing(ev.Type, "payload")
		}
		payload = struct {
			Type EventType `json:"type"`
			ResultEvent
		}{ev.Type, *ev.Result}
	case EventComplete:
		if ev.Complete == nil {
			return nil, missing(ev.Type, "payload")
		}
		payload = struct {
			Type EventType `json:"type"`
			CompleteEvent
		}{ev.Type, *ev.Complete}
	default:
		return nil, eris.Errorf("unknown event type %q", ev.Type)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrapf(err, "encode %s event", ev.Type)
	}
	out := make([]byte, 0, len(DataPrefix)+len(b)+2)
	out = append(out, DataPrefix...)
	out = append(out, b...)
	out = append(out, '\n', '\n')
	return out, nil
}
