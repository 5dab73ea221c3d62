package trace

import (
	"encoding/json"
	"fmt"
)

// MessageType enumerates the NDJSON envelope kinds exchanged between a
// reporter client and the collector server, per spec.md §6.
type MessageType string

const (
	MessageTrace    MessageType = "trace"
	MessageBatch    MessageType = "batch"
	MessageFlush    MessageType = "flush"
	MessageShutdown MessageType = "shutdown"
)

// Envelope is the outer NDJSON frame. Exactly one of Data/Records is
// populated depending on Type; WorkerID is set on "batch" and "flush".
type Envelope struct {
	Type     MessageType `json:"type"`
	WorkerID string      `json:"workerId,omitempty"`
	Data     *Record     `json:"data,omitempty"`
	Records  []Record    `json:"-"`
}

// rawEnvelope mirrors the wire shape exactly, since "data" is either a
// single record (type=trace) or an array of records (type=batch).
type rawEnvelope struct {
	Type     MessageType     `json:"type"`
	WorkerID string          `json:"workerId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON renders the envelope in the wire shape §6 defines: "data"
// is a single object for a trace message, an array for a batch.
func (e Envelope) MarshalJSON() ([]byte, error) {
	raw := rawEnvelope{Type: e.Type, WorkerID: e.WorkerID}
	var err error
	switch e.Type {
	case MessageTrace:
		raw.Data, err = json.Marshal(e.Data)
	case MessageBatch:
		raw.Data, err = json.Marshal(e.Records)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

// UnmarshalJSON parses a single NDJSON line into an Envelope, dispatching
// on "type" the way spec.md §4.F step 3 describes.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw rawEnvelope
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.Type = raw.Type
	e.WorkerID = raw.WorkerID
	e.Data = nil
	e.Records = nil
	switch raw.Type {
	case MessageTrace:
		var rec Record
		if len(raw.Data) > 0 {
			if err := json.Unmarshal(raw.Data, &rec); err != nil {
				return fmt.Errorf("trace message: %w", err)
			}
		}
		e.Data = &rec
	case MessageBatch:
		if len(raw.Data) > 0 {
			if err := json.Unmarshal(raw.Data, &e.Records); err != nil {
				return fmt.Errorf("batch message: %w", err)
			}
		}
	case MessageFlush, MessageShutdown:
		// no payload
	default:
		return fmt.Errorf("unknown message type %q", raw.Type)
	}
	return nil
}
