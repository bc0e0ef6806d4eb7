// Package event defines the immutable pipeline event record.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of pipeline event.
type Type string

const (
	TypeStatus       Type = "status"
	TypeTrace        Type = "trace"
	TypeIncident     Type = "incident"
	TypeProposal     Type = "proposal"
	TypeGitHub       Type = "github"
	TypeFinal        Type = "final"
	TypeAgentOutputs Type = "agent_outputs"
)

// Well-known stage tags for events emitted by the runner itself.
const (
	StageClone  = "clone"
	StageFinal  = "final"
	StageReplay = "replay"
)

// Event is a single immutable record in a deployment's event stream.
// Payload keys are flattened into the top level of the JSON object so
// consumers see `{"type":"status","stage":"clone","workdir":"..."}` rather
// than a nested payload envelope.
type Event struct {
	Type    Type
	Stage   string
	Subtype string
	Message string
	TS      int64
	Fields  map[string]any
}

// New creates an event stamped with the current unix second.
func New(t Type, stage, message string) Event {
	return Event{Type: t, Stage: stage, Message: message, TS: time.Now().Unix()}
}

// With returns a copy of the event carrying an extra payload field.
// The receiver is not modified.
func (e Event) With(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Field returns a payload field by key.
func (e Event) Field(key string) (any, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

// reserved are the envelope keys that never round-trip through Fields.
var reserved = map[string]struct{}{
	"type": {}, "stage": {}, "subtype": {}, "message": {}, "ts": {},
}

// MarshalJSON flattens Fields into the top-level object. A payload field
// named like an envelope key is dropped rather than allowed to shadow it.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+5)
	for k, v := range e.Fields {
		if _, taken := reserved[k]; taken {
			continue
		}
		m[k] = v
	}
	m["type"] = string(e.Type)
	if e.Stage != "" {
		m["stage"] = e.Stage
	}
	if e.Subtype != "" {
		m["subtype"] = e.Subtype
	}
	if e.Message != "" {
		m["message"] = e.Message
	}
	m["ts"] = e.TS
	return json.Marshal(m)
}

// UnmarshalJSON reverses MarshalJSON: envelope keys populate the struct
// fields, everything else lands in Fields.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if v, ok := m["type"].(string); ok {
		e.Type = Type(v)
	}
	if v, ok := m["stage"].(string); ok {
		e.Stage = v
	}
	if v, ok := m["subtype"].(string); ok {
		e.Subtype = v
	}
	if v, ok := m["message"].(string); ok {
		e.Message = v
	}
	if v, ok := m["ts"].(float64); ok {
		e.TS = int64(v)
	}
	for k := range reserved {
		delete(m, k)
	}
	if len(m) > 0 {
		e.Fields = m
	} else {
		e.Fields = nil
	}
	return nil
}
