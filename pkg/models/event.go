package models

import (
	"fmt"
	"strings"
)

// Event is one normalized telemetry record handed to Stage-1 triage by an
// upstream format parser. The core never parses CEF/LEEF/syslog itself.
type Event struct {
	SourceID        string      `json:"source_id"`
	EventID         string      `json:"event_id"`
	SourceTimestamp string      `json:"source_timestamp"`
	RawPayload      interface{} `json:"raw_payload,omitempty"`
	RawPayloadRef   string      `json:"raw_payload_ref,omitempty"`
	RawPayloadHash  string      `json:"raw_payload_hash,omitempty"`

	// Raw keeps the original map form for schema validation and rule
	// evaluation.
	Raw map[string]interface{} `json:"-"`
}

// EventFromMap builds a typed Event from the raw normalized map.
func EventFromMap(m map[string]interface{}) Event {
	e := Event{Raw: m}
	e.SourceID = stringField(m, "source_id")
	e.EventID = stringField(m, "event_id")
	e.SourceTimestamp = stringField(m, "source_timestamp")
	e.RawPayloadRef = stringField(m, "raw_payload_ref")
	e.RawPayloadHash = stringField(m, "raw_payload_hash")
	if v, ok := m["raw_payload"]; ok {
		e.RawPayload = v
	}
	return e
}

// PayloadForAnalysis returns the value entropy and classification operate on:
// the payload if present, otherwise the out-of-band reference.
func (e *Event) PayloadForAnalysis() interface{} {
	if e.RawPayload != nil {
		return e.RawPayload
	}
	if e.RawPayloadRef != "" {
		return e.RawPayloadRef
	}
	return nil
}

// Valid reports whether the event satisfies the required schema: non-empty
// identifiers and timestamp, and at least one payload form.
func (e *Event) Valid() bool {
	if strings.TrimSpace(e.SourceID) == "" ||
		strings.TrimSpace(e.EventID) == "" ||
		strings.TrimSpace(e.SourceTimestamp) == "" {
		return false
	}
	return e.RawPayload != nil || e.RawPayloadRef != ""
}

func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
