// Package transform normalizes foreign event shapes into the ingest
// envelope the triage stage expects: source_id, event_id, source_timestamp,
// and the raw_payload object.
package transform

import (
	"fmt"
	"strings"

	"forensicgraph/internal/logger"
)

// Normalize converts one queue message into the ingest envelope. Messages
// already in envelope form pass through unchanged; winlogbeat-style shipper
// output is mapped field by field. Returns false when no event identity can
// be derived.
func Normalize(raw map[string]interface{}) (map[string]interface{}, bool) {
	if raw == nil {
		return nil, false
	}
	if isEnvelope(raw) {
		return raw, true
	}

	sourceID := getString(raw, "agent.id", "agent_id", "source_id", "observer.name")
	eventID := getString(raw, "winlog.record_id", "event.id", "record_id")
	timestamp := getString(raw, "@timestamp", "timestamp", "event.created")

	if sourceID == "" || eventID == "" || timestamp == "" {
		logger.Warnf("Dropping event without identity (source=%q event=%q)", sourceID, eventID)
		return nil, false
	}

	payload := map[string]interface{}{}
	if v, ok := getPath(raw, "winlog.event_data"); ok {
		if m, ok := v.(map[string]interface{}); ok {
			for k, val := range m {
				payload[snakeCase(k)] = val
			}
		}
	}
	if host := getString(raw, "host.name", "host.hostname", "hostname"); host != "" {
		payload["hostname"] = host
	}
	if code := getString(raw, "winlog.event_id", "event.code"); code != "" {
		payload["event_code"] = code
	}
	if channel := getString(raw, "winlog.channel"); channel != "" {
		payload["channel"] = channel
	}
	if len(payload) == 0 {
		logger.Warnf("Missing winlog.event_data (event_id=%s)", eventID)
	}

	return map[string]interface{}{
		"source_id":        sourceID,
		"event_id":         eventID,
		"source_timestamp": timestamp,
		"raw_payload":      payload,
	}, true
}

// NormalizeBatch maps a popped batch, dropping events with no identity.
func NormalizeBatch(raw []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(raw))
	for _, m := range raw {
		if event, ok := Normalize(m); ok {
			out = append(out, event)
		}
	}
	return out
}

func isEnvelope(raw map[string]interface{}) bool {
	if _, ok := raw["source_id"]; !ok {
		return false
	}
	if _, ok := raw["event_id"]; !ok {
		return false
	}
	_, hasPayload := raw["raw_payload"]
	_, hasRef := raw["raw_payload_ref"]
	return hasPayload || hasRef
}

// snakeCase converts winlog CamelCase field names (CommandLine, ParentImage)
// into the payload key convention.
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				prev := name[i-1]
				if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case fmt.Stringer:
				return val.String()
			case int:
				return fmt.Sprintf("%d", val)
			case int64:
				return fmt.Sprintf("%d", val)
			case float64:
				if val == float64(int64(val)) {
					return fmt.Sprintf("%d", int64(val))
				}
				return fmt.Sprintf("%f", val)
			}
		}
	}
	return ""
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
