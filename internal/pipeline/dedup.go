package pipeline

import (
	"forensicgraph/internal/canonical"
	"forensicgraph/pkg/models"
)

// Fields excluded from the content hash: identifiers and timestamps vary
// between duplicate deliveries of the same underlying event.
var volatileFields = []string{
	"timestamp",
	"@timestamp",
	"event_timestamp",
	"source_timestamp",
	"time",
	"datetime",
	"id",
	"event_id",
	"_id",
	"uuid",
}

// ContentHash returns a stable hash of an event map with volatile
// identifier and timestamp fields removed.
func ContentHash(event map[string]interface{}) string {
	filtered := make(map[string]interface{}, len(event))
	for k, v := range event {
		filtered[k] = v
	}
	for _, f := range volatileFields {
		delete(filtered, f)
	}
	return canonical.HashPayload(filtered)
}

// Deduplicate drops events whose content hash was already seen, keeping the
// first occurrence in batch order. Returns the survivors and the number
// removed.
func Deduplicate(events []models.Event) ([]models.Event, int) {
	if len(events) == 0 {
		return nil, 0
	}
	seen := make(map[string]struct{}, len(events))
	out := make([]models.Event, 0, len(events))
	removed := 0
	for _, e := range events {
		h := ContentHash(e.Raw)
		if _, dup := seen[h]; dup {
			removed++
			continue
		}
		seen[h] = struct{}{}
		out = append(out, e)
	}
	return out, removed
}
