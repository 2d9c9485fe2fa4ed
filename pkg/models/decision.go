package models

// Triage bands.
const (
	BandVacuum     = "VACUUM"
	BandLowEntropy = "LOW_ENTROPY"
	BandMimic      = "MIMIC_SCOPED"
)

// Per-event statuses.
const (
	StatusProcessed = "PROCESSED"
	StatusReplayed  = "REPLAYED"
	StatusConflict  = "CONFLICT"
	StatusFailed    = "FAILED"
)

// Decision codes per band.
const (
	DecisionVacuum = "VACUUM_DROP"
	DecisionLow    = "LOW_ENTROPY_SUPPRESS"
	DecisionMimic  = "MIMIC_SCOPED_PASS"
)

// HTTP-style outcome codes attached to decisions.
const (
	CodeOK         = 200
	CodeBadRequest = 400
	CodeConflict   = 409
	CodeDrop       = 418
)

// EvidencePointers link a decision back to its ledger entry.
type EvidencePointers struct {
	SourceID        string `json:"source_id"`
	EventID         string `json:"event_id"`
	IngestTimestamp string `json:"ingest_timestamp"`
	RawPayloadHash  string `json:"raw_payload_hash"`
	DecisionCode    string `json:"decision_code"`
	FeaturesID      string `json:"classification_features_id"`
	LedgerEntryID   string `json:"ledger_entry_id"`
	PrevHash        string `json:"prev_hash"`
	EntryHash       string `json:"entry_hash"`
}

// Envelope carries storage constraints for background-band events. Low
// entropy events store a minimal envelope only, never a free-text summary.
type Envelope struct {
	MustStoreMinimalEnvelope      bool `json:"must_store_minimal_envelope"`
	MustNotIncludeFreeTextSummary bool `json:"must_not_include_free_text_summary"`
}

// LedgerRefs are the ledger entry ids attached to non-decision outcomes.
type LedgerRefs struct {
	ReplayEntryID   string `json:"replay_entry_id,omitempty"`
	ConflictEntryID string `json:"conflict_entry_id,omitempty"`
}

// EventResult is the per-event outcome of Stage-1 triage.
type EventResult struct {
	EventID          string            `json:"event_id"`
	Status           string            `json:"status"`
	Band             string            `json:"band,omitempty"`
	DecisionCode     string            `json:"decision_code,omitempty"`
	HTTPStatus       int               `json:"http_status"`
	ErrorCode        string            `json:"error_code,omitempty"`
	EntropyRaw       float64           `json:"entropy_raw,omitempty"`
	EntropyProjected float64           `json:"entropy_projected,omitempty"`
	Projection       string            `json:"projection,omitempty"`
	ProjectionCount  int               `json:"projection_count,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Evidence         *EvidencePointers `json:"evidence_pointers,omitempty"`
	Envelope         *Envelope         `json:"envelope,omitempty"`
	Ledger           *LedgerRefs       `json:"ledger,omitempty"`
}

// BatchCounters summarize one triage batch.
type BatchCounters struct {
	VacuumCount     int   `json:"vacuum_count"`
	LowEntropyCount int   `json:"low_entropy_count"`
	MimicCount      int   `json:"mimic_scoped_count"`
	DropCount       int   `json:"drop_count"`
	SuppressCount   int   `json:"suppress_count"`
	PassCount       int   `json:"pass_count"`
	ProcessedCount  int   `json:"processed_count"`
	ReplayedCount   int   `json:"replayed_count"`
	ConflictCount   int   `json:"conflict_count"`
	FailedCount     int   `json:"failed_count"`
	ElapsedMS       int64 `json:"stage1_ms"`
}

// BatchResult is the full Stage-1 output for one batch.
type BatchResult struct {
	BatchID        string        `json:"batch_id"`
	ProcessedCount int           `json:"processed_count"`
	ReplayedCount  int           `json:"replayed_count"`
	ConflictCount  int           `json:"conflict_count"`
	FailedCount    int           `json:"failed_count"`
	PerEvent       []EventResult `json:"per_event"`
	Counters       BatchCounters `json:"batch"`
}

// Admitted returns the events that passed triage as candidate signal, in
// batch order.
func (r *BatchResult) Admitted(events []Event) []Event {
	byID := make(map[string]string, len(r.PerEvent))
	for _, res := range r.PerEvent {
		if res.Status == StatusProcessed && res.Band == BandMimic {
			byID[res.EventID] = res.Band
		}
	}
	out := make([]Event, 0, len(byID))
	for _, e := range events {
		if _, ok := byID[e.EventID]; ok {
			out = append(out, e)
		}
	}
	return out
}
