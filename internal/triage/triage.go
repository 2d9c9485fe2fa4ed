// Package triage implements Stage-1 classification: every incoming event is
// validated, hashed, checked against the ledger for idempotent replay and
// identity conflicts, then classified into an entropy band. Each decision is
// written to the evidence ledger before the per-event result is returned.
package triage

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"forensicgraph/internal/canonical"
	"forensicgraph/internal/entropy"
	"forensicgraph/internal/ledger"
	"forensicgraph/internal/logger"
	"forensicgraph/internal/markers"
	"forensicgraph/internal/metrics"
	"forensicgraph/pkg/models"
)

// Default thresholds. The ceiling is the thermodynamic cutoff above which a
// payload is indistinguishable from randomness.
const (
	DefaultEntropyCeiling = 5.2831
	DefaultEntropyFloor   = 2.0
)

// Profile carries the resolved classification thresholds for one run.
type Profile struct {
	EntropyCeiling float64 `json:"entropy_ceiling"`
	EntropyFloor   float64 `json:"entropy_floor"`
}

// DefaultProfile returns the canonical thresholds.
func DefaultProfile() Profile {
	return Profile{EntropyCeiling: DefaultEntropyCeiling, EntropyFloor: DefaultEntropyFloor}
}

// Triager classifies batches against one ledger and marker engine.
type Triager struct {
	profile Profile
	ledger  *ledger.Ledger
	markers markers.Engine
	now     func() time.Time
}

// New creates a triager. A nil marker engine disables escalation.
func New(profile Profile, led *ledger.Ledger, eng markers.Engine) *Triager {
	if profile.EntropyCeiling <= 0 {
		profile.EntropyCeiling = DefaultEntropyCeiling
	}
	if profile.EntropyFloor <= 0 {
		profile.EntropyFloor = DefaultEntropyFloor
	}
	if eng == nil {
		eng = markers.NewVocabulary(nil)
	}
	return &Triager{profile: profile, ledger: led, markers: eng, now: time.Now}
}

// ClassifyBatch runs Stage-1 over a batch in order. Schema failures and
// conflicts are terminal for the event only; the batch always completes.
func (t *Triager) ClassifyBatch(raw []map[string]interface{}) (*models.BatchResult, error) {
	start := t.now()
	batchID := uuid.NewString()

	result := &models.BatchResult{
		BatchID:  batchID,
		PerEvent: make([]models.EventResult, 0, len(raw)),
	}

	if _, err := t.ledger.Append(ledger.TypeBatchReceived, map[string]interface{}{
		"batch_id":       batchID,
		"received_count": len(raw),
		"profile_parameters": map[string]interface{}{
			"entropy_ceiling": t.profile.EntropyCeiling,
			"entropy_floor":   t.profile.EntropyFloor,
		},
	}); err != nil {
		return nil, fmt.Errorf("ledger batch open: %w", err)
	}

	events := make([]models.Event, len(raw))
	projections := make([]string, len(raw))
	for i, m := range raw {
		events[i] = models.EventFromMap(m)
		projections[i] = entropy.ProjectEvent(events[i].PayloadForAnalysis())
	}
	surprise := entropy.NewBatchSurprise(projections)

	for i := range events {
		res := t.classifyOne(&events[i], projections[i], surprise, &result.Counters)
		result.PerEvent = append(result.PerEvent, res)
		metrics.EventOutcomes.WithLabelValues(res.Status).Inc()
	}

	elapsed := t.now().Sub(start)
	result.Counters.ElapsedMS = elapsed.Milliseconds()
	result.ProcessedCount = result.Counters.ProcessedCount
	result.ReplayedCount = result.Counters.ReplayedCount
	result.ConflictCount = result.Counters.ConflictCount
	result.FailedCount = result.Counters.FailedCount
	metrics.TriageSeconds.Observe(elapsed.Seconds())

	if _, err := t.ledger.Append(ledger.TypeBatchCompleted, map[string]interface{}{
		"batch_id":        batchID,
		"processed_count": result.ProcessedCount,
		"replayed_count":  result.ReplayedCount,
		"conflict_count":  result.ConflictCount,
		"failed_count":    result.FailedCount,
		"counters":        countersMap(result.Counters),
		"elapsed_ms":      result.Counters.ElapsedMS,
	}); err != nil {
		return nil, fmt.Errorf("ledger batch close: %w", err)
	}

	logger.Infof("Stage-1 batch %s: processed=%d replayed=%d conflict=%d failed=%d in %dms",
		batchID, result.ProcessedCount, result.ReplayedCount, result.ConflictCount,
		result.FailedCount, result.Counters.ElapsedMS)

	return result, nil
}

func (t *Triager) classifyOne(event *models.Event, projection string, surprise *entropy.BatchSurprise, counters *models.BatchCounters) models.EventResult {
	if !validEvent(event.Raw) || !event.Valid() {
		counters.FailedCount++
		return models.EventResult{
			EventID:    event.EventID,
			Status:     models.StatusFailed,
			ErrorCode:  "INVALID_SCHEMA",
			HTTPStatus: models.CodeBadRequest,
		}
	}

	payloadHash := event.RawPayloadHash
	if payloadHash == "" {
		payloadHash = canonical.HashPayload(event.PayloadForAnalysis())
	}

	if prior, ok := t.ledger.LookupIdempotent(event.SourceID, event.EventID, payloadHash); ok {
		counters.ReplayedCount++
		replayEntry, err := t.ledger.Append(ledger.TypeIdempotentReplay, map[string]interface{}{
			"source_id":                event.SourceID,
			"event_id":                 event.EventID,
			"raw_payload_hash":         payloadHash,
			"original_ledger_entry_id": prior.LedgerEntryID,
		})
		if err != nil {
			logger.Errorf("Failed to record replay for %s/%s: %v", event.SourceID, event.EventID, err)
		}
		status := prior.HTTPStatus
		if status == 0 {
			status = models.CodeOK
		}
		res := models.EventResult{
			EventID:      event.EventID,
			Status:       models.StatusReplayed,
			Band:         prior.Band,
			DecisionCode: prior.DecisionCode,
			HTTPStatus:   status,
		}
		if replayEntry != nil {
			res.Ledger = &models.LedgerRefs{ReplayEntryID: replayEntry.EntryID}
		}
		return res
	}

	if priorHash, ok := t.ledger.LookupEventHash(event.SourceID, event.EventID); ok && priorHash != payloadHash {
		counters.ConflictCount++
		conflictEntry, err := t.ledger.Append(ledger.TypeEventIDConflict, map[string]interface{}{
			"source_id":            event.SourceID,
			"event_id":             event.EventID,
			"raw_payload_hash_old": priorHash,
			"raw_payload_hash_new": payloadHash,
		})
		if err != nil {
			logger.Errorf("Failed to record conflict for %s/%s: %v", event.SourceID, event.EventID, err)
		}
		res := models.EventResult{
			EventID:    event.EventID,
			Status:     models.StatusConflict,
			HTTPStatus: models.CodeConflict,
		}
		if conflictEntry != nil {
			res.Ledger = &models.LedgerRefs{ConflictEntryID: conflictEntry.EntryID}
		}
		return res
	}

	payload := event.PayloadForAnalysis()
	entropyProjected := surprise.Surprise(projection)
	payloadText := entropy.ExtractPayloadText(wrapScalar(payload))
	entropyRaw := entropy.MillerMadow([]byte(entropy.TemplateText(payloadText)))
	markerHits := t.markers.Match(payloadText, event.Raw)

	band := models.BandMimic
	decisionCode := models.DecisionMimic
	httpStatus := models.CodeOK
	reason := "Mimic Pattern: Requires triage"
	switch {
	case entropyRaw > t.profile.EntropyCeiling:
		band = models.BandVacuum
		decisionCode = models.DecisionVacuum
		httpStatus = models.CodeDrop
		reason = "Thermodynamic Limit Exceeded (High Randomness)"
	case entropyProjected < t.profile.EntropyFloor && len(markerHits) == 0:
		band = models.BandLowEntropy
		decisionCode = models.DecisionLow
		reason = "Deterministic Pattern / Background noise"
	}

	features := map[string]interface{}{
		"entropy_raw":       round4(entropyRaw),
		"entropy_projected": round4(entropyProjected),
		"entropy_ceiling":   t.profile.EntropyCeiling,
		"entropy_floor":     t.profile.EntropyFloor,
		"projection":        projection,
		"projection_count":  surprise.Count(projection),
		"reason":            reason,
	}
	featureHash := canonical.HashPayload(features)

	switch band {
	case models.BandVacuum:
		counters.VacuumCount++
		counters.DropCount++
	case models.BandLowEntropy:
		counters.LowEntropyCount++
		counters.SuppressCount++
	default:
		counters.MimicCount++
		counters.PassCount++
	}
	counters.ProcessedCount++
	metrics.BandDecisions.WithLabelValues(band).Inc()

	ingestTS := t.now().UTC().Format(time.RFC3339Nano)
	decisionPayload := map[string]interface{}{
		"source_id":                  event.SourceID,
		"event_id":                   event.EventID,
		"ingest_timestamp":           ingestTS,
		"raw_payload_hash":           payloadHash,
		"band":                       band,
		"decision_code":              decisionCode,
		"http_status":                httpStatus,
		"classification_features_id": featureHash,
		"entropy_raw":                round4(entropyRaw),
		"entropy_projected":          round4(entropyProjected),
		"projection_count":           surprise.Count(projection),
		"reason":                     reason,
	}
	if len(markerHits) > 0 {
		decisionPayload["marker_hits"] = markerHits
	}
	entry, err := t.ledger.Append(ledger.TypeBandDecision, decisionPayload)
	if err != nil {
		logger.Errorf("Failed to record decision for %s/%s: %v", event.SourceID, event.EventID, err)
		return models.EventResult{
			EventID:    event.EventID,
			Status:     models.StatusFailed,
			ErrorCode:  "LEDGER_WRITE_FAILED",
			HTTPStatus: models.CodeBadRequest,
		}
	}

	res := models.EventResult{
		EventID:          event.EventID,
		Status:           models.StatusProcessed,
		Band:             band,
		DecisionCode:     decisionCode,
		HTTPStatus:       httpStatus,
		EntropyRaw:       round4(entropyRaw),
		EntropyProjected: round4(entropyProjected),
		Projection:       projection,
		ProjectionCount:  surprise.Count(projection),
		Reason:           reason,
		Evidence: &models.EvidencePointers{
			SourceID:        event.SourceID,
			EventID:         event.EventID,
			IngestTimestamp: ingestTS,
			RawPayloadHash:  payloadHash,
			DecisionCode:    decisionCode,
			FeaturesID:      featureHash,
			LedgerEntryID:   entry.EntryID,
			PrevHash:        entry.PrevHash,
			EntryHash:       entry.EntryHash,
		},
	}
	if band == models.BandLowEntropy {
		res.Envelope = &models.Envelope{
			MustStoreMinimalEnvelope:      true,
			MustNotIncludeFreeTextSummary: true,
		}
	}
	return res
}

func wrapScalar(payload interface{}) interface{} {
	if _, ok := payload.(map[string]interface{}); ok {
		return payload
	}
	return map[string]interface{}{"payload": payload}
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

func countersMap(c models.BatchCounters) map[string]interface{} {
	return map[string]interface{}{
		"vacuum_count":       c.VacuumCount,
		"low_entropy_count":  c.LowEntropyCount,
		"mimic_scoped_count": c.MimicCount,
		"drop_count":         c.DropCount,
		"suppress_count":     c.SuppressCount,
		"pass_count":         c.PassCount,
		"processed_count":    c.ProcessedCount,
		"replayed_count":     c.ReplayedCount,
		"conflict_count":     c.ConflictCount,
		"failed_count":       c.FailedCount,
	}
}
