// Package ledger implements the append-only, hash-chained evidence ledger.
//
// The ledger is the system of record for every admission decision: one JSON
// object per line, each entry carrying the hash of the previous entry and a
// hash of itself. Two in-memory indexes are rebuilt by replaying the file on
// open: (source, event, payload hash) -> prior decision for idempotent
// replay, and (source, event) -> payload hash for conflict detection.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"forensicgraph/internal/canonical"
	"forensicgraph/internal/metrics"
)

// Entry types written by the core. Consumers must tolerate unknown types.
const (
	TypeBatchReceived    = "BATCH_RECEIVED"
	TypeBandDecision     = "BAND_DECISION"
	TypeIdempotentReplay = "IDEMPOTENT_REPLAY"
	TypeEventIDConflict  = "EVENT_ID_CONFLICT"
	TypeBatchCompleted   = "BATCH_COMPLETED"
	TypeARVGate          = "ARV_GATE"
)

var (
	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("ledger: closed")
)

// Entry is one immutable ledger record.
type Entry struct {
	EntryID   string                 `json:"entry_id"`
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	PrevHash  string                 `json:"prev_hash"`
	EntryHash string                 `json:"entry_hash"`
}

// Decision is the indexed outcome of a prior BAND_DECISION entry.
type Decision struct {
	Band          string
	DecisionCode  string
	HTTPStatus    int
	LedgerEntryID string
}

// ChainError reports one integrity failure found by VerifyChain.
type ChainError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (e ChainError) Error() string {
	return fmt.Sprintf("ledger entry %d: %s", e.Index, e.Reason)
}

type idemKey struct {
	sourceID string
	eventID  string
	hash     string
}

type eventKey struct {
	sourceID string
	eventID  string
}

// Ledger owns the chain file and its indexes. All appends serialize through
// one mutex; concurrent runs against the same file require external mutual
// exclusion (one ledger per run directory in deployment).
type Ledger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	lastHash string
	closed   bool

	idempotency map[idemKey]Decision
	eventHashes map[eventKey]string
}

// Open replays the ledger file at path (creating it if absent) to rebuild
// the indexes and the chain tail, then opens an append handle.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	l := &Ledger{
		path:        path,
		idempotency: make(map[idemKey]Decision),
		eventHashes: make(map[eventKey]string),
	}

	if err := l.replay(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	l.file = f
	return l, nil
}

func (l *Ledger) replay() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open ledger for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return fmt.Errorf("replay ledger line: %w", err)
		}
		if entry.EntryHash != "" {
			l.lastHash = entry.EntryHash
		}
		l.indexEntry(&entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan ledger: %w", err)
	}
	return nil
}

func (l *Ledger) indexEntry(entry *Entry) {
	if entry.Type != TypeBandDecision {
		return
	}
	sourceID, _ := entry.Payload["source_id"].(string)
	eventID, _ := entry.Payload["event_id"].(string)
	payloadHash, _ := entry.Payload["raw_payload_hash"].(string)
	if sourceID == "" || eventID == "" || payloadHash == "" {
		return
	}
	band, _ := entry.Payload["band"].(string)
	code, _ := entry.Payload["decision_code"].(string)
	status := 0
	switch v := entry.Payload["http_status"].(type) {
	case float64:
		status = int(v)
	case int:
		status = v
	}
	l.idempotency[idemKey{sourceID, eventID, payloadHash}] = Decision{
		Band:          band,
		DecisionCode:  code,
		HTTPStatus:    status,
		LedgerEntryID: entry.EntryID,
	}
	l.eventHashes[eventKey{sourceID, eventID}] = payloadHash
}

// entryHash computes the hash of an entry with its own entry_hash excluded.
func entryHash(entry *Entry) (string, error) {
	stripped := map[string]interface{}{
		"entry_id":  entry.EntryID,
		"timestamp": entry.Timestamp,
		"type":      entry.Type,
		"payload":   entry.Payload,
		"prev_hash": entry.PrevHash,
	}
	data, err := canonical.MarshalJSON(stripped)
	if err != nil {
		return "", err
	}
	return canonical.SHA256Hex(data), nil
}

// Append writes one entry and returns it. This is the only write path; the
// write is durable (synced) before Append returns.
func (l *Ledger) Append(entryType string, payload map[string]interface{}) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	entry := &Entry{
		EntryID:   uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Type:      entryType,
		Payload:   payload,
		PrevHash:  l.lastHash,
	}
	hash, err := entryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("hash ledger entry: %w", err)
	}
	entry.EntryHash = hash

	line, err := canonical.MarshalJSON(entry)
	if err != nil {
		return nil, fmt.Errorf("encode ledger entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write ledger entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return nil, fmt.Errorf("sync ledger: %w", err)
	}

	l.lastHash = entry.EntryHash
	l.indexEntry(entry)
	metrics.LedgerAppends.WithLabelValues(entryType).Inc()
	return entry, nil
}

// LookupIdempotent returns the prior decision for an exact
// (source, event, payload hash) triple, if one was recorded.
func (l *Ledger) LookupIdempotent(sourceID, eventID, payloadHash string) (Decision, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.idempotency[idemKey{sourceID, eventID, payloadHash}]
	return d, ok
}

// LookupEventHash returns the payload hash previously recorded for
// (source, event), used to detect a different payload under a known identity.
func (l *Ledger) LookupEventHash(sourceID, eventID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.eventHashes[eventKey{sourceID, eventID}]
	return h, ok
}

// SeedIdempotent pre-populates the idempotency index with a decision made
// outside this ledger file, e.g. when an upstream store already ingested the
// event. Used by callers that thread a precondition into a batch.
func (l *Ledger) SeedIdempotent(sourceID, eventID, payloadHash string, decision Decision) {
	if sourceID == "" || eventID == "" || payloadHash == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.idempotency[idemKey{sourceID, eventID, payloadHash}] = decision
	l.eventHashes[eventKey{sourceID, eventID}] = payloadHash
}

// Path returns the backing file path.
func (l *Ledger) Path() string { return l.path }

// Close releases the append handle. The file remains valid for verification.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// VerifyChain re-reads the backing file and recomputes every hash. An empty
// result means the file is internally consistent. Any prev_hash mismatch or
// recomputed-hash mismatch is reported with its entry index.
func (l *Ledger) VerifyChain() []ChainError {
	return VerifyFile(l.path)
}

// VerifyFile verifies an arbitrary ledger file without opening it for writes.
func VerifyFile(path string) []ChainError {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return []ChainError{{Index: -1, Reason: fmt.Sprintf("open: %v", err)}}
	}
	defer f.Close()

	var errs []ChainError
	prevHash := ""
	idx := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			errs = append(errs, ChainError{Index: idx, Reason: fmt.Sprintf("unparseable entry: %v", err)})
			idx++
			continue
		}
		if entry.PrevHash != prevHash {
			errs = append(errs, ChainError{Index: idx, Reason: "prev_hash does not match preceding entry_hash"})
		}
		recomputed, err := entryHash(&entry)
		if err != nil {
			errs = append(errs, ChainError{Index: idx, Reason: fmt.Sprintf("rehash failed: %v", err)})
		} else if recomputed != entry.EntryHash {
			errs = append(errs, ChainError{Index: idx, Reason: "entry_hash does not match recomputed hash"})
		}
		prevHash = entry.EntryHash
		idx++
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, ChainError{Index: idx, Reason: fmt.Sprintf("scan: %v", err)})
	}
	return errs
}
