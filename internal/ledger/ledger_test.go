package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestAppendChainsEntries(t *testing.T) {
	l, _ := openTemp(t)

	first, err := l.Append(TypeBatchReceived, map[string]interface{}{"batch_id": "b1"})
	require.NoError(t, err)
	require.Empty(t, first.PrevHash)
	require.NotEmpty(t, first.EntryHash)

	second, err := l.Append(TypeBandDecision, map[string]interface{}{
		"source_id": "s1", "event_id": "e1", "raw_payload_hash": "sha256:abc",
		"band": "MIMIC_SCOPED", "decision_code": "MIMIC_SCOPED_PASS", "http_status": 200,
	})
	require.NoError(t, err)
	require.Equal(t, first.EntryHash, second.PrevHash)

	require.Empty(t, l.VerifyChain())
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	l, path := openTemp(t)
	for i := 0; i < 3; i++ {
		_, err := l.Append(TypeBandDecision, map[string]interface{}{
			"source_id": "s", "event_id": "e", "raw_payload_hash": "sha256:x", "n": i,
		})
		require.NoError(t, err)
	}
	require.Empty(t, l.VerifyChain())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"n":1`, `"n":9`, 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	errs := VerifyFile(path)
	require.NotEmpty(t, errs)
	require.Equal(t, 1, errs[0].Index)
}

func TestIndexesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Append(TypeBandDecision, map[string]interface{}{
		"source_id": "sensor-1", "event_id": "evt-1", "raw_payload_hash": "sha256:aaa",
		"band": "LOW_ENTROPY", "decision_code": "LOW_ENTROPY_SUPPRESS", "http_status": 200,
	})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	d, ok := reopened.LookupIdempotent("sensor-1", "evt-1", "sha256:aaa")
	require.True(t, ok)
	require.Equal(t, "LOW_ENTROPY", d.Band)
	require.Equal(t, 200, d.HTTPStatus)

	h, ok := reopened.LookupEventHash("sensor-1", "evt-1")
	require.True(t, ok)
	require.Equal(t, "sha256:aaa", h)

	// The chain continues from the replayed tail, not from genesis.
	next, err := reopened.Append(TypeBatchCompleted, map[string]interface{}{"batch_id": "b"})
	require.NoError(t, err)
	require.NotEmpty(t, next.PrevHash)
	require.Empty(t, reopened.VerifyChain())
}

func TestOnlyBandDecisionsAreIndexed(t *testing.T) {
	l, _ := openTemp(t)
	_, err := l.Append(TypeIdempotentReplay, map[string]interface{}{
		"source_id": "s1", "event_id": "e1", "raw_payload_hash": "sha256:zzz",
	})
	require.NoError(t, err)
	_, ok := l.LookupIdempotent("s1", "e1", "sha256:zzz")
	require.False(t, ok)
}

func TestEntriesAreSingleJSONLines(t *testing.T) {
	l, path := openTemp(t)
	_, err := l.Append(TypeBatchReceived, map[string]interface{}{"batch_id": "b1", "note": "日本語"})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, TypeBatchReceived, entry.Type)
	require.Contains(t, lines[0], "日本語")
}
