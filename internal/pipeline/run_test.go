package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"forensicgraph/internal/arv"
	"forensicgraph/internal/evidence"
	"forensicgraph/internal/ledger"
	"forensicgraph/internal/triage"
)

func rawEvent(id, ts string, payload map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"source_id":        "sensor-1",
		"event_id":         id,
		"source_timestamp": ts,
		"raw_payload":      payload,
	}
}

// mixedBatch has two linked credential-dump alerts (one delivered twice), an
// unrelated script alert, and six copies of background noise.
func mixedBatch() []map[string]interface{} {
	dump := map[string]interface{}{
		"hostname":       "WS5",
		"command_line":   "mimikatz sekurlsa::logonpasswords",
		"destination_ip": "203.0.113.7",
	}
	batch := []map[string]interface{}{
		rawEvent("evt-a", "2025-06-01T10:00:00Z", dump),
		rawEvent("evt-a2", "2025-06-01T10:00:05Z", dump),
		rawEvent("evt-b", "2025-06-01T10:01:00Z", map[string]interface{}{
			"hostname":       "WS7",
			"command_line":   "procdump.exe -ma lsass.exe lsass.dmp",
			"destination_ip": "203.0.113.7",
		}),
		rawEvent("evt-iso", "2025-06-01T10:02:00Z", map[string]interface{}{
			"hostname":     "LAB1",
			"command_line": "wscript.exe update.vbs",
		}),
	}
	for i := 0; i < 6; i++ {
		batch = append(batch, rawEvent(fmt.Sprintf("noise-%d", i), "2025-06-01T10:03:00Z",
			map[string]interface{}{"message": "heartbeat ok"}))
	}
	return batch
}

func newTestRunner(t *testing.T, enricher Enricher, opts Options) (*Runner, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.Open(filepath.Join(t.TempDir(), "evidence_ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	opts.OutputDir = t.TempDir()
	tr := triage.New(opts.Triage, led, nil)
	return NewRunner(tr, led, enricher, nil, nil, opts), led
}

func TestFullRunProducesCampaignArtifacts(t *testing.T) {
	r, _ := newTestRunner(t, nil, DefaultOptions())

	result, err := r.Run(mixedBatch())
	require.NoError(t, err)

	require.Equal(t, 1, result.DedupRemoved)
	require.Equal(t, 3, result.AdmittedCount)
	require.True(t, strings.HasPrefix(result.DatasetHash, "sha256:"))

	require.Len(t, result.Gates, 3)
	for _, g := range result.Gates {
		require.Equal(t, arv.ActionExecute, g.Decision.Action, g.Gate)
	}
	require.Empty(t, result.HaltedAt)

	require.Len(t, result.Campaigns, 2)
	require.Equal(t, 2, result.Campaigns[0].AlertCount)
	require.Equal(t, 1, result.Campaigns[1].AlertCount)

	for _, c := range result.Campaigns {
		require.Equal(t, "INFERRED", c.ClaimLabel)
		for _, path := range []string{c.TraversalPath, c.VerificationPath, c.LedgerPath, c.ReportPath} {
			_, err := os.Stat(path)
			require.NoError(t, err, path)
		}
	}

	text, err := os.ReadFile(result.Campaigns[0].ReportPath)
	require.NoError(t, err)
	require.Contains(t, string(text), "FORENSIC ASSESSMENT REPORT - CAMPAIGN 1")

	data, err := os.ReadFile(result.ManifestPath)
	require.NoError(t, err)
	var manifest Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	require.Equal(t, result.DatasetHash, manifest.DatasetHash)
	require.Len(t, manifest.Artifacts, 8)
	for _, a := range manifest.Artifacts {
		require.Len(t, a.SHA256, 64)
	}
}

func TestNoiseOnlyBatchHaltsAtBuildGate(t *testing.T) {
	r, _ := newTestRunner(t, nil, DefaultOptions())

	batch := make([]map[string]interface{}, 0, 8)
	for i := 0; i < 8; i++ {
		batch = append(batch, rawEvent(fmt.Sprintf("noise-%d", i), "2025-06-01T10:00:00Z",
			map[string]interface{}{"message": "heartbeat ok"}))
	}

	result, err := r.Run(batch)
	require.NoError(t, err)

	require.Equal(t, 0, result.AdmittedCount)
	require.Equal(t, GateGraphBuild, result.HaltedAt)
	require.Len(t, result.Gates, 1)
	require.Equal(t, arv.ActionHalt, result.Gates[0].Decision.Action)
	require.Empty(t, result.Campaigns)
	require.Empty(t, result.ManifestPath)
}

func TestPhiLimitRollsBackBeforeExpansion(t *testing.T) {
	opts := DefaultOptions()
	opts.ARV.PhiLimit = 2
	r, _ := newTestRunner(t, nil, opts)

	result, err := r.Run(mixedBatch())
	require.NoError(t, err)

	require.Equal(t, GateGraphBuild, result.HaltedAt)
	require.Len(t, result.Gates, 1)
	require.Equal(t, arv.ActionRollback, result.Gates[0].Decision.Action)
	require.Equal(t, arv.ReasonPhiLimit, result.Gates[0].Decision.Reason)
	require.Empty(t, result.Campaigns)
}

type floodEnricher struct{ nodes int }

func (f floodEnricher) Enrich(g *evidence.Graph) error {
	for i := 0; i < f.nodes; i++ {
		g.AddNode(fmt.Sprintf("EFI:intel-%d", i), evidence.TypeEFI, fmt.Sprintf("intel-%d", i))
	}
	return nil
}

func TestRunawayEnrichmentRollsBackAtItsGate(t *testing.T) {
	r, _ := newTestRunner(t, floodEnricher{nodes: 200}, DefaultOptions())

	result, err := r.Run(mixedBatch())
	require.NoError(t, err)

	require.Equal(t, GateEnrichment, result.HaltedAt)
	require.Len(t, result.Gates, 2)
	require.Equal(t, arv.ActionExecute, result.Gates[0].Decision.Action)
	require.Equal(t, arv.ActionRollback, result.Gates[1].Decision.Action)
	require.Empty(t, result.Campaigns)
}

func TestGateDecisionsLandInTheLedger(t *testing.T) {
	r, led := newTestRunner(t, nil, DefaultOptions())

	_, err := r.Run(mixedBatch())
	require.NoError(t, err)
	require.NoError(t, led.Close())

	f, err := os.Open(led.Path())
	require.NoError(t, err)
	defer f.Close()

	gates := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry ledger.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		if entry.Type == ledger.TypeARVGate {
			gates++
		}
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, 3, gates)
	require.Empty(t, ledger.VerifyFile(led.Path()))
}
