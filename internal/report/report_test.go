package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"forensicgraph/internal/evidence"
)

func campaignGraph() *evidence.Graph {
	g := evidence.NewGraph()
	evidence.AddToGraph(g, evidence.Alert{
		EventID:        "evt-1",
		FileHashSHA256: "abc123",
		Hostname:       "WS5",
		SourceIP:       "10.0.0.5",
		DestinationIP:  "203.0.113.7",
		MalwareFamily:  "BlackCat",
	})
	return g
}

func TestCollectFactsIsSortedAndComplete(t *testing.T) {
	facts := CollectFacts(campaignGraph())

	require.Equal(t, []string{"evt-1"}, facts.Alerts)
	require.Equal(t, []string{"10.0.0.5", "203.0.113.7"}, facts.IPs)
	require.Equal(t, []string{"abc123"}, facts.Hashes)
	require.Equal(t, []string{"BlackCat"}, facts.MalwareFamilies)
	require.Contains(t, facts.Techniques, "T1486")
	require.Contains(t, facts.Tactics, "Impact")
	require.Greater(t, facts.EdgeCount, 0)
}

func TestDeterministicSummaryStaysFactBounded(t *testing.T) {
	summary := Summarize(nil, campaignGraph())
	require.Contains(t, summary, "Incident evt-1")
	require.Contains(t, summary, "10.0.0.5, 203.0.113.7")
	require.Contains(t, summary, "BlackCat")
	require.False(t, NeedsFallback(summary))
}

type fakeNarrator struct {
	text string
	err  error
}

func (f fakeNarrator) Summarize(Facts, []evidence.Edge) (string, error) { return f.text, f.err }

func TestHallucinatedNarrativeFallsBack(t *testing.T) {
	g := campaignGraph()

	out := Summarize(fakeNarrator{text: "Assuming the attacker used a hypothetical dropper..."}, g)
	require.Contains(t, out, "Forensic summary based on graph evidence.")

	out = Summarize(fakeNarrator{err: errors.New("backend down")}, g)
	require.Contains(t, out, "Forensic summary based on graph evidence.")

	out = Summarize(fakeNarrator{text: "Alert evt-1 contacted 203.0.113.7."}, g)
	require.Equal(t, "Alert evt-1 contacted 203.0.113.7.", out)
}

func TestRenderCarriesClaimLabel(t *testing.T) {
	facts := CollectFacts(campaignGraph())
	a := Assessment{
		CampaignIndex:  1,
		Facts:          facts,
		Summary:        DeterministicSummary(facts),
		ClaimLabel:     ClaimVerified,
		ClaimReason:    "CMI > 0, null rejected, CI excludes zero",
		Recommendation: "ESCALATE",
		RootCause:      "Alert:evt-1",
	}
	text := a.Render()
	require.Contains(t, text, "CAMPAIGN 1")
	require.Contains(t, text, "**Claim Label:** VERIFIED")
	require.Contains(t, text, "**Recommendation:** ESCALATE")
	require.Contains(t, text, "Alert:evt-1 (INFERRED)")
	require.Contains(t, text, "Not observed in graph.")
}

func TestExportCampaignLedgerRoundTrips(t *testing.T) {
	g := campaignGraph()
	path := filepath.Join(t.TempDir(), "campaign_1.json")

	err := ExportCampaignLedger(path, g.Triples(), "summary text", []GateRecord{
		{Gate: "graph_build", Action: "EXECUTE", Reason: "INVARIANTS_PASSED", Phi: 9},
	}, map[string]string{"channel_independence": ClaimInferred})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out CampaignLedger
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, "summary text", out.Summary)
	require.Len(t, out.ValidationAudit, 1)
	require.Equal(t, "EXECUTE", out.ValidationAudit[0].Action)
	require.NotEmpty(t, out.LedgerEntries)
	require.Equal(t, ClaimInferred, out.ClaimLabels["channel_independence"])
}
