package traversal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forensicgraph/internal/evidence"
	"forensicgraph/pkg/models"
)

// Three alerts on different hosts share one external destination IP:
// an interpreter launch on WS5, discovery on WS7 a minute later, and a
// plain network alert on DC1 four minutes in.
func sharedIPCampaign(t *testing.T) (*evidence.Graph, map[string]evidence.Meta) {
	t.Helper()
	raw := []map[string]interface{}{
		{
			"source_id": "edr-01", "event_id": "evt-a", "source_timestamp": "2026-03-01T10:00:00Z",
			"raw_payload": map[string]interface{}{
				"hostname":              "WS5",
				"event_time":            "2026-03-01T10:00:00Z",
				"command_line":          "powershell.exe -enc SQBFAFgA",
				"alarm_destination_ips": []interface{}{"203.0.113.7"},
			},
		},
		{
			"source_id": "edr-01", "event_id": "evt-b", "source_timestamp": "2026-03-01T10:01:00Z",
			"raw_payload": map[string]interface{}{
				"hostname":              "WS7",
				"event_time":            "2026-03-01T10:01:00Z",
				"command_line":          "whoami.exe /all",
				"alarm_destination_ips": []interface{}{"203.0.113.7"},
			},
		},
		{
			"source_id": "edr-01", "event_id": "evt-c", "source_timestamp": "2026-03-01T10:04:00Z",
			"raw_payload": map[string]interface{}{
				"hostname":              "DC1",
				"event_time":            "2026-03-01T10:04:00Z",
				"alarm_destination_ips": []interface{}{"203.0.113.7"},
			},
		},
	}
	events := make([]models.Event, len(raw))
	g := evidence.NewGraph()
	for i, m := range raw {
		events[i] = models.EventFromMap(m)
		evidence.AddToGraph(g, evidence.AlertFromEvent(events[i]))
	}
	return g, evidence.BuildMeta(events)
}

func TestProjectionDirectsEarlierToLater(t *testing.T) {
	g, meta := sharedIPCampaign(t)
	p := BuildProjection(g, meta)

	require.Equal(t, 3, p.NumEdges())
	edge, ok := p.Edge("Alert:evt-a", "Alert:evt-b")
	require.True(t, ok)
	require.Equal(t, []string{"IP:203.0.113.7"}, edge.Via)
	require.Equal(t, 1, edge.Weight)

	_, backwards := p.Edge("Alert:evt-b", "Alert:evt-a")
	require.False(t, backwards)
}

func TestSeedsPreferTechniqueAndMarkerRichAlerts(t *testing.T) {
	g, meta := sharedIPCampaign(t)
	seeds := selectSeeds(g, meta)

	require.Len(t, seeds, 3)
	require.Equal(t, "Alert:evt-a", seeds[0].Alert)
	require.Equal(t, 65, seeds[0].Score)
	require.Equal(t, 65, seeds[1].Score)
	require.Equal(t, "Alert:evt-b", seeds[1].Alert)
	require.Equal(t, 15, seeds[2].Score)
	require.Contains(t, seeds[0].Reasons, "network context")
}

func TestZeroScoreCampaignKeepsSingleSeed(t *testing.T) {
	g := evidence.NewGraph()
	evidence.AddToGraph(g, evidence.Alert{EventID: "a", Hostname: "WS1"})
	evidence.AddToGraph(g, evidence.Alert{EventID: "b", Hostname: "WS1"})

	seeds := selectSeeds(g, map[string]evidence.Meta{})
	require.Len(t, seeds, 1)
}

func TestTemporalPathsSortedByDelta(t *testing.T) {
	g, meta := sharedIPCampaign(t)
	report := Analyze(g, meta, 1, DefaultOptions())

	require.Len(t, report.TemporalPaths, 3)
	first := report.TemporalPaths[0]
	require.Equal(t, "Alert:evt-a", first.SeedAlert)
	require.Equal(t, "Alert:evt-b", first.TargetAlert)
	require.NotNil(t, first.DeltaSeconds)
	require.Equal(t, int64(60), *first.DeltaSeconds)
	require.Equal(t, 1, first.Hops)

	last := report.TemporalPaths[2]
	require.Equal(t, int64(240), *last.DeltaSeconds)
}

func TestBlastRadiusEscalatesFastSpread(t *testing.T) {
	g, meta := sharedIPCampaign(t)
	report := Analyze(g, meta, 1, DefaultOptions())

	require.Equal(t, "ESCALATE", report.BlastRadius.Recommendation)
	top := report.BlastRadius.Rows[0]
	require.Equal(t, "Alert:evt-a", top.SeedAlert)
	require.Equal(t, 2, top.TotalReachable)
	require.Equal(t, 2, top.WithinThreshold)
}

func TestSlowSpreadOnlyMonitors(t *testing.T) {
	g, meta := sharedIPCampaign(t)
	report := Analyze(g, meta, 1, Options{TauBlastSeconds: 30, MaxCounterfactuals: 10})

	require.Equal(t, "MONITOR", report.BlastRadius.Recommendation)
}

func TestCounterfactualRemovalOfSharedIPCollapsesReachability(t *testing.T) {
	g, meta := sharedIPCampaign(t)
	report := Analyze(g, meta, 1, DefaultOptions())

	require.Len(t, report.Counterfactuals, 1)
	cf := report.Counterfactuals[0]
	require.Equal(t, "IP:203.0.113.7", cf.ControlNode)
	require.Equal(t, "ExternalIP", cf.ControlKind)
	require.Equal(t, 2, cf.BaselineReachable)
	require.Equal(t, 0, cf.PostRemovalReachable)
	require.Equal(t, 2, cf.ReachabilityReduction)
}

func TestPrivateIPsAreNotControlCandidates(t *testing.T) {
	g := evidence.NewGraph()
	evidence.AddToGraph(g, evidence.Alert{EventID: "a", SourceIP: "10.0.0.5"})
	evidence.AddToGraph(g, evidence.Alert{EventID: "b", SourceIP: "127.0.0.1"})

	require.Empty(t, counterfactualCandidates(g))
}

func TestRCARanksEarliestHubFirst(t *testing.T) {
	g, meta := sharedIPCampaign(t)
	report := Analyze(g, meta, 1, DefaultOptions())

	require.NotEmpty(t, report.RCATop)
	require.Equal(t, "Alert:evt-a", report.RCATop[0].Alert)
	require.Equal(t, 0.5, report.RCATop[0].Score)
	require.Equal(t, 2, report.RCATop[0].Support)
	require.Equal(t, 1.0, report.RCATop[0].Precedence)
}

func TestAlertOrderingWithMixedTimestampPrecision(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	meta := map[string]evidence.Meta{
		"Alert:whole": {EventID: "whole", TS: base, HasTS: true},
		"Alert:frac":  {EventID: "frac", TS: base.Add(500 * time.Millisecond), HasTS: true},
		"Alert:tied":  {EventID: "tied", TS: base, HasTS: true},
	}

	// A whole-second timestamp sorts before a later sub-second one.
	require.True(t, alertLess("Alert:whole", "Alert:frac", meta))
	require.False(t, alertLess("Alert:frac", "Alert:whole", meta))

	// Equal instants fall back to node id.
	require.True(t, alertLess("Alert:tied", "Alert:whole", meta))

	// Untimestamped alerts sort last regardless of id.
	require.True(t, alertLess("Alert:whole", "Alert:aaa", meta))
	require.False(t, alertLess("Alert:aaa", "Alert:whole", meta))
}

func TestEmptyCampaignProducesEmptyReport(t *testing.T) {
	report := Analyze(evidence.NewGraph(), map[string]evidence.Meta{}, 1, DefaultOptions())
	require.Equal(t, 0, report.Summary.AlertNodes)
	require.Empty(t, report.SeedAlerts)
	require.Empty(t, report.TemporalPaths)
	require.Equal(t, "MONITOR", report.BlastRadius.Recommendation)
}
