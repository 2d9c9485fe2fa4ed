package verify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"forensicgraph/internal/evidence"
)

func TestDiscreteCMIExactValues(t *testing.T) {
	// Constant series factorize trivially.
	require.Equal(t, 0.0, DiscreteCMI([]int{0, 0, 0, 0}, []int{0, 0, 0, 0}, []int{0, 0, 0, 0}, 1.0))

	// A balanced independent pair is floored at zero after smoothing.
	require.Equal(t, 0.0, DiscreteCMI([]int{0, 0, 1, 1}, []int{0, 1, 0, 1}, []int{0, 0, 0, 0}, 1.0))

	// Perfectly aligned X and Y with a varying confounder.
	got := DiscreteCMI([]int{0, 0, 1, 1}, []int{0, 0, 1, 1}, []int{0, 1, 0, 1}, 1.0)
	require.InDelta(t, 0.08170416594551039, got, 1e-9)

	require.Equal(t, 0.0, DiscreteCMI(nil, nil, nil, 1.0))
}

// Wide multi-valued supports exercise the accumulation order: with many
// (x, y, z) cells the estimate must still come out bit-identical on every
// call, not merely close.
func TestDiscreteCMIIsBitwiseReproducible(t *testing.T) {
	n := 60
	x := make([]int, n)
	y := make([]int, n)
	z := make([]int, n)
	for i := 0; i < n; i++ {
		x[i] = (i*i + 3*i) % 7
		y[i] = (5*i + 1) % 6
		z[i] = (2 * i) % 5
	}

	first := DiscreteCMI(x, y, z, 1.0)
	require.InDelta(t, 0.09631440208973971, first, 1e-12)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, DiscreteCMI(x, y, z, 1.0))
	}
}

func TestPermutationTestIsDeterministic(t *testing.T) {
	x := []int{1, 1, 1, 0, 0, 0, 1, 0}
	y := []int{1, 0, 1, 0, 1, 0, 1, 0}
	z := []int{0, 0, 0, 0, 1, 1, 1, 1}
	obs := DiscreteCMI(x, y, z, 1.0)

	a := PermutationTest(x, y, z, obs, 200, 1.0, 13, 1)
	b := PermutationTest(x, y, z, obs, 200, 1.0, 13, 8)
	require.Equal(t, a, b)
	require.Greater(t, a.PValue, 0.0)
	require.LessOrEqual(t, a.PValue, 1.0)
	require.Equal(t, 200, a.Permutations)
}

func TestPermutationTestEmptyInput(t *testing.T) {
	res := PermutationTest(nil, nil, nil, 0, 1000, 1.0, 13, 4)
	require.Equal(t, 1.0, res.PValue)
	require.Equal(t, 0, res.Permutations)
}

func TestBootstrapCIOnConstantData(t *testing.T) {
	x := []int{0, 0, 0, 0}
	ci := BootstrapCI(x, x, x, 200, 1.0, 17, 4)
	require.Equal(t, 0.0, ci.Low)
	require.Equal(t, 0.0, ci.High)
}

func TestBootstrapCIIsDeterministic(t *testing.T) {
	x := []int{1, 1, 0, 0, 1, 0}
	y := []int{1, 1, 0, 0, 0, 1}
	z := []int{0, 0, 0, 1, 1, 1}
	a := BootstrapCI(x, y, z, 300, 1.0, 17, 2)
	b := BootstrapCI(x, y, z, 300, 1.0, 17, 6)
	require.Equal(t, a, b)
	require.LessOrEqual(t, a.Low, a.High)
}

// Fifteen suspicious workstation alerts, fifteen suspicious domain
// controller alerts, ten benign alerts. The channels are strongly
// anti-correlated, far beyond what the permutation null produces.
func dependentCampaign() (*evidence.Graph, map[string]evidence.Meta) {
	g := evidence.NewGraph()
	meta := map[string]evidence.Meta{}
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("ws-%02d", i)
		host := fmt.Sprintf("WS%02d", i)
		cmd := "powershell.exe -nop -w hidden"
		evidence.AddToGraph(g, evidence.Alert{EventID: id, Hostname: host, CommandLine: cmd})
		meta["Alert:"+id] = evidence.Meta{EventID: id, Host: host, Command: cmd}
	}
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("dc-%02d", i)
		host := fmt.Sprintf("DC%02d", i)
		cmd := "wscript.exe logon.vbs"
		evidence.AddToGraph(g, evidence.Alert{EventID: id, Hostname: host, CommandLine: cmd})
		meta["Alert:"+id] = evidence.Meta{EventID: id, Host: host, Command: cmd}
	}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("benign-%02d", i)
		host := fmt.Sprintf("LAB%02d", i)
		evidence.AddToGraph(g, evidence.Alert{EventID: id, Hostname: host})
		meta["Alert:"+id] = evidence.Meta{EventID: id, Host: host}
	}
	return g, meta
}

func TestChannelsSeparateWorkstationAndController(t *testing.T) {
	g, meta := dependentCampaign()
	ch := BuildChannels(g, meta)

	require.Len(t, ch.Samples, 40)
	require.Equal(t, 15, sum(ch.WS))
	require.Equal(t, 15, sum(ch.DC))
	require.Equal(t, 0, sum(ch.Lateral))
	for i := range ch.WS {
		require.False(t, ch.WS[i] == 1 && ch.DC[i] == 1)
	}
}

func TestStrongDependenceIsVerified(t *testing.T) {
	g, meta := dependentCampaign()
	report := Verify(g, meta, 1, DefaultOptions())

	require.InDelta(t, 0.23934266603892057, report.Statistics.CMIObserved, 1e-9)
	require.Less(t, report.Statistics.PValue, 0.05)
	require.Greater(t, report.Statistics.CI95Low, 0.0)
	require.True(t, report.Decision.RejectH0)
	require.Equal(t, "VERIFIED", report.Decision.ClaimLabel)
	require.Equal(t, 15, report.InputsSummary["ws_positive"])
	require.Equal(t, 15, report.InputsSummary["dc_positive"])
}

// A three-alert campaign cannot clear the permutation bar: only three
// arrangements of the controller channel exist, so the null reproduces the
// observed statistic about a third of the time.
func TestTinyCampaignStaysInferred(t *testing.T) {
	g := evidence.NewGraph()
	meta := map[string]evidence.Meta{}
	rows := []struct{ id, host, cmd string }{
		{"evt-a", "WS5", "powershell.exe -enc SQBFAFgA"},
		{"evt-b", "WS7", "whoami.exe /all"},
		{"evt-c", "DC1", ""},
	}
	for _, s := range rows {
		evidence.AddToGraph(g, evidence.Alert{EventID: s.id, Hostname: s.host, CommandLine: s.cmd, DestinationIP: "203.0.113.7"})
		meta["Alert:"+s.id] = evidence.Meta{EventID: s.id, Host: s.host, Command: s.cmd}
	}

	report := Verify(g, meta, 1, DefaultOptions())
	require.InDelta(t, 0.12808527889139434, report.Statistics.CMIObserved, 1e-9)
	require.GreaterOrEqual(t, report.Statistics.PValue, 0.05)
	require.Equal(t, "INFERRED", report.Decision.ClaimLabel)
	require.Equal(t, 3, report.InputsSummary["lateral_positive"])
}

func TestEmptyCampaignIsInferredWithUnitPValue(t *testing.T) {
	report := Verify(evidence.NewGraph(), map[string]evidence.Meta{}, 1, DefaultOptions())
	require.Equal(t, 0.0, report.Statistics.CMIObserved)
	require.Equal(t, 1.0, report.Statistics.PValue)
	require.Equal(t, "INFERRED", report.Decision.ClaimLabel)
	require.Empty(t, report.Samples)
}
