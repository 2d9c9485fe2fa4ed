package verify

import (
	"strings"
	"time"

	"forensicgraph/internal/evidence"
)

// Defaults for the verification run.
const (
	DefaultPermutations = 1000
	DefaultBootstraps   = 1000
	DefaultSignificance = 0.05
	DefaultSmoothing    = 1.0

	permutationSeed = 13
	bootstrapSeed   = 17
)

// Options configure one verification run.
type Options struct {
	Permutations int
	Bootstraps   int
	Significance float64
	Smoothing    float64
	Workers      int
}

// DefaultOptions returns the canonical parameters.
func DefaultOptions() Options {
	return Options{
		Permutations: DefaultPermutations,
		Bootstraps:   DefaultBootstraps,
		Significance: DefaultSignificance,
		Smoothing:    DefaultSmoothing,
		Workers:      4,
	}
}

// SampleRow is one alert's channel assignment.
type SampleRow struct {
	Alert string `json:"alert"`
	Host  string `json:"host"`
	WS    int    `json:"A_WS"`
	DC    int    `json:"A_DC"`
	L     int    `json:"L"`
}

// Statistics carries the numeric evidence behind the decision.
type Statistics struct {
	CMIObserved  float64 `json:"cmi_observed"`
	PValue       float64 `json:"p_value"`
	Significance float64 `json:"alpha_significance"`
	CI95Low      float64 `json:"ci95_low"`
	CI95High     float64 `json:"ci95_high"`
	Permutations int     `json:"permutations"`
	Bootstraps   int     `json:"bootstraps"`
	NullMean     float64 `json:"null_mean"`
}

// Decision is the claim-label outcome.
type Decision struct {
	RejectH0   bool   `json:"reject_h0"`
	ClaimLabel string `json:"claim_label"`
	Reason     string `json:"reason"`
}

// Report is the verification artifact for one campaign.
type Report struct {
	GeneratedAt   string            `json:"generated_at"`
	CampaignIndex int               `json:"campaign_index"`
	Hypothesis    map[string]string `json:"hypothesis"`
	InputsSummary map[string]int    `json:"inputs_summary"`
	Statistics    Statistics        `json:"statistics"`
	Decision      Decision          `json:"decision"`
	Samples       []SampleRow       `json:"samples"`
}

// Channels are the per-alert binary series the test runs over:
// workstation-suspicion X, domain-controller-suspicion Y, and the lateral
// movement confounder Z.
type Channels struct {
	WS      []int
	DC      []int
	Lateral []int
	Samples []SampleRow
}

// BuildChannels derives the three channel series from the campaign
// subgraph, one sample per alert in sorted node order.
func BuildChannels(sub *evidence.Graph, meta map[string]evidence.Meta) Channels {
	alerts := sub.NodesOfType(evidence.TypeAlert)
	ch := Channels{
		WS:      make([]int, 0, len(alerts)),
		DC:      make([]int, 0, len(alerts)),
		Lateral: make([]int, 0, len(alerts)),
	}
	for _, node := range alerts {
		m := meta[node]
		dcHost := isDCHost(m.Host)
		suspicious := isSuspicious(sub, node, m)
		lateral := 0
		if hasRelationship(sub, node, evidence.RelHasDestIP, evidence.RelHasSourceIP) || hasLateralTechnique(sub, node) {
			lateral = 1
		}
		ws := 0
		if !dcHost && suspicious {
			ws = 1
		}
		dc := 0
		if dcHost && suspicious {
			dc = 1
		}
		ch.WS = append(ch.WS, ws)
		ch.DC = append(ch.DC, dc)
		ch.Lateral = append(ch.Lateral, lateral)
		ch.Samples = append(ch.Samples, SampleRow{Alert: node, Host: m.Host, WS: ws, DC: dc, L: lateral})
	}
	return ch
}

// Verify tests H0: I(A_DC; L | A_WS) = 0 for one campaign. A VERIFIED
// label requires positive observed CMI, a significant permutation p-value,
// and a bootstrap interval excluding zero; anything less stays INFERRED.
func Verify(sub *evidence.Graph, meta map[string]evidence.Meta, campaignIndex int, opts Options) *Report {
	if opts.Permutations <= 0 {
		opts.Permutations = DefaultPermutations
	}
	if opts.Bootstraps <= 0 {
		opts.Bootstraps = DefaultBootstraps
	}
	if opts.Significance <= 0 {
		opts.Significance = DefaultSignificance
	}
	if opts.Smoothing <= 0 {
		opts.Smoothing = DefaultSmoothing
	}

	ch := BuildChannels(sub, meta)

	observed := DiscreteCMI(ch.WS, ch.DC, ch.Lateral, opts.Smoothing)
	perm := PermutationTest(ch.WS, ch.DC, ch.Lateral, observed, opts.Permutations, opts.Smoothing, permutationSeed, opts.Workers)
	ci := BootstrapCI(ch.WS, ch.DC, ch.Lateral, opts.Bootstraps, opts.Smoothing, bootstrapSeed, opts.Workers)

	rejectH0 := observed > 0 && perm.PValue < opts.Significance && ci.Low > 0
	decision := Decision{
		RejectH0:   rejectH0,
		ClaimLabel: "INFERRED",
		Reason:     "Insufficient statistical evidence for VERIFIED; keep as INFERRED",
	}
	if rejectH0 {
		decision.ClaimLabel = "VERIFIED"
		decision.Reason = "CMI > 0, null rejected, CI excludes zero"
	}

	samples := ch.Samples
	if len(samples) > 100 {
		samples = samples[:100]
	}
	return &Report{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		CampaignIndex: campaignIndex,
		Hypothesis: map[string]string{
			"H0": "I(A_DC;L|A_WS)=0",
			"H1": "I(A_DC;L|A_WS)>0",
		},
		InputsSummary: map[string]int{
			"alerts":           len(ch.Samples),
			"ws_positive":      sum(ch.WS),
			"dc_positive":      sum(ch.DC),
			"lateral_positive": sum(ch.Lateral),
		},
		Statistics: Statistics{
			CMIObserved:  observed,
			PValue:       perm.PValue,
			Significance: opts.Significance,
			CI95Low:      ci.Low,
			CI95High:     ci.High,
			Permutations: perm.Permutations,
			Bootstraps:   opts.Bootstraps,
			NullMean:     perm.NullMean,
		},
		Decision: decision,
		Samples:  samples,
	}
}

// isDCHost is the deployment heuristic for domain-controller hosts.
func isDCHost(host string) bool {
	h := strings.ToLower(host)
	if strings.Contains(h, "dc") {
		return true
	}
	return strings.Contains(h, "domain") && strings.Contains(h, "controller")
}

func hasRelationship(sub *evidence.Graph, node string, rels ...string) bool {
	for _, e := range sub.OutEdges(node) {
		for _, rel := range rels {
			if e.Relationship == rel {
				return true
			}
		}
	}
	return false
}

func hasLateralTechnique(sub *evidence.Graph, node string) bool {
	for _, e := range sub.OutEdges(node) {
		if e.Relationship == evidence.RelIndicatesTech && strings.HasPrefix(e.To, "MITRE:T1021") {
			return true
		}
	}
	return false
}

var suspiciousTokens = []string{
	"powershell", "wscript", "cscript", "whoami", " -enc", "encodedcommand",
}

// isSuspicious flags an alert with either suspicious structure (technique,
// network, or command edges) or suspicious interpreter tokens in its
// command/process context.
func isSuspicious(sub *evidence.Graph, node string, m evidence.Meta) bool {
	if hasRelationship(sub, node,
		evidence.RelIndicatesTech, evidence.RelHasDestIP, evidence.RelHasSourceIP, evidence.RelObservedCommand) {
		return true
	}
	text := strings.ToLower(strings.Join([]string{m.Command, m.Process, node}, " "))
	for _, tok := range suspiciousTokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}
