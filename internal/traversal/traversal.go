// Package traversal analyzes one campaign subgraph: it projects the graph
// onto its alerts, picks seed alerts, walks temporally consistent paths, and
// derives blast radius, root-cause ranking, and counterfactual controls.
package traversal

import (
	"fmt"
	"math"
	"net"
	"sort"
	"strings"
	"time"

	"forensicgraph/internal/evidence"
)

// Tokens whose presence in command or process context marks an alert as
// interpreter or discovery activity.
var suspiciousTokens = []string{
	"powershell",
	"wscript",
	"cscript",
	"encodedcommand",
	" -enc",
	"whoami",
	"rundll32",
	"regsvr32",
}

// Options bound a traversal run.
type Options struct {
	TauBlastSeconds    int
	MaxCounterfactuals int
}

// DefaultOptions returns the standard bounds.
func DefaultOptions() Options {
	return Options{TauBlastSeconds: 300, MaxCounterfactuals: 10}
}

// Seed is one scored entry-point candidate.
type Seed struct {
	Alert     string   `json:"alert"`
	EventID   string   `json:"event_id"`
	Timestamp string   `json:"timestamp"`
	Host      string   `json:"host"`
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons"`
}

// PathRow is one temporally consistent path from a seed to a reachable alert.
type PathRow struct {
	SeedAlert    string   `json:"seed_alert"`
	TargetAlert  string   `json:"target_alert"`
	Path         []string `json:"path"`
	Hops         int      `json:"hops"`
	DeltaSeconds *int64   `json:"delta_seconds"`
}

// BlastRow summarizes how much of the campaign one seed reaches, and how
// fast.
type BlastRow struct {
	SeedAlert       string `json:"seed_alert"`
	TotalReachable  int    `json:"total_reachable"`
	WithinThreshold int    `json:"within_threshold"`
	TauSeconds      int    `json:"tau_seconds"`
}

// BlastRadius is the campaign-level speed-of-spread assessment.
type BlastRadius struct {
	TauSeconds     int        `json:"tau_seconds"`
	Rows           []BlastRow `json:"rows"`
	Recommendation string     `json:"recommendation"`
}

// RCARow is one alert's root-cause score decomposition.
type RCARow struct {
	Alert       string  `json:"alert"`
	EventID     string  `json:"event_id"`
	Timestamp   string  `json:"timestamp"`
	Host        string  `json:"host"`
	Betweenness float64 `json:"betweenness"`
	Support     int     `json:"support"`
	Precedence  float64 `json:"precedence"`
	Score       float64 `json:"score"`
}

// Counterfactual reports the reachability impact of removing one control
// node from the campaign.
type Counterfactual struct {
	ControlNode           string `json:"control_node"`
	ControlKind           string `json:"control_kind"`
	BaselineReachable     int    `json:"baseline_reachable"`
	PostRemovalReachable  int    `json:"post_removal_reachable"`
	ReachabilityReduction int    `json:"reachability_reduction"`
}

// Summary carries the headline counts of one traversal run.
type Summary struct {
	AlertNodes               int `json:"alert_nodes"`
	ProjectionEdges          int `json:"projection_edges"`
	SeedCount                int `json:"seed_count"`
	TemporalPaths            int `json:"temporal_paths"`
	ReachableAlerts          int `json:"reachable_alerts"`
	CounterfactualCandidates int `json:"counterfactual_candidates"`
}

// Report is the full traversal artifact for one campaign.
type Report struct {
	GeneratedAt     string           `json:"generated_at"`
	CampaignIndex   int              `json:"campaign_index"`
	Summary         Summary          `json:"summary"`
	SeedAlerts      []Seed           `json:"seed_alerts"`
	TemporalPaths   []PathRow        `json:"temporal_paths"`
	BlastRadius     BlastRadius      `json:"blast_radius"`
	Counterfactuals []Counterfactual `json:"counterfactuals"`
	RCATop          []RCARow         `json:"rca_top"`
}

// Analyze runs the full traversal over one campaign subgraph.
func Analyze(sub *evidence.Graph, meta map[string]evidence.Meta, campaignIndex int, opts Options) *Report {
	if opts.TauBlastSeconds <= 0 {
		opts.TauBlastSeconds = 300
	}
	if opts.MaxCounterfactuals <= 0 {
		opts.MaxCounterfactuals = 10
	}

	projection := BuildProjection(sub, meta)
	seeds := selectSeeds(sub, meta)
	seedNodes := make([]string, 0, len(seeds))
	for _, s := range seeds {
		seedNodes = append(seedNodes, s.Alert)
	}

	paths := collectTemporalPaths(projection, seedNodes, meta)
	baseline := reachableTargets(paths)

	report := &Report{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		CampaignIndex: campaignIndex,
		SeedAlerts:    seeds,
		TemporalPaths: capPaths(paths, 50),
		BlastRadius:   blastRadius(paths, seedNodes, opts.TauBlastSeconds),
		RCATop:        rcaTop(projection, meta, 10),
	}
	report.Counterfactuals = counterfactuals(sub, meta, seedNodes, len(baseline), opts.MaxCounterfactuals)
	report.Summary = Summary{
		AlertNodes:               len(sub.NodesOfType(evidence.TypeAlert)),
		ProjectionEdges:          projection.NumEdges(),
		SeedCount:                len(seedNodes),
		TemporalPaths:            len(paths),
		ReachableAlerts:          len(baseline),
		CounterfactualCandidates: len(report.Counterfactuals),
	}
	return report
}

// scoreAlert weighs an alert as an entry-point candidate: technique
// mappings, network context, external corroboration of its file hash, and
// suspicious interpreter markers.
func scoreAlert(sub *evidence.Graph, alert string, meta map[string]evidence.Meta) (int, []string) {
	score := 0
	var reasons []string

	techniques := 0
	network := false
	var hashNodes []string
	var cmdParts []string
	for _, e := range sub.OutEdges(alert) {
		switch e.Relationship {
		case evidence.RelIndicatesTech:
			techniques++
		case evidence.RelHasSourceIP, evidence.RelHasDestIP:
			network = true
		case evidence.RelHasFileHash:
			hashNodes = append(hashNodes, e.To)
		case evidence.RelObservedCommand, evidence.RelObservedProcess:
			cmdParts = append(cmdParts, e.To)
		}
	}

	if techniques > 0 {
		score += 30
		reasons = append(reasons, fmt.Sprintf("technique mappings (%d)", techniques))
	}
	if network {
		score += 15
		reasons = append(reasons, "network context")
	}

	efiHits := 0
	for _, hashNode := range hashNodes {
		for _, e := range sub.OutEdges(hashNode) {
			if e.Relationship == evidence.RelEnrichedByVT || e.Relationship == evidence.RelEnrichedByOTX {
				efiHits++
			}
		}
	}
	if efiHits > 0 {
		score += 20
		reasons = append(reasons, fmt.Sprintf("external corroboration (%d)", efiHits))
	}

	m := meta[alert]
	if m.Command != "" {
		cmdParts = append(cmdParts, m.Command)
	}
	if m.Process != "" {
		cmdParts = append(cmdParts, m.Process)
	}
	blob := strings.ToLower(strings.Join(cmdParts, " "))
	for _, tok := range suspiciousTokens {
		if strings.Contains(blob, tok) {
			score += 20
			reasons = append(reasons, "suspicious interpreter/command marker")
			break
		}
	}
	return score, reasons
}

// alertLess orders alerts by timestamp with untimestamped alerts last, ties
// broken by node id. Timestamps compare as time.Time so mixed whole-second
// and sub-second precision still orders temporally.
func alertLess(a, b string, meta map[string]evidence.Meta) bool {
	ma, okA := meta[a]
	mb, okB := meta[b]
	hasA := okA && ma.HasTS
	hasB := okB && mb.HasTS
	if hasA != hasB {
		return hasA
	}
	if hasA && hasB && !ma.TS.Equal(mb.TS) {
		return ma.TS.Before(mb.TS)
	}
	return a < b
}

// selectSeeds scores every alert and keeps the top three, or just the top
// one when nothing scored above zero.
func selectSeeds(sub *evidence.Graph, meta map[string]evidence.Meta) []Seed {
	var scored []Seed
	for _, alert := range sub.NodesOfType(evidence.TypeAlert) {
		score, reasons := scoreAlert(sub, alert, meta)
		m := meta[alert]
		scored = append(scored, Seed{
			Alert:     alert,
			EventID:   m.EventID,
			Timestamp: m.Timestamp,
			Host:      m.Host,
			Score:     score,
			Reasons:   reasons,
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return alertLess(scored[i].Alert, scored[j].Alert, meta)
	})
	if len(scored) == 0 {
		return nil
	}
	if scored[0].Score <= 0 {
		return scored[:1]
	}
	if len(scored) > 3 {
		return scored[:3]
	}
	return scored
}

// pathIsTemporal accepts a path whose timestamped alerts never step
// backwards in time.
func pathIsTemporal(path []string, meta map[string]evidence.Meta) bool {
	var prev time.Time
	havePrev := false
	for _, node := range path {
		m, ok := meta[node]
		if !ok || !m.HasTS {
			continue
		}
		if havePrev && m.TS.Before(prev) {
			return false
		}
		prev = m.TS
		havePrev = true
	}
	return true
}

func deltaSeconds(path []string, meta map[string]evidence.Meta) *int64 {
	if len(path) < 2 {
		zero := int64(0)
		return &zero
	}
	start, sok := meta[path[0]]
	end, eok := meta[path[len(path)-1]]
	if !sok || !eok || !start.HasTS || !end.HasTS {
		return nil
	}
	d := int64(end.TS.Sub(start.TS) / time.Second)
	return &d
}

func collectTemporalPaths(p *Projection, seeds []string, meta map[string]evidence.Meta) []PathRow {
	var rows []PathRow
	for _, seed := range seeds {
		for _, target := range p.Nodes() {
			if target == seed {
				continue
			}
			path := p.shortestPath(seed, target)
			if path == nil || !pathIsTemporal(path, meta) {
				continue
			}
			rows = append(rows, PathRow{
				SeedAlert:    seed,
				TargetAlert:  target,
				Path:         path,
				Hops:         len(path) - 1,
				DeltaSeconds: deltaSeconds(path, meta),
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		di, dj := rows[i].DeltaSeconds, rows[j].DeltaSeconds
		if (di == nil) != (dj == nil) {
			return dj == nil
		}
		if di != nil && dj != nil && *di != *dj {
			return *di < *dj
		}
		return rows[i].Hops < rows[j].Hops
	})
	return rows
}

func reachableTargets(rows []PathRow) map[string]struct{} {
	out := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		out[r.TargetAlert] = struct{}{}
	}
	return out
}

func blastRadius(rows []PathRow, seeds []string, tauSeconds int) BlastRadius {
	blast := BlastRadius{TauSeconds: tauSeconds, Recommendation: "MONITOR"}
	for _, seed := range seeds {
		total := map[string]struct{}{}
		within := map[string]struct{}{}
		for _, r := range rows {
			if r.SeedAlert != seed {
				continue
			}
			total[r.TargetAlert] = struct{}{}
			if r.DeltaSeconds != nil && *r.DeltaSeconds <= int64(tauSeconds) {
				within[r.TargetAlert] = struct{}{}
			}
		}
		blast.Rows = append(blast.Rows, BlastRow{
			SeedAlert:       seed,
			TotalReachable:  len(total),
			WithinThreshold: len(within),
			TauSeconds:      tauSeconds,
		})
	}
	sort.Slice(blast.Rows, func(i, j int) bool {
		a, b := blast.Rows[i], blast.Rows[j]
		if a.WithinThreshold != b.WithinThreshold {
			return a.WithinThreshold > b.WithinThreshold
		}
		if a.TotalReachable != b.TotalReachable {
			return a.TotalReachable > b.TotalReachable
		}
		return a.SeedAlert < b.SeedAlert
	})
	for _, row := range blast.Rows {
		if row.WithinThreshold > 0 {
			blast.Recommendation = "ESCALATE"
			break
		}
	}
	return blast
}

// rcaTop ranks alerts by 0.5*betweenness + 0.3*degree support +
// 0.2*temporal precedence, all normalized within the campaign.
func rcaTop(p *Projection, meta map[string]evidence.Meta, limit int) []RCARow {
	nodes := p.Nodes()
	if len(nodes) == 0 {
		return nil
	}

	centrality := map[string]float64{}
	if len(nodes) > 1 {
		centrality = p.betweenness()
	}
	maxCentrality := 0.0
	for _, c := range centrality {
		if c > maxCentrality {
			maxCentrality = c
		}
	}
	if maxCentrality == 0 {
		maxCentrality = 1
	}

	maxSupport := 1
	for _, n := range nodes {
		if d := p.Degree(n); d > maxSupport {
			maxSupport = d
		}
	}

	ordered := append([]string(nil), nodes...)
	sort.Slice(ordered, func(i, j int) bool { return alertLess(ordered[i], ordered[j], meta) })
	precedence := make(map[string]float64, len(ordered))
	for idx, node := range ordered {
		precedence[node] = float64(len(ordered)-idx) / float64(len(ordered))
	}

	rows := make([]RCARow, 0, len(nodes))
	for _, node := range nodes {
		cent := centrality[node]
		sup := p.Degree(node)
		pre := precedence[node]
		score := 0.5*(cent/maxCentrality) + 0.3*(float64(sup)/float64(maxSupport)) + 0.2*pre
		m := meta[node]
		rows = append(rows, RCARow{
			Alert:       node,
			EventID:     m.EventID,
			Timestamp:   m.Timestamp,
			Host:        m.Host,
			Betweenness: round6(cent),
			Support:     sup,
			Precedence:  round6(pre),
			Score:       round6(score),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Alert < rows[j].Alert
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// counterfactualCandidates are the removable control points: enrichment
// intelligence nodes and public IP infrastructure.
func counterfactualCandidates(sub *evidence.Graph) [][2]string {
	var candidates [][2]string
	for _, node := range sub.NodeIDs() {
		n, _ := sub.Node(node)
		switch n.Type {
		case evidence.TypeEFI:
			candidates = append(candidates, [2]string{node, "EFI"})
		case evidence.TypeIP:
			value := strings.TrimSpace(n.Value)
			if value == "" {
				if idx := strings.Index(node, ":"); idx >= 0 {
					value = node[idx+1:]
				}
			}
			ip := net.ParseIP(value)
			if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsMulticast() {
				continue
			}
			candidates = append(candidates, [2]string{node, "ExternalIP"})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i][0] < candidates[j][0] })
	return candidates
}

func counterfactuals(sub *evidence.Graph, meta map[string]evidence.Meta, seeds []string, baseline, limit int) []Counterfactual {
	var out []Counterfactual
	candidates := counterfactualCandidates(sub)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, cand := range candidates {
		reduced := sub.Clone()
		reduced.RemoveNode(cand[0])
		reducedPaths := collectTemporalPaths(BuildProjection(reduced, meta), seeds, meta)
		reachable := len(reachableTargets(reducedPaths))
		impact := baseline - reachable
		if impact < 0 {
			impact = 0
		}
		out = append(out, Counterfactual{
			ControlNode:           cand[0],
			ControlKind:           cand[1],
			BaselineReachable:     baseline,
			PostRemovalReachable:  reachable,
			ReachabilityReduction: impact,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReachabilityReduction != out[j].ReachabilityReduction {
			return out[i].ReachabilityReduction > out[j].ReachabilityReduction
		}
		return out[i].ControlNode < out[j].ControlNode
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func capPaths(rows []PathRow, limit int) []PathRow {
	if len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
