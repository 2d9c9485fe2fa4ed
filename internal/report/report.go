// Package report renders per-campaign forensic artifacts: a fact-bounded
// narrative, a structured assessment report, and the exported campaign
// ledger. Every claim a report makes carries an epistemic label; free text
// never outranks the graph it was derived from.
package report

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"forensicgraph/internal/canonical"
	"forensicgraph/internal/evidence"
)

// Claim labels, in increasing order of evidential weight.
const (
	ClaimObserved = "OBSERVED"
	ClaimInferred = "INFERRED"
	ClaimVerified = "VERIFIED"
)

// Facts is the deterministic extraction of everything a narrative may
// reference. Anything not in here must not appear in a report.
type Facts struct {
	Alerts          []string `json:"alerts"`
	IPs             []string `json:"ips"`
	Hashes          []string `json:"hashes"`
	MalwareFamilies []string `json:"malware_families"`
	FileNames       []string `json:"file_names"`
	FilePaths       []string `json:"file_paths"`
	RuleIntents     []string `json:"rule_intents"`
	Techniques      []string `json:"mitre"`
	Tactics         []string `json:"tactics"`
	NodeCount       int      `json:"node_count"`
	EdgeCount       int      `json:"edge_count"`
}

// CollectFacts walks the campaign subgraph and gathers its entities in
// sorted order.
func CollectFacts(g *evidence.Graph) Facts {
	sets := map[string]map[string]struct{}{}
	add := func(kind, value string) {
		if value == "" {
			return
		}
		if sets[kind] == nil {
			sets[kind] = map[string]struct{}{}
		}
		sets[kind][value] = struct{}{}
	}

	for _, n := range g.Nodes() {
		switch n.Type {
		case evidence.TypeAlert:
			add("alerts", strings.TrimPrefix(n.ID, "Alert:"))
		case evidence.TypeIP:
			add("ips", n.Value)
		case evidence.TypeSHA256:
			add("hashes", n.Value)
		case evidence.TypeMalware:
			add("families", n.Value)
		case evidence.TypeFileName:
			add("file_names", n.Value)
		case evidence.TypeFilePath:
			add("file_paths", n.Value)
		case evidence.TypeRule:
			add("intents", n.Value)
		case evidence.TypeTechnique:
			add("mitre", strings.TrimPrefix(n.ID, "MITRE:"))
			add("tactics", n.Attrs["tactic"])
		}
	}

	sorted := func(kind string) []string {
		vals := make([]string, 0, len(sets[kind]))
		for v := range sets[kind] {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		return vals
	}
	return Facts{
		Alerts:          sorted("alerts"),
		IPs:             sorted("ips"),
		Hashes:          sorted("hashes"),
		MalwareFamilies: sorted("families"),
		FileNames:       sorted("file_names"),
		FilePaths:       sorted("file_paths"),
		RuleIntents:     sorted("intents"),
		Techniques:      sorted("mitre"),
		Tactics:         sorted("tactics"),
		NodeCount:       g.NumNodes(),
		EdgeCount:       g.NumEdges(),
	}
}

// Narrator turns facts into a narrative. Implementations backed by an
// external model are optional; the pipeline degrades to the deterministic
// renderer when none is configured or the output fails the fact check.
type Narrator interface {
	Summarize(facts Facts, triples []evidence.Edge) (string, error)
}

// Markers whose presence shows a narrative was written around missing
// data rather than from it.
var placeholderMarkers = []string{
	"unprovided",
	"hypothetical",
	"placeholder",
	"missing data",
	"don't have the actual data",
	"do not have the actual data",
	"assume",
	"assuming",
}

// NeedsFallback reports whether a narrative must be replaced by the
// deterministic summary.
func NeedsFallback(text string) bool {
	lowered := strings.ToLower(text)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// Summarize produces the campaign narrative, falling back to the
// deterministic renderer when the narrator is absent, fails, or produces
// text that references facts it does not have.
func Summarize(narrator Narrator, g *evidence.Graph) string {
	facts := CollectFacts(g)
	if narrator == nil {
		return DeterministicSummary(facts)
	}
	text, err := narrator.Summarize(facts, g.Triples())
	if err != nil || NeedsFallback(text) {
		return DeterministicSummary(facts)
	}
	return text
}

// DeterministicSummary renders the fallback narrative from facts alone.
func DeterministicSummary(facts Facts) string {
	anchor := "Unknown"
	if len(facts.Alerts) > 0 {
		anchor = facts.Alerts[0]
	}
	return fmt.Sprintf(
		"Forensic summary based on graph evidence. Incident %s includes %d relationships across %d nodes. "+
			"IPs: %s. File hashes: %s. Malware families: %s.",
		anchor, facts.EdgeCount, facts.NodeCount,
		formatList(facts.IPs, 5), formatList(facts.Hashes, 5), formatList(facts.MalwareFamilies, 5))
}

// Assessment bundles everything the per-campaign report references.
type Assessment struct {
	CampaignIndex  int
	Facts          Facts
	Summary        string
	ClaimLabel     string
	ClaimReason    string
	Recommendation string
	RootCause      string
}

// Render produces the structured assessment report for one campaign.
func (a Assessment) Render() string {
	anchor := "Unknown"
	if len(a.Facts.Alerts) > 0 {
		anchor = a.Facts.Alerts[0]
	}
	label := a.ClaimLabel
	if label == "" {
		label = ClaimInferred
	}
	recommendation := a.Recommendation
	if recommendation == "" {
		recommendation = "MONITOR"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# FORENSIC ASSESSMENT REPORT - CAMPAIGN %d\n", a.CampaignIndex)
	fmt.Fprintf(&b, "**Incident ID:** %s\n", anchor)
	fmt.Fprintf(&b, "**Claim Label:** %s\n", label)
	if a.ClaimReason != "" {
		fmt.Fprintf(&b, "**Claim Basis:** %s\n", a.ClaimReason)
	}
	fmt.Fprintf(&b, "**Recommendation:** %s\n\n", recommendation)

	b.WriteString("## 1. Executive Summary\n")
	b.WriteString("Report generated from observed graph evidence only.\n")
	fmt.Fprintf(&b, "%s\n\n", a.Summary)

	b.WriteString("## 2. Observed Evidence\n")
	fmt.Fprintf(&b, "*   Alerts: %s\n", formatList(a.Facts.Alerts, 10))
	fmt.Fprintf(&b, "*   Source/destination IPs: %s\n", formatList(a.Facts.IPs, 5))
	fmt.Fprintf(&b, "*   File hashes: %s\n", formatList(a.Facts.Hashes, 5))
	fmt.Fprintf(&b, "*   File names: %s\n", formatList(a.Facts.FileNames, 5))
	fmt.Fprintf(&b, "*   Techniques: %s\n", formatList(a.Facts.Techniques, 10))
	fmt.Fprintf(&b, "*   Tactics: %s\n\n", formatList(a.Facts.Tactics, 10))

	b.WriteString("## 3. Root Cause\n")
	if a.RootCause != "" {
		fmt.Fprintf(&b, "Highest ranked origin candidate: %s (%s).\n\n", a.RootCause, ClaimInferred)
	} else {
		b.WriteString("Not observed in graph.\n\n")
	}

	b.WriteString("## 4. Recommended Remediation\n")
	b.WriteString("*   Containment: isolate affected hosts and block suspicious IPs.\n")
	b.WriteString("*   Eradication: remove identified artifacts and clean persistence mechanisms if present.\n")
	b.WriteString("*   Credential recovery: reset credentials for impacted systems if evidence warrants.\n")
	b.WriteString("*   Verification: perform deep scans and confirm no further indicators remain.\n")
	return b.String()
}

// CampaignLedger is the exported per-campaign evidence record.
type CampaignLedger struct {
	Timestamp       string            `json:"timestamp"`
	Summary         string            `json:"summary"`
	ValidationAudit []GateRecord      `json:"validation_audit"`
	LedgerEntries   []evidence.Edge   `json:"ledger_entries"`
	ClaimLabels     map[string]string `json:"claim_labels,omitempty"`
}

// GateRecord is one kernel-gate outcome carried into the campaign export.
type GateRecord struct {
	Gate    string             `json:"gate"`
	Action  string             `json:"action"`
	Reason  string             `json:"reason,omitempty"`
	Phi     int                `json:"phi"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// ExportCampaignLedger writes the campaign evidence record as JSON.
func ExportCampaignLedger(path string, triples []evidence.Edge, summary string, audit []GateRecord, claims map[string]string) error {
	entry := CampaignLedger{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Summary:         summary,
		ValidationAudit: audit,
		LedgerEntries:   triples,
		ClaimLabels:     claims,
	}
	data, err := canonical.MarshalJSON(entry)
	if err != nil {
		return fmt.Errorf("encode campaign ledger: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write campaign ledger: %w", err)
	}
	return nil
}

func formatList(values []string, maxItems int) string {
	if len(values) == 0 {
		return "Not observed in graph."
	}
	if len(values) > maxItems {
		return strings.Join(values[:maxItems], ", ") + fmt.Sprintf(" (+%d more)", len(values)-maxItems)
	}
	return strings.Join(values, ", ")
}
