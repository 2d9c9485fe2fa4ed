// Package pipeline orchestrates a full analysis run: Stage-1 triage,
// dedup, evidence-graph construction, kernel gates around every expansion
// stage, campaign isolation, and per-campaign traversal, verification, and
// reporting artifacts.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"forensicgraph/internal/arv"
	"forensicgraph/internal/canonical"
	"forensicgraph/internal/evidence"
	"forensicgraph/internal/ledger"
	"forensicgraph/internal/logger"
	"forensicgraph/internal/metrics"
	"forensicgraph/internal/report"
	"forensicgraph/internal/traversal"
	"forensicgraph/internal/triage"
	"forensicgraph/internal/verify"
	"forensicgraph/pkg/models"
)

// Gate names, in pipeline order.
const (
	GateGraphBuild = "graph_build"
	GateEnrichment = "enrichment"
	GateLeadChase  = "lead_chase"
)

// Root outputs presented to the correlation check at each gate. Build-time
// gates use fixed bootstrap roots; later gates use the stage outputs of the
// two independent expansion paths.
var gateRoots = map[string][2]string{
	GateGraphBuild: {"init_A", "init_B"},
	GateEnrichment: {"agent_v1_out_A", "agent_v1_out_B"},
	GateLeadChase:  {"chaser_out_A", "chaser_out_B"},
}

// SeedPhiPrev is the bootstrap cardinality the kernel state starts from.
const SeedPhiPrev = 12

// Options configure one run.
type Options struct {
	Triage    triage.Profile
	ARV       arv.Options
	Traversal traversal.Options
	Verify    verify.Options
	OutputDir string

	// ThrottleOKAtFinalGate lets a THROTTLE at the lead-chase gate proceed
	// to reporting; earlier gates always require EXECUTE.
	ThrottleOKAtFinalGate bool
}

// DefaultOptions returns the canonical run parameters.
func DefaultOptions() Options {
	return Options{
		Triage:                triage.DefaultProfile(),
		ARV:                   arv.DefaultOptions(),
		Traversal:             traversal.DefaultOptions(),
		Verify:                verify.DefaultOptions(),
		OutputDir:             "data",
		ThrottleOKAtFinalGate: true,
	}
}

// GateOutcome is one recorded kernel-gate evaluation.
type GateOutcome struct {
	Gate     string       `json:"gate"`
	Phi      int          `json:"phi"`
	Decision arv.Decision `json:"decision"`
}

// CampaignResult indexes the artifacts produced for one campaign.
type CampaignResult struct {
	Index            int    `json:"index"`
	AlertCount       int    `json:"alert_count"`
	NodeCount        int    `json:"node_count"`
	ClaimLabel       string `json:"claim_label"`
	Recommendation   string `json:"recommendation"`
	TraversalPath    string `json:"traversal_path"`
	VerificationPath string `json:"verification_path"`
	LedgerPath       string `json:"ledger_path"`
	ReportPath       string `json:"report_path"`
}

// RunResult is the overall outcome of one pipeline run.
type RunResult struct {
	Batch          *models.BatchResult `json:"batch"`
	AdmittedCount  int                 `json:"admitted_count"`
	DedupRemoved   int                 `json:"dedup_removed"`
	Gates          []GateOutcome       `json:"gates"`
	HaltedAt       string              `json:"halted_at,omitempty"`
	Campaigns      []CampaignResult    `json:"campaigns"`
	ManifestPath   string              `json:"manifest_path,omitempty"`
	DatasetHash    string              `json:"dataset_hash"`
}

// Runner wires the stages of one deployment together.
type Runner struct {
	triager  *triage.Triager
	ledger   *ledger.Ledger
	enricher Enricher
	chaser   LeadChaser
	narrator report.Narrator
	opts     Options
}

// NewRunner builds a runner. Nil enricher, chaser, and narrator degrade to
// their no-op and deterministic fallbacks.
func NewRunner(tr *triage.Triager, led *ledger.Ledger, enricher Enricher, chaser LeadChaser, narrator report.Narrator, opts Options) *Runner {
	if enricher == nil {
		enricher = NoopEnricher{}
	}
	if chaser == nil {
		chaser = NoopChaser{}
	}
	return &Runner{
		triager:  tr,
		ledger:   led,
		enricher: enricher,
		chaser:   chaser,
		narrator: narrator,
		opts:     opts,
	}
}

// Run executes the full pipeline over one raw batch.
func (r *Runner) Run(raw []map[string]interface{}) (*RunResult, error) {
	result := &RunResult{DatasetHash: canonical.HashPayload(raw)}

	batch, err := r.triager.ClassifyBatch(raw)
	if err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}
	result.Batch = batch

	events := make([]models.Event, len(raw))
	for i, m := range raw {
		events[i] = models.EventFromMap(m)
	}
	admitted := batch.Admitted(events)
	admitted, result.DedupRemoved = Deduplicate(admitted)
	result.AdmittedCount = len(admitted)
	logger.Infof("Admitted %d events into evidence graph (%d duplicates removed)",
		result.AdmittedCount, result.DedupRemoved)

	world := evidence.NewGraph()
	for _, e := range admitted {
		evidence.AddToGraph(world, evidence.AlertFromEvent(e))
	}
	meta := evidence.BuildMeta(admitted)

	state := arv.State{PhiPrev: SeedPhiPrev}

	if halted := r.gate(world, &state, GateGraphBuild, false, result); halted {
		return result, nil
	}

	if err := r.enricher.Enrich(world); err != nil {
		logger.Warnf("Enrichment failed, continuing with unenriched graph: %v", err)
	}
	if halted := r.gate(world, &state, GateEnrichment, false, result); halted {
		return result, nil
	}

	if err := r.chaser.Chase(world); err != nil {
		logger.Warnf("Lead chase failed, continuing: %v", err)
	}
	if halted := r.gate(world, &state, GateLeadChase, r.opts.ThrottleOKAtFinalGate, result); halted {
		return result, nil
	}

	if err := r.emitCampaigns(world, meta, result); err != nil {
		return nil, err
	}
	if err := r.writeManifest(result); err != nil {
		return nil, err
	}
	return result, nil
}

// gate evaluates one kernel checkpoint, records it in the evidence ledger,
// and reports whether the pipeline must stop here.
func (r *Runner) gate(world *evidence.Graph, state *arv.State, name string, throttleOK bool, result *RunResult) bool {
	phi := world.NumNodes()
	roots := gateRoots[name]
	decision := arv.Evaluate(phi, *state, roots[0], roots[1], r.opts.ARV)
	state.Advance(phi, decision)

	result.Gates = append(result.Gates, GateOutcome{Gate: name, Phi: phi, Decision: decision})
	metrics.GateActions.WithLabelValues(name, decision.Action).Inc()

	if _, err := r.ledger.Append(ledger.TypeARVGate, map[string]interface{}{
		"gate":    name,
		"phi":     phi,
		"action":  decision.Action,
		"reason":  decision.Reason,
		"metrics": floatMap(decision.Metrics),
		"root_a":  roots[0],
		"root_b":  roots[1],
	}); err != nil {
		logger.Errorf("Failed to record gate %s: %v", name, err)
	}

	switch decision.Action {
	case arv.ActionExecute:
		return false
	case arv.ActionThrottle:
		if throttleOK {
			logger.Warnf("Gate %s throttled (%s), proceeding to reporting", name, decision.Reason)
			return false
		}
	}
	logger.Warnf("Gate %s stopped the run: %s (%s)", name, decision.Action, decision.Reason)
	result.HaltedAt = name
	return true
}

// emitCampaigns isolates connected components and writes the per-campaign
// artifact set.
func (r *Runner) emitCampaigns(world *evidence.Graph, meta map[string]evidence.Meta, result *RunResult) error {
	if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for idx, comp := range world.Components() {
		campaign := idx + 1
		sub := world.Subgraph(comp)

		trav := traversal.Analyze(sub, meta, campaign, r.opts.Traversal)
		ver := verify.Verify(sub, meta, campaign, r.opts.Verify)
		facts := report.CollectFacts(sub)
		summary := report.Summarize(r.narrator, sub)

		rootCause := ""
		if len(trav.RCATop) > 0 {
			rootCause = trav.RCATop[0].Alert
		}
		assessment := report.Assessment{
			CampaignIndex:  campaign,
			Facts:          facts,
			Summary:        summary,
			ClaimLabel:     ver.Decision.ClaimLabel,
			ClaimReason:    ver.Decision.Reason,
			Recommendation: trav.BlastRadius.Recommendation,
			RootCause:      rootCause,
		}

		cr := CampaignResult{
			Index:          campaign,
			AlertCount:     len(sub.NodesOfType(evidence.TypeAlert)),
			NodeCount:      sub.NumNodes(),
			ClaimLabel:     ver.Decision.ClaimLabel,
			Recommendation: trav.BlastRadius.Recommendation,
		}

		cr.TraversalPath = r.artifactPath("traversal_campaign_%d.json", campaign)
		if err := writeJSONArtifact(cr.TraversalPath, trav); err != nil {
			return err
		}
		cr.VerificationPath = r.artifactPath("verification_campaign_%d.json", campaign)
		if err := writeJSONArtifact(cr.VerificationPath, ver); err != nil {
			return err
		}

		audit := make([]report.GateRecord, 0, len(result.Gates)+1)
		for _, g := range result.Gates {
			audit = append(audit, report.GateRecord{
				Gate:    g.Gate,
				Action:  g.Decision.Action,
				Reason:  g.Decision.Reason,
				Phi:     g.Phi,
				Metrics: g.Decision.Metrics,
			})
		}
		audit = append(audit, report.GateRecord{Gate: "campaign_isolation", Action: arv.ActionExecute, Phi: len(comp)})

		cr.LedgerPath = r.artifactPath("forensic_ledger_campaign_%d.json", campaign)
		claims := map[string]string{"channel_independence": ver.Decision.ClaimLabel}
		if err := report.ExportCampaignLedger(cr.LedgerPath, sub.Triples(), summary, audit, claims); err != nil {
			return err
		}

		cr.ReportPath = r.artifactPath("Forensic_Assessment_Campaign_%d.md", campaign)
		if err := os.WriteFile(cr.ReportPath, []byte(assessment.Render()), 0o644); err != nil {
			return fmt.Errorf("write assessment report: %w", err)
		}

		result.Campaigns = append(result.Campaigns, cr)
		logger.Infof("Campaign %d: %d alerts, claim=%s, recommendation=%s",
			campaign, cr.AlertCount, cr.ClaimLabel, cr.Recommendation)
	}
	return nil
}

// Manifest pins a run's outputs: the input dataset hash, the parameters in
// force, and a digest per artifact.
type Manifest struct {
	GeneratedAt string                 `json:"generated_at"`
	DatasetHash string                 `json:"dataset_hash"`
	Profile     map[string]interface{} `json:"profile_parameters"`
	Artifacts   []ManifestEntry        `json:"artifacts"`
}

// ManifestEntry is one artifact digest.
type ManifestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

func (r *Runner) writeManifest(result *RunResult) error {
	manifest := Manifest{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		DatasetHash: result.DatasetHash,
		Profile: map[string]interface{}{
			"entropy_ceiling":     r.opts.Triage.EntropyCeiling,
			"entropy_floor":       r.opts.Triage.EntropyFloor,
			"phi_limit":           r.opts.ARV.PhiLimit,
			"beta":                r.opts.ARV.Beta,
			"tau":                 r.opts.ARV.Tau,
			"rate_norm":           r.opts.ARV.RateNorm,
			"tau_blast_seconds":   r.opts.Traversal.TauBlastSeconds,
			"max_counterfactuals": r.opts.Traversal.MaxCounterfactuals,
			"permutations":        r.opts.Verify.Permutations,
			"bootstraps":          r.opts.Verify.Bootstraps,
			"alpha_significance":  r.opts.Verify.Significance,
			"smoothing_alpha":     r.opts.Verify.Smoothing,
		},
	}

	for _, c := range result.Campaigns {
		for _, path := range []string{c.TraversalPath, c.VerificationPath, c.LedgerPath, c.ReportPath} {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read artifact for manifest: %w", err)
			}
			manifest.Artifacts = append(manifest.Artifacts, ManifestEntry{
				Path:   filepath.Base(path),
				SHA256: canonical.SHA256Hex(data),
			})
		}
	}

	result.ManifestPath = filepath.Join(r.opts.OutputDir, "manifest.json")
	return writeJSONArtifact(result.ManifestPath, manifest)
}

func (r *Runner) artifactPath(format string, campaign int) string {
	return filepath.Join(r.opts.OutputDir, fmt.Sprintf(format, campaign))
}

func writeJSONArtifact(path string, v interface{}) error {
	data, err := canonical.MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func floatMap(m map[string]float64) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
