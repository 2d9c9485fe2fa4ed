// Package arv implements the resilience/verification decision kernel that
// gates pipeline progression. Evaluate is a pure function of the current
// evidence-graph cardinality, the kernel's running state, and two independent
// root outputs; its precedence chain is order-significant and must not be
// reordered.
package arv

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Actions, in precedence order of the checks that produce them.
const (
	ActionHalt     = "HALT"
	ActionRollback = "ROLLBACK"
	ActionThrottle = "THROTTLE"
	ActionExecute  = "EXECUTE"
)

// Reason codes attached to decisions.
const (
	ReasonDomainViolation = "DOMAIN_VIOLATION"
	ReasonPhiLimit        = "VERIFIABILITY_LIMIT_EXCEEDED"
	ReasonBudgetExceeded  = "VERIFICATION_EXPANSION_BUDGET_EXCEEDED"
	ReasonCorrelationRisk = "ROOT_CORRELATION_RISK"
	ReasonPassed          = "INVARIANTS_PASSED"
)

// Defaults for the conformance parameters.
const (
	DefaultBeta     = 2.0
	DefaultTau      = 0.1
	DefaultPhiLimit = 100

	// DefaultRateNorm names the norm used for rate-of-change style metrics.
	// The choice between "l1" and "l2" is deliberately an explicit parameter:
	// the governing formula never pinned one down, so profiles must.
	DefaultRateNorm = "l1"
)

// Options are the per-gate conformance parameters.
type Options struct {
	PhiLimit int
	Beta     float64
	Tau      float64
	RateNorm string
}

// DefaultOptions returns the canonical parameter set.
func DefaultOptions() Options {
	return Options{PhiLimit: DefaultPhiLimit, Beta: DefaultBeta, Tau: DefaultTau, RateNorm: DefaultRateNorm}
}

// State is the accumulator threaded through gate checkpoints. It is advanced
// only by a successful EXECUTE and discarded at run end; only the decisions
// themselves are persisted.
type State struct {
	PhiPrev int
	DPlus   float64
}

// Decision is the reported outcome of one gate evaluation.
type Decision struct {
	Action  string             `json:"action"`
	Reason  string             `json:"reason"`
	Metrics map[string]float64 `json:"metrics"`
}

// Evaluate runs the precedence chain:
//  1. domain violation (phi <= 0)           -> HALT
//  2. verifiability limit (phi > phi_limit) -> ROLLBACK
//  3. entropy budget (d_plus' > beta)       -> ROLLBACK
//  4. correlation risk (dist_2 < tau)       -> THROTTLE
//  5. otherwise                             -> EXECUTE with updated metrics
func Evaluate(phiCurr int, state State, rootA, rootB string, opts Options) Decision {
	if phiCurr <= 0 || state.PhiPrev <= 0 {
		return Decision{Action: ActionHalt, Reason: ReasonDomainViolation, Metrics: map[string]float64{}}
	}

	if phiCurr > opts.PhiLimit {
		return Decision{Action: ActionRollback, Reason: ReasonPhiLimit, Metrics: map[string]float64{
			"phi_curr": float64(phiCurr),
			"limit":    float64(opts.PhiLimit),
		}}
	}

	dPlusNext := DPlus(state.DPlus, phiCurr, state.PhiPrev)
	if dPlusNext > opts.Beta {
		return Decision{Action: ActionRollback, Reason: ReasonBudgetExceeded, Metrics: map[string]float64{
			"d_plus": dPlusNext,
			"beta":   opts.Beta,
		}}
	}

	dist := Dist2(rootA, rootB)
	if dist < opts.Tau {
		return Decision{Action: ActionThrottle, Reason: ReasonCorrelationRisk, Metrics: map[string]float64{
			"dist_2": dist,
			"tau":    opts.Tau,
		}}
	}

	return Decision{Action: ActionExecute, Reason: ReasonPassed, Metrics: map[string]float64{
		"d_plus":   dPlusNext,
		"dist_2":   dist,
		"phi_star": float64(phiCurr),
	}}
}

// Advance folds an EXECUTE decision back into the state. Non-EXECUTE
// decisions leave the state untouched.
func (s *State) Advance(phiCurr int, d Decision) {
	if d.Action != ActionExecute {
		return
	}
	s.PhiPrev = phiCurr
	s.DPlus = d.Metrics["d_plus"]
}

// DPlus accumulates the entropy-expansion budget:
// D+_{t+1} = D+_t + max(0, ln(phi_t) - ln(phi_{t-1})).
// Out-of-domain cardinalities contribute no gain.
func DPlus(dPlusPrev float64, phiCurr, phiPrev int) float64 {
	if phiCurr <= 0 || phiPrev <= 0 {
		return dPlusPrev
	}
	delta := math.Log(float64(phiCurr)) - math.Log(float64(phiPrev))
	return dPlusPrev + math.Max(0, delta)
}

// Dist2 is the 2-adic correlation-risk distance between two root outputs:
// SHA-256 each root, take the first 8 bytes big-endian, XOR, count trailing
// zero bits v (v(0) = 64), return 2^(-v).
func Dist2(rootA, rootB string) float64 {
	x := hash64(rootA) ^ hash64(rootB)
	return math.Pow(2, -float64(v2(x)))
}

func hash64(root string) uint64 {
	sum := sha256.Sum256([]byte(root))
	return binary.BigEndian.Uint64(sum[:8])
}

// v2 is the 2-adic valuation: the number of trailing zero bits, with the
// 64-bit convention v2(0) = 64.
func v2(x uint64) int {
	if x == 0 {
		return 64
	}
	zeros := 0
	for x&1 == 0 {
		x >>= 1
		zeros++
	}
	return zeros
}
