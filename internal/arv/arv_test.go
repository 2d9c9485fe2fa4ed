package arv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainViolationAlwaysHalts(t *testing.T) {
	opts := DefaultOptions()

	d := Evaluate(0, State{PhiPrev: 10}, "a", "b", opts)
	require.Equal(t, ActionHalt, d.Action)
	require.Equal(t, ReasonDomainViolation, d.Reason)

	d = Evaluate(5, State{PhiPrev: 0}, "a", "b", opts)
	require.Equal(t, ActionHalt, d.Action)

	// HALT wins even when the phi limit would also trip.
	d = Evaluate(-1, State{PhiPrev: 1000}, "a", "b", Options{PhiLimit: 1, Beta: 0, Tau: 1})
	require.Equal(t, ActionHalt, d.Action)
}

func TestPhiLimitRollbackPrecedesBudget(t *testing.T) {
	// Budget and correlation would pass; the limit alone forces ROLLBACK.
	opts := Options{PhiLimit: 10, Beta: 100, Tau: 0, RateNorm: DefaultRateNorm}
	d := Evaluate(11, State{PhiPrev: 11}, "a", "b", opts)
	require.Equal(t, ActionRollback, d.Action)
	require.Equal(t, ReasonPhiLimit, d.Reason)
	require.Equal(t, 11.0, d.Metrics["phi_curr"])
}

func TestBudgetRollback(t *testing.T) {
	opts := Options{PhiLimit: 1000, Beta: 0.5, Tau: 0, RateNorm: DefaultRateNorm}
	// ln(100) - ln(10) = ln(10) ~ 2.3 > 0.5.
	d := Evaluate(100, State{PhiPrev: 10, DPlus: 0}, "a", "b", opts)
	require.Equal(t, ActionRollback, d.Action)
	require.Equal(t, ReasonBudgetExceeded, d.Reason)
	require.InDelta(t, math.Log(10), d.Metrics["d_plus"], 1e-9)
}

func TestShrinkingGraphConsumesNoBudget(t *testing.T) {
	require.InDelta(t, 1.5, DPlus(1.5, 5, 50), 1e-9)
	require.InDelta(t, 1.5+math.Log(2), DPlus(1.5, 100, 50), 1e-9)
}

func TestIdenticalRootsThrottle(t *testing.T) {
	// Identical roots XOR to zero: v2(0)=64, dist_2 = 2^-64 < any sane tau.
	opts := Options{PhiLimit: 1000, Beta: 100, Tau: 0.1, RateNorm: DefaultRateNorm}
	d := Evaluate(10, State{PhiPrev: 10}, "same root", "same root", opts)
	require.Equal(t, ActionThrottle, d.Action)
	require.Equal(t, ReasonCorrelationRisk, d.Reason)
	require.InDelta(t, math.Pow(2, -64), d.Metrics["dist_2"], 0)
}

func TestDist2IndependentRoots(t *testing.T) {
	// Independent strings almost surely differ in the low bit: dist_2 is
	// 1 or 0.5 with overwhelming probability, and always in (0, 1].
	d := Dist2("init_A", "init_B")
	require.Greater(t, d, 0.0)
	require.LessOrEqual(t, d, 1.0)
	require.Equal(t, d, Dist2("init_A", "init_B")) // deterministic
}

func TestExecuteAdvancesState(t *testing.T) {
	opts := DefaultOptions()
	st := State{PhiPrev: 12, DPlus: 0}
	d := Evaluate(20, st, "init_A", "init_B", opts)
	require.Equal(t, ActionExecute, d.Action)
	require.Equal(t, ReasonPassed, d.Reason)
	require.InDelta(t, math.Log(20.0/12.0), d.Metrics["d_plus"], 1e-9)
	require.Equal(t, 20.0, d.Metrics["phi_star"])

	st.Advance(20, d)
	require.Equal(t, 20, st.PhiPrev)
	require.InDelta(t, math.Log(20.0/12.0), st.DPlus, 1e-9)
}

func TestNonExecuteLeavesStateUntouched(t *testing.T) {
	st := State{PhiPrev: 10, DPlus: 1}
	st.Advance(0, Decision{Action: ActionHalt})
	require.Equal(t, 10, st.PhiPrev)
	require.Equal(t, 1.0, st.DPlus)
}

func TestV2Convention(t *testing.T) {
	require.Equal(t, 64, v2(0))
	require.Equal(t, 0, v2(1))
	require.Equal(t, 3, v2(8))
	require.Equal(t, 1, v2(6))
}
