// Package verify implements the channel-independence verification stage:
// smoothed conditional mutual information over discrete channel series, a
// stratified permutation test, and a bootstrap confidence interval. The
// trial loops are parallelized with per-trial seeding so results do not
// depend on scheduling.
package verify

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// DiscreteCMI estimates I(X;Y|Z) in bits with Laplace smoothing alpha over
// the full support product of the observed symbol sets. The estimate is
// floored at zero.
func DiscreteCMI(x, y, z []int, alpha float64) float64 {
	n := len(x)
	if n == 0 || len(y) != n || len(z) != n {
		return 0
	}

	xs := distinct(x)
	ys := distinct(y)
	zs := distinct(z)

	kXYZ := len(xs) * len(ys) * len(zs)
	if kXYZ < 1 {
		kXYZ = 1
	}
	denom := float64(n) + alpha*float64(kXYZ)

	type triple struct{ x, y, z int }
	counts := make(map[triple]int, n)
	for i := 0; i < n; i++ {
		counts[triple{x[i], y[i], z[i]}]++
	}

	// All accumulation walks the sorted supports in a fixed order. Float
	// addition is not associative, so map-order iteration would make the
	// last bits of the estimate vary between calls.
	type pair struct{ a, b int }
	pXYZ := make(map[triple]float64, kXYZ)
	pXZ := make(map[pair]float64)
	pYZ := make(map[pair]float64)
	pZ := make(map[int]float64)
	for _, zv := range zs {
		for _, xv := range xs {
			for _, yv := range ys {
				key := triple{xv, yv, zv}
				p := (float64(counts[key]) + alpha) / denom
				pXYZ[key] = p
				pXZ[pair{xv, zv}] += p
				pYZ[pair{yv, zv}] += p
				pZ[zv] += p
			}
		}
	}

	cmi := 0.0
	for _, zv := range zs {
		for _, xv := range xs {
			for _, yv := range ys {
				pxyz := pXYZ[triple{xv, yv, zv}]
				numerator := pxyz * pZ[zv]
				denominator := pXZ[pair{xv, zv}] * pYZ[pair{yv, zv}]
				if pxyz <= 0 || numerator <= 0 || denominator <= 0 {
					continue
				}
				cmi += pxyz * math.Log2(numerator/denominator)
			}
		}
	}
	if cmi < 0 {
		return 0
	}
	return cmi
}

// PermResult is the outcome of the stratified permutation test.
type PermResult struct {
	PValue       float64 `json:"p_value"`
	Permutations int     `json:"permutations"`
	NullMean     float64 `json:"null_mean"`
}

// PermutationTest estimates the p-value of the observed CMI against a null
// built by shuffling Y within each Z stratum, preserving the conditional
// marginals. The add-one correction keeps the p-value strictly positive.
func PermutationTest(x, y, z []int, observed float64, permutations int, alpha float64, seed int64, workers int) PermResult {
	if len(x) == 0 {
		return PermResult{PValue: 1.0}
	}
	if permutations < 1 {
		permutations = 1
	}

	strata := make(map[int][]int)
	for idx, zv := range z {
		strata[zv] = append(strata[zv], idx)
	}

	null := make([]float64, permutations)
	runTrials(permutations, workers, func(trial int) {
		rng := rand.New(rand.NewSource(seed + int64(trial)))
		perm := permuteWithinStrata(y, strata, rng)
		null[trial] = DiscreteCMI(x, perm, z, alpha)
	})

	ge := 0
	sum := 0.0
	for _, v := range null {
		sum += v
		if v >= observed {
			ge++
		}
	}
	return PermResult{
		PValue:       float64(1+ge) / float64(1+permutations),
		Permutations: permutations,
		NullMean:     sum / float64(permutations),
	}
}

// CI is a bootstrap percentile confidence interval.
type CI struct {
	Low  float64 `json:"ci_low"`
	High float64 `json:"ci_high"`
}

// BootstrapCI resamples the triples with replacement and returns the
// percentile 95% interval of the CMI estimate.
func BootstrapCI(x, y, z []int, bootstraps int, alpha float64, seed int64, workers int) CI {
	n := len(x)
	if n == 0 {
		return CI{}
	}
	if bootstraps < 1 {
		bootstraps = 1
	}

	draws := make([]float64, bootstraps)
	runTrials(bootstraps, workers, func(trial int) {
		rng := rand.New(rand.NewSource(seed + int64(trial)))
		xb := make([]int, n)
		yb := make([]int, n)
		zb := make([]int, n)
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			xb[i], yb[i], zb[i] = x[j], y[j], z[j]
		}
		draws[trial] = DiscreteCMI(xb, yb, zb, alpha)
	})

	sort.Float64s(draws)
	return CI{Low: quantile(draws, 0.025), High: quantile(draws, 0.975)}
}

// runTrials executes fn(0..n-1) across a small worker pool. Each trial
// writes only its own slot, so no synchronization beyond the WaitGroup is
// needed.
func runTrials(n, workers int, fn func(trial int)) {
	if workers <= 0 {
		workers = 4
	}
	if workers > n {
		workers = n
	}
	work := make(chan int, workers*4)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for trial := range work {
				fn(trial)
			}
		}()
	}
	for trial := 0; trial < n; trial++ {
		work <- trial
	}
	close(work)
	wg.Wait()
}

func permuteWithinStrata(y []int, strata map[int][]int, rng *rand.Rand) []int {
	out := append([]int(nil), y...)
	zs := make([]int, 0, len(strata))
	for zv := range strata {
		zs = append(zs, zv)
	}
	sort.Ints(zs)
	for _, zv := range zs {
		idxs := strata[zv]
		vals := make([]int, len(idxs))
		for i, idx := range idxs {
			vals[i] = out[idx]
		}
		rng.Shuffle(len(vals), func(i, j int) { vals[i], vals[j] = vals[j], vals[i] })
		for i, idx := range idxs {
			out[idx] = vals[i]
		}
	}
	return out
}

// quantile interpolates linearly between order statistics.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func distinct(values []int) []int {
	seen := make(map[int]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
