package econometrics

import (
	"math"
	"sort"

	"minwage/domain/core"
)

// factorCodes is a categorical column encoded to dense integer levels
type factorCodes struct {
	name   string
	codes  []int
	labels []string
}

func encode(name string, levels []string) factorCodes {
	index := make(map[string]int)
	f := factorCodes{name: name, codes: make([]int, len(levels))}
	for i, l := range levels {
		c, ok := index[l]
		if !ok {
			c = len(f.labels)
			index[l] = c
			f.labels = append(f.labels, l)
		}
		f.codes[i] = c
	}
	return f
}

func (f factorCodes) numLevels() int { return len(f.labels) }

// subset re-encodes the factor on kept rows
func (f factorCodes) subset(keep []int) factorCodes {
	levels := make([]string, len(keep))
	for i, r := range keep {
		levels[i] = f.labels[f.codes[r]]
	}
	return encode(f.name, levels)
}

// PruneReport counts rows and levels removed by degenerate-level pruning
type PruneReport struct {
	ZeroWeightRows  int
	SingletonRows   int
	SingleClassRows int
	DroppedLevels   map[string]int
	Iterations      int
}

// Rows returns the total number of pruned rows
func (p PruneReport) Rows() int {
	return p.ZeroWeightRows + p.SingletonRows + p.SingleClassRows
}

// prune returns the rows kept after iteratively removing zero-weight rows,
// singleton levels and levels with a constant outcome. Removing one level can
// create another degenerate level in a different factor, so the pass repeats
// until nothing changes.
func prune(y, w []float64, factors []factorCodes, singletons, singleClass bool) ([]int, PruneReport) {
	n := len(y)
	alive := make([]bool, n)
	report := PruneReport{DroppedLevels: make(map[string]int)}
	for i := 0; i < n; i++ {
		if w[i] > 0 && !math.IsNaN(y[i]) {
			alive[i] = true
		} else {
			report.ZeroWeightRows++
		}
	}

	for changed := len(factors) > 0; changed; {
		changed = false
		report.Iterations++
		for _, f := range factors {
			L := f.numLevels()
			count := make([]int, L)
			lo := make([]float64, L)
			hi := make([]float64, L)
			for l := range lo {
				lo[l], hi[l] = math.Inf(1), math.Inf(-1)
			}
			for i := 0; i < n; i++ {
				if !alive[i] {
					continue
				}
				c := f.codes[i]
				count[c]++
				lo[c] = math.Min(lo[c], y[i])
				hi[c] = math.Max(hi[c], y[i])
			}
			dropped := make([]bool, L)
			for l := 0; l < L; l++ {
				if count[l] == 0 {
					continue
				}
				if singletons && count[l] == 1 {
					dropped[l] = true
				} else if singleClass && count[l] > 1 && lo[l] == hi[l] {
					dropped[l] = true
				}
			}
			for _, d := range dropped {
				if d {
					report.DroppedLevels[f.name]++
				}
			}
			for i := 0; i < n; i++ {
				if alive[i] && dropped[f.codes[i]] {
					alive[i] = false
					changed = true
					if count[f.codes[i]] == 1 {
						report.SingletonRows++
					} else {
						report.SingleClassRows++
					}
				}
			}
		}
	}

	keep := make([]int, 0, n)
	for i, a := range alive {
		if a {
			keep = append(keep, i)
		}
	}
	return keep, report
}

// absorber removes weighted fixed-effect means by alternating projections.
// With a single factor one sweep is the exact within transformation.
type absorber struct {
	factors []factorCodes
	w       []float64
	maxIter int
	tol     float64

	sumW [][]float64
}

func newAbsorber(factors []factorCodes, w []float64, maxIter int, tol float64) *absorber {
	a := &absorber{factors: factors, w: w, maxIter: maxIter, tol: tol}
	a.sumW = make([][]float64, len(factors))
	for fi, f := range factors {
		s := make([]float64, f.numLevels())
		for i, c := range f.codes {
			s[c] += w[i]
		}
		a.sumW[fi] = s
	}
	return a
}

// dof returns the number of parameters absorbed, assuming connected factors
func (a *absorber) dof() int {
	if len(a.factors) == 0 {
		return 0
	}
	total := 0
	for _, f := range a.factors {
		total += f.numLevels()
	}
	return total - (len(a.factors) - 1)
}

// demean transforms v in place and returns the number of sweeps used
func (a *absorber) demean(v []float64) (int, error) {
	if len(a.factors) == 0 {
		return 0, nil
	}
	scale := 0.0
	for _, x := range v {
		scale = math.Max(scale, math.Abs(x))
	}
	if scale == 0 {
		return 0, nil
	}
	for iter := 1; iter <= a.maxIter; iter++ {
		delta := 0.0
		for fi, f := range a.factors {
			means := make([]float64, f.numLevels())
			for i, c := range f.codes {
				means[c] += a.w[i] * v[i]
			}
			for l := range means {
				if a.sumW[fi][l] > 0 {
					means[l] /= a.sumW[fi][l]
				}
			}
			for i, c := range f.codes {
				v[i] -= means[c]
				delta = math.Max(delta, math.Abs(means[c]))
			}
		}
		if len(a.factors) == 1 || delta <= a.tol*scale {
			return iter, nil
		}
	}
	return a.maxIter, core.NewInsufficientDataError("fixed-effect absorption did not converge in %d iterations", a.maxIter)
}

// centre removes the weighted mean when no factor is absorbed, acting as
// the intercept
func centre(v, w []float64) {
	sw, s := 0.0, 0.0
	for i := range v {
		sw += w[i]
		s += w[i] * v[i]
	}
	if sw == 0 {
		return
	}
	m := s / sw
	for i := range v {
		v[i] -= m
	}
}

func sortedLevelNames(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
