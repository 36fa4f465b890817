package econometrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"minwage/domain/core"
	"minwage/domain/estimation"
)

// DefaultConditionLimit is the condition number above which a covariance
// matrix is reported unreliable
const DefaultConditionLimit = 1e12

// VarianceSpec selects the covariance estimator of a fit
type VarianceSpec struct {
	Kind estimation.VarianceKind `yaml:"kind"`
	// Clusters names design cluster factors; one for cluster, two for twoway
	Clusters       []string `yaml:"clusters"`
	ConditionLimit float64  `yaml:"condition_limit"`
}

// Variance computes the coefficient covariance of the fit and its status
func (f *Fit) Variance(spec VarianceSpec) (*mat.SymDense, estimation.VarianceStatus, error) {
	status := estimation.VarianceStatus{Kind: spec.Kind}
	n, k := len(f.keep), len(f.beta)

	var cov *mat.SymDense
	switch spec.Kind {
	case estimation.VarianceIID, "":
		status.Kind = estimation.VarianceIID
		dof := f.ResidualDoF()
		if dof <= 0 {
			return nil, status, core.NewInsufficientDataError("no residual degrees of freedom")
		}
		cov = mat.NewSymDense(k, nil)
		cov.ScaleSym(f.rss/float64(dof), f.bread)
	case estimation.VarianceHetero:
		if n <= k {
			return nil, status, core.NewInsufficientDataError("%d rows for %d terms", n, k)
		}
		cov = sandwich(f.bread, meatHC(f.x, f.w, f.resid), float64(n)/float64(n-k))
	case estimation.VarianceCluster:
		c, err := f.clusterFactor(spec.Clusters, 0)
		if err != nil {
			return nil, status, err
		}
		v, err := clusterCov(f.x, f.w, f.resid, f.bread, c)
		if err != nil {
			return nil, status, err
		}
		cov = v
		status.Clusters = []string{c.name}
		status.NumClusters = []int{c.numLevels()}
	case estimation.VarianceTwoWay:
		a, err := f.clusterFactor(spec.Clusters, 0)
		if err != nil {
			return nil, status, err
		}
		b, err := f.clusterFactor(spec.Clusters, 1)
		if err != nil {
			return nil, status, err
		}
		v, err := twoWayCov(f.x, f.w, f.resid, f.bread, a, b)
		if err != nil {
			return nil, status, err
		}
		cov = v
		status.Clusters = []string{a.name, b.name}
		status.NumClusters = []int{a.numLevels(), b.numLevels()}
	default:
		return nil, status, core.NewInvalidInputError("unknown variance kind %q", spec.Kind)
	}

	limit := spec.ConditionLimit
	if limit <= 0 {
		limit = DefaultConditionLimit
	}
	describeVariance(&status, cov, limit)
	return cov, status, nil
}

// clusterFactor returns the i-th requested cluster key restricted to the
// fitted rows. Without names the design clusters are taken in order.
func (f *Fit) clusterFactor(names []string, i int) (factorCodes, error) {
	var name string
	switch {
	case i < len(names):
		name = names[i]
	case len(names) == 0 && i < len(f.design.Clusters):
		name = f.design.Clusters[i].Name
	default:
		return factorCodes{}, core.NewInvalidInputError("cluster key %d not specified", i+1)
	}
	for _, c := range f.design.Clusters {
		if c.Name == name {
			return encode(c.Name, c.Levels).subset(f.keep), nil
		}
	}
	for _, c := range f.design.FixedEffects {
		if c.Name == name {
			return encode(c.Name, c.Levels).subset(f.keep), nil
		}
	}
	return factorCodes{}, fmt.Errorf("%w: cluster key %s", core.ErrMissingVariable, name)
}

func meatHC(x *mat.Dense, w, e []float64) *mat.SymDense {
	s := make([]float64, len(e))
	for i := range e {
		u := w[i] * e[i]
		s[i] = u * u
	}
	return weightedGram(x, s)
}

// meatCluster sums scores w*e*x within clusters and returns S'S
func meatCluster(x *mat.Dense, w, e []float64, c factorCodes) *mat.SymDense {
	_, k := x.Dims()
	scores := mat.NewDense(c.numLevels(), k, nil)
	for i, g := range c.codes {
		u := w[i] * e[i]
		row := x.RawRowView(i)
		dst := scores.RawRowView(g)
		for j := range row {
			dst[j] += u * row[j]
		}
	}
	var m mat.SymDense
	m.SymOuterK(1, scores.T())
	return &m
}

// clusterCov is the one-way cluster-robust sandwich with the
// G/(G-1)*(n-1)/(n-k) small-sample factor
func clusterCov(x *mat.Dense, w, e []float64, bread *mat.SymDense, c factorCodes) (*mat.SymDense, error) {
	n, k := x.Dims()
	g := c.numLevels()
	if g < 2 {
		return nil, core.NewInsufficientDataError("cluster key %s has %d cluster", c.name, g)
	}
	if n <= k {
		return nil, core.NewInsufficientDataError("%d rows for %d terms", n, k)
	}
	adj := float64(g) / float64(g-1) * float64(n-1) / float64(n-k)
	return sandwich(bread, meatCluster(x, w, e, c), adj), nil
}

// twoWayCov combines V_a + V_b - V_ab, where ab clusters on the
// intersection of both keys
func twoWayCov(x *mat.Dense, w, e []float64, bread *mat.SymDense, a, b factorCodes) (*mat.SymDense, error) {
	va, err := clusterCov(x, w, e, bread, a)
	if err != nil {
		return nil, err
	}
	vb, err := clusterCov(x, w, e, bread, b)
	if err != nil {
		return nil, err
	}
	vab, err := clusterCov(x, w, e, bread, intersect(a, b))
	if err != nil {
		return nil, err
	}
	var out mat.SymDense
	out.AddSym(va, vb)
	k := out.SymmetricDim()
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			out.SetSym(i, j, out.At(i, j)-vab.At(i, j))
		}
	}
	return &out, nil
}

func intersect(a, b factorCodes) factorCodes {
	levels := make([]string, len(a.codes))
	for i := range a.codes {
		levels[i] = a.labels[a.codes[i]] + "\x1f" + b.labels[b.codes[i]]
	}
	return encode(a.name+"#"+b.name, levels)
}

// describeVariance fills rank, condition and reliability from the spectrum
func describeVariance(status *estimation.VarianceStatus, cov mat.Symmetric, limit float64) {
	s := symSpectrum(cov)
	status.Rank = s.rank
	status.Condition = s.condition
	k := cov.SymmetricDim()
	switch {
	case !s.finite:
		status.Reason = "covariance has non-finite entries"
	case s.rank < k:
		status.Reason = fmt.Sprintf("covariance rank %d below dimension %d", s.rank, k)
	case s.min <= 0:
		status.Reason = fmt.Sprintf("covariance not positive definite (smallest eigenvalue %g)", s.min)
	case s.condition > limit:
		status.Reason = fmt.Sprintf("covariance condition number %.3g exceeds %.3g", s.condition, limit)
	default:
		status.Reliable = true
	}
}

// testDoF returns the degrees of freedom of coefficient t tests: G-1 for
// clustered variance, the residual degrees of freedom otherwise
func testDoF(status estimation.VarianceStatus, residual int) float64 {
	if len(status.NumClusters) > 0 {
		g := status.NumClusters[0]
		for _, c := range status.NumClusters[1:] {
			g = min(g, c)
		}
		return float64(g - 1)
	}
	return math.Max(float64(residual), 1)
}
