package econometrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"minwage/domain/core"
	"minwage/domain/estimation"
	domainPanel "minwage/domain/panel"
	"minwage/domain/policy"
)

// RDDConfig configures a sharp regression discontinuity at x = 0
type RDDConfig struct {
	Kernel Kernel `yaml:"kernel"`
	Order  int    `yaml:"order"`
	// Bandwidth is used as given when positive, otherwise selected by IK
	Bandwidth float64 `yaml:"bandwidth"`
	// ClusterRunning clusters standard errors on the running variable value
	ClusterRunning bool    `yaml:"cluster_running"`
	Level          float64 `yaml:"level"`
	// From and To restrict the sample to dates in [From, To)
	From time.Time `yaml:"-"`
	To   time.Time `yaml:"-"`
}

// DefaultRDDConfig is local-linear with a triangular kernel
func DefaultRDDConfig() RDDConfig {
	return RDDConfig{Kernel: KernelTriangular, Order: 1, Level: 0.95}
}

// RDDInput holds the centred running variable, outcome, weights and dates
type RDDInput struct {
	Event   string
	Outcome string
	X       []float64
	Y       []float64
	W       []float64
	Dates   []time.Time
}

// RDDInputFromObservations centres age on the event threshold. Observations
// with an undefined outcome, no date or no positive weight are skipped.
func RDDInputFromObservations(p *domainPanel.Panel, e policy.Event, outcome string) (RDDInput, core.Warnings, error) {
	in := RDDInput{Event: e.Name, Outcome: outcome}
	var warnings core.Warnings
	skipped := 0
	for _, o := range p.Observations {
		ind, ok := o.Outcome(outcome)
		if !ok {
			return in, nil, core.NewInvalidInputError("unknown outcome %s", outcome)
		}
		y, defined := ind.Float()
		d, dated := o.Date()
		if !defined || !dated || !o.Weight.Present || o.Weight.Num <= 0 {
			skipped++
			continue
		}
		in.X = append(in.X, float64(o.Age-e.AgeThreshold))
		in.Y = append(in.Y, y)
		in.W = append(in.W, o.Weight.Num)
		in.Dates = append(in.Dates, d)
	}
	if skipped > 0 {
		warnings.Add(core.WarningDroppedRows, skipped, "observations without %s, date or weight excluded from RDD", outcome)
	}
	return in, warnings, nil
}

// RDDInputFromCells uses cell rates weighted by their weight sums
func RDDInputFromCells(cells []estimation.Cell, e policy.Event, outcome string) RDDInput {
	in := RDDInput{Event: e.Name, Outcome: outcome}
	for _, c := range cells {
		r := c.Rate(outcome)
		if !r.Defined || r.WeightSum <= 0 {
			continue
		}
		in.X = append(in.X, float64(c.Key.Age-e.AgeThreshold))
		in.Y = append(in.Y, r.Value)
		in.W = append(in.W, r.WeightSum)
		in.Dates = append(in.Dates, c.Key.Period)
	}
	return in
}

// RDD estimates the jump lim_{x->0+} E[y|x] - lim_{x->0-} E[y|x] with
// separate kernel-weighted local polynomials on each side
func RDD(in RDDInput, cfg RDDConfig) (*estimation.RDDResult, error) {
	if cfg.Kernel == "" {
		cfg.Kernel = KernelTriangular
	}
	if !cfg.Kernel.Valid() {
		return nil, core.NewInvalidInputError("unknown kernel %q", cfg.Kernel)
	}
	if cfg.Order <= 0 {
		cfg.Order = 1
	}
	if cfg.Level <= 0 || cfg.Level >= 1 {
		cfg.Level = 0.95
	}
	if len(in.Y) != len(in.X) || (in.W != nil && len(in.W) != len(in.X)) || (in.Dates != nil && len(in.Dates) != len(in.X)) {
		return nil, core.NewInvalidInputError("RDD input columns have different lengths")
	}

	res := &estimation.RDDResult{Event: in.Event, Outcome: in.Outcome, Kernel: string(cfg.Kernel), Order: cfg.Order}
	var x, y, w []float64
	for i := range in.X {
		if in.Dates != nil {
			d := in.Dates[i]
			if (!cfg.From.IsZero() && d.Before(cfg.From)) || (!cfg.To.IsZero() && !d.Before(cfg.To)) {
				continue
			}
		}
		wi := 1.0
		if in.W != nil {
			wi = in.W[i]
		}
		if wi <= 0 || math.IsNaN(in.Y[i]) || math.IsNaN(in.X[i]) {
			continue
		}
		x = append(x, in.X[i])
		y = append(y, in.Y[i])
		w = append(w, wi)
	}
	left, right := distinctAbs(x, true), distinctAbs(x, false)
	need := cfg.Order + 2
	if len(left) < need || len(right) < need {
		return nil, core.NewInsufficientDataError("order %d fit needs %d distinct points per side, have %d and %d", cfg.Order, need, len(left), len(right))
	}

	h := cfg.Bandwidth
	res.BandwidthSource = "manual"
	if h <= 0 {
		ik, err := IKBandwidth(x, y, cfg.Kernel)
		if err != nil {
			return nil, fmt.Errorf("bandwidth selection: %w", err)
		}
		h = ik
		res.BandwidthSource = "ik"
	}
	if widened := minimumSupport(left, right, need); widened > h {
		res.Warnings.Add(core.WarningBandwidthWidened, 0, "bandwidth %.4g widened to %.4g for %d distinct points per side", h, widened, need)
		h = widened
	}
	res.Bandwidth = h

	fl, err := localFit(x, y, w, h, cfg, true)
	if err != nil {
		return nil, err
	}
	fr, err := localFit(x, y, w, h, cfg, false)
	if err != nil {
		return nil, err
	}
	res.InterceptLeft, res.InterceptRight = fl.intercept, fr.intercept
	res.NLeft, res.NRight = fl.n, fr.n
	res.Estimate = fr.intercept - fl.intercept
	v := fl.variance + fr.variance
	if !(v > 0) {
		return nil, fmt.Errorf("%w: RDD intercept variance %g", core.ErrUnreliableVariance, v)
	}
	res.StdErr = math.Sqrt(v)
	res.ZStat = res.Estimate / res.StdErr
	res.PValue = TwoSidedNormal(res.ZStat)
	z := NormalQuantile(1 - (1-cfg.Level)/2)
	res.CILow = res.Estimate - z*res.StdErr
	res.CIHigh = res.Estimate + z*res.StdErr
	return res, nil
}

// distinctAbs returns the sorted distinct distances to the cutoff on one side
func distinctAbs(x []float64, leftSide bool) []float64 {
	seen := make(map[float64]struct{})
	for _, v := range x {
		if (v < 0) == leftSide {
			seen[math.Abs(v)] = struct{}{}
		}
	}
	out := make([]float64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

// minimumSupport is the smallest bandwidth giving need distinct points with
// positive kernel weight on each side: midway past the need-th distance
func minimumSupport(left, right []float64, need int) float64 {
	h := 0.0
	for _, side := range [][]float64{left, right} {
		d := side[need-1]
		next := d * 1.5
		if need < len(side) {
			next = (d + side[need]) / 2
		}
		h = math.Max(h, next)
	}
	return h
}

type sideEstimate struct {
	n         int
	intercept float64
	variance  float64
}

func localFit(x, y, w []float64, h float64, cfg RDDConfig, leftSide bool) (sideEstimate, error) {
	var rows [][]float64
	var ys, ws, xs []float64
	for i, v := range x {
		if (v < 0) != leftSide {
			continue
		}
		kw := cfg.Kernel.Weight(v / h)
		if kw <= 0 {
			continue
		}
		row := make([]float64, cfg.Order+1)
		p := 1.0
		for j := range row {
			row[j] = p
			p *= v
		}
		rows = append(rows, row)
		ys = append(ys, y[i])
		ws = append(ws, kw*w[i])
		xs = append(xs, v)
	}
	k := cfg.Order + 1
	n := len(rows)
	if n <= k {
		return sideEstimate{}, core.NewInsufficientDataError("%d points within bandwidth %.4g for order %d", n, h, cfg.Order)
	}
	xm := mat.NewDense(n, k, nil)
	for i, r := range rows {
		xm.SetRow(i, r)
	}
	beta, bread, ok := solveWLS(xm, ws, ys)
	if !ok {
		return sideEstimate{}, fmt.Errorf("%w: local polynomial normal equations are singular", core.ErrRankDeficientDesign)
	}
	e := residuals(xm, ys, beta)

	var cov *mat.SymDense
	if cfg.ClusterRunning {
		labels := make([]string, n)
		for i, v := range xs {
			labels[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		c, err := clusterCov(xm, ws, e, bread, encode("running", labels))
		if err != nil {
			return sideEstimate{}, err
		}
		cov = c
	} else {
		cov = sandwich(bread, meatHC(xm, ws, e), float64(n)/float64(n-k))
	}
	return sideEstimate{n: n, intercept: beta[0], variance: cov.At(0, 0)}, nil
}
