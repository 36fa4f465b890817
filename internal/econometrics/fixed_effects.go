package econometrics

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"minwage/domain/core"
	"minwage/domain/estimation"
)

// Limits bound the size of a single estimation call
type Limits struct {
	MaxRows              int `yaml:"max_rows"`
	MaxTerms             int `yaml:"max_terms"`
	MaxFixedEffectLevels int `yaml:"max_fixed_effect_levels"`
	// MaxDesignCells caps rows*terms of the dense design matrix
	MaxDesignCells int `yaml:"max_design_cells"`
}

// DefaultLimits returns limits suitable for a few million survey rows
func DefaultLimits() Limits {
	return Limits{
		MaxRows:              20_000_000,
		MaxTerms:             500,
		MaxFixedEffectLevels: 1_000_000,
		MaxDesignCells:       200_000_000,
	}
}

// Options control fixed-effect absorption and pruning
type Options struct {
	MaxIter int
	Tol     float64
	// CollinearTol is the relative residual norm below which a column is
	// treated as a linear combination of earlier columns or fixed effects
	CollinearTol    float64
	DropSingletons  bool
	DropSingleClass bool
	Limits          Limits
}

// DefaultOptions returns the estimator defaults
func DefaultOptions() Options {
	return Options{
		MaxIter:         10_000,
		Tol:             1e-10,
		CollinearTol:    1e-8,
		DropSingletons:  true,
		DropSingleClass: true,
		Limits:          DefaultLimits(),
	}
}

// Fit is a fitted weighted least squares model with absorbed fixed effects.
// Call Result to attach a covariance estimator.
type Fit struct {
	design *estimation.Design
	opts   Options

	keep     []int
	x        *mat.Dense
	y        []float64
	w        []float64
	terms    []estimation.Term
	dropped  []string
	beta     []float64
	bread    *mat.SymDense
	resid    []float64
	absorbed int
	rss      float64
	tss      float64
	warnings core.Warnings
}

// FitFE estimates coefficients of the explicit design terms after absorbing
// every fixed effect. Degenerate fixed-effect levels are pruned and reported
// and collinear terms are dropped with a warning.
func FitFE(d *estimation.Design, opts Options) (*Fit, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := checkCapacity(d, opts.Limits); err != nil {
		return nil, err
	}
	if len(d.Terms) == 0 {
		return nil, core.NewInvalidInputError("design for %s has no terms", d.Outcome)
	}
	n := d.Rows()
	w := d.Weights
	if w == nil {
		w = make([]float64, n)
		for i := range w {
			w[i] = 1
		}
	}

	warnings := append(core.Warnings{}, d.Warnings...)

	// rows with non-finite regressors are unusable
	y := make([]float64, n)
	copy(y, d.Y)
	for i := 0; i < n; i++ {
		for _, t := range d.Terms {
			if v := t.Values[i]; math.IsNaN(v) || math.IsInf(v, 0) {
				y[i] = math.NaN()
			}
		}
		if math.IsInf(y[i], 0) || math.IsNaN(w[i]) {
			y[i] = math.NaN()
		}
	}

	factors := make([]factorCodes, len(d.FixedEffects))
	for i, f := range d.FixedEffects {
		factors[i] = encode(f.Name, f.Levels)
	}
	keep, report := prune(y, w, factors, opts.DropSingletons, opts.DropSingleClass)
	if report.ZeroWeightRows > 0 {
		warnings.Add(core.WarningDroppedRows, report.ZeroWeightRows, "rows with zero weight or missing values dropped")
	}
	if pruned := report.SingletonRows + report.SingleClassRows; pruned > 0 {
		var parts []string
		for _, name := range sortedLevelNames(report.DroppedLevels) {
			parts = append(parts, fmt.Sprintf("%s=%d", name, report.DroppedLevels[name]))
		}
		warnings = append(warnings, core.Warning{
			Code:    core.WarningDroppedLevels,
			Count:   pruned,
			Message: fmt.Sprintf("degenerate fixed-effect levels dropped (%s): %d singleton rows, %d single-outcome rows", strings.Join(parts, ", "), report.SingletonRows, report.SingleClassRows),
		})
	}

	k := len(d.Terms)
	m := len(keep)
	if m <= k {
		return nil, core.NewInsufficientDataError("%d usable rows for %d terms", m, k)
	}

	fit := &Fit{design: d, opts: opts, keep: keep}
	fit.y = make([]float64, m)
	fit.w = make([]float64, m)
	raw := mat.NewDense(m, k, nil)
	for r, i := range keep {
		fit.y[r] = y[i]
		fit.w[r] = w[i]
		for j, t := range d.Terms {
			raw.Set(r, j, t.Values[i])
		}
	}

	kept := make([]factorCodes, len(factors))
	total := 0
	for i, f := range factors {
		kept[i] = f.subset(keep)
		total += kept[i].numLevels()
	}
	if total > opts.Limits.MaxFixedEffectLevels {
		return nil, core.NewCapacityError("fixed-effect levels", total, opts.Limits.MaxFixedEffectLevels)
	}
	abs := newAbsorber(kept, fit.w, opts.MaxIter, opts.Tol)
	fit.absorbed = abs.dof()
	if len(kept) == 0 {
		fit.absorbed = 1
	}

	demeaned := func(v []float64) error {
		if len(kept) == 0 {
			centre(v, fit.w)
			return nil
		}
		_, err := abs.demean(v)
		return err
	}
	if err := demeaned(fit.y); err != nil {
		return nil, err
	}

	// absorb each column and keep those with residual variation
	cols := make([][]float64, 0, k)
	for j, t := range d.Terms {
		col := make([]float64, m)
		norm := 0.0
		for r := 0; r < m; r++ {
			col[r] = raw.At(r, j)
			norm += fit.w[r] * col[r] * col[r]
		}
		if err := demeaned(col); err != nil {
			return nil, err
		}
		if norm == 0 || !independent(col, cols, fit.w, math.Sqrt(norm)*opts.CollinearTol) {
			fit.dropped = append(fit.dropped, t.Name)
			continue
		}
		cols = append(cols, col)
		fit.terms = append(fit.terms, t)
	}
	if len(fit.dropped) > 0 {
		warnings = append(warnings, core.Warning{
			Code:      core.WarningRankDeficient,
			Count:     len(fit.dropped),
			Message:   "terms collinear with fixed effects or earlier terms dropped",
			Variables: fit.dropped,
		})
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: every term of %s is absorbed by the fixed effects", core.ErrRankDeficientDesign, d.Outcome)
	}

	fit.x = mat.NewDense(m, len(cols), nil)
	for j, col := range cols {
		fit.x.SetCol(j, col)
	}
	beta, bread, ok := solveWLS(fit.x, fit.w, fit.y)
	if !ok {
		return nil, fmt.Errorf("%w: normal equations of %s are not positive definite", core.ErrRankDeficientDesign, d.Outcome)
	}
	fit.beta, fit.bread = beta, bread
	fit.resid = residuals(fit.x, fit.y, beta)
	for r := 0; r < m; r++ {
		fit.rss += fit.w[r] * fit.resid[r] * fit.resid[r]
		fit.tss += fit.w[r] * fit.y[r] * fit.y[r]
	}
	fit.warnings = warnings
	return fit, nil
}

// independent reports whether col keeps a weighted residual norm above tol
// after projection on the span of accepted columns
func independent(col []float64, accepted [][]float64, w []float64, tol float64) bool {
	if len(accepted) == 0 {
		return weightedNorm(col, w) > tol
	}
	m := len(col)
	x := mat.NewDense(m, len(accepted), nil)
	for j, a := range accepted {
		x.SetCol(j, a)
	}
	beta, _, ok := solveWLS(x, w, col)
	if !ok {
		return false
	}
	return weightedNorm(residuals(x, col, beta), w) > tol
}

func weightedNorm(v, w []float64) float64 {
	s := 0.0
	for i, x := range v {
		s += w[i] * x * x
	}
	return math.Sqrt(s)
}

func checkCapacity(d *estimation.Design, lim Limits) error {
	n, k := d.Rows(), len(d.Terms)
	if lim.MaxRows > 0 && n > lim.MaxRows {
		return core.NewCapacityError("rows", n, lim.MaxRows)
	}
	if lim.MaxTerms > 0 && k > lim.MaxTerms {
		return core.NewCapacityError("terms", k, lim.MaxTerms)
	}
	if lim.MaxDesignCells > 0 && n*k > lim.MaxDesignCells {
		return core.NewCapacityError("design cells", n*k, lim.MaxDesignCells)
	}
	if lim.MaxFixedEffectLevels > 0 {
		total := 0
		for _, f := range d.FixedEffects {
			seen := make(map[string]struct{})
			for _, l := range f.Levels {
				seen[l] = struct{}{}
			}
			total += len(seen)
		}
		if total > lim.MaxFixedEffectLevels {
			return core.NewCapacityError("fixed-effect levels", total, lim.MaxFixedEffectLevels)
		}
	}
	return nil
}

// Terms returns the estimated terms in order
func (f *Fit) Terms() []estimation.Term { return f.terms }

// Beta returns the coefficient vector
func (f *Fit) Beta() []float64 { return f.beta }

// Rows returns the number of rows used in the fit
func (f *Fit) Rows() int { return len(f.keep) }

// ResidualDoF is n - k - absorbed parameters
func (f *Fit) ResidualDoF() int {
	return len(f.keep) - len(f.beta) - f.absorbed
}

// Result attaches the requested covariance to the fit. Numerical problems
// with the covariance are recorded in VarianceStatus, never hidden.
func (f *Fit) Result(spec VarianceSpec) (*estimation.Result, error) {
	cov, status, err := f.Variance(spec)
	if err != nil {
		return nil, err
	}
	d := f.design
	res := &estimation.Result{
		Model:        d.Model,
		Outcome:      d.Outcome,
		Coefficients: make([]estimation.Coefficient, len(f.beta)),
		Covariance:   symToRows(cov),
		Variance:     status,
		Reference:    append([]int(nil), d.Reference...),
		N:            len(f.keep),
		DoF:          f.ResidualDoF(),
		RSS:          f.rss,
		DroppedRows:  d.Excluded + d.Rows() - len(f.keep),
		DroppedTerms: append([]string(nil), f.dropped...),
		Residuals:    append([]float64(nil), f.resid...),
		Warnings:     append(core.Warnings{}, f.warnings...),
	}
	for _, fe := range d.FixedEffects {
		res.FixedEffects = append(res.FixedEffects, fe.Name)
	}
	for _, w := range f.w {
		res.WeightSum += w
	}
	if f.tss > 0 {
		res.R2Within = 1 - f.rss/f.tss
	}
	df := testDoF(status, res.DoF)
	for j, t := range f.terms {
		c := estimation.Coefficient{Term: t.Name, Estimate: f.beta[j]}
		if t.Kind == estimation.TermEventTime {
			et := t.EventTime
			c.EventTime = &et
		}
		v := cov.At(j, j)
		if v > 0 {
			c.StdErr = math.Sqrt(v)
			c.TStat = c.Estimate / c.StdErr
			c.PValue = TwoSidedT(c.TStat, df)
		} else {
			c.StdErr, c.TStat, c.PValue = math.NaN(), math.NaN(), math.NaN()
		}
		res.Coefficients[j] = c
	}
	if !status.Reliable {
		res.Warnings = append(res.Warnings, core.Warning{
			Code:    core.WarningUnreliableVar,
			Message: status.Reason,
		})
	}
	return res, nil
}

// Warnings returns the warnings collected while fitting
func (f *Fit) Warnings() core.Warnings { return f.warnings }
