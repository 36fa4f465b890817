package econometrics

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"minwage/domain/core"
)

// Kernel weights observations by their scaled distance to the cutoff
type Kernel string

const (
	KernelTriangular   Kernel = "triangular"
	KernelUniform      Kernel = "uniform"
	KernelEpanechnikov Kernel = "epanechnikov"
)

// Weight evaluates the kernel at u = x/h; zero outside [-1, 1]
func (k Kernel) Weight(u float64) float64 {
	a := math.Abs(u)
	if a > 1 {
		return 0
	}
	switch k {
	case KernelUniform:
		return 0.5
	case KernelEpanechnikov:
		return 0.75 * (1 - u*u)
	default:
		return 1 - a
	}
}

// Valid reports whether the kernel is known
func (k Kernel) Valid() bool {
	switch k {
	case KernelTriangular, KernelUniform, KernelEpanechnikov:
		return true
	}
	return false
}

// ikConstant is C_K of the Imbens-Kalyanaraman optimal bandwidth
func (k Kernel) ikConstant() float64 {
	switch k {
	case KernelUniform:
		return 5.40
	case KernelEpanechnikov:
		return 3.1999
	default:
		return 3.4375
	}
}

// IKBandwidth selects the Imbens-Kalyanaraman (2012) MSE-optimal bandwidth
// for a local-linear sharp RD with the cutoff at x = 0
func IKBandwidth(x, y []float64, kernel Kernel) (float64, error) {
	n := len(x)
	if n != len(y) {
		return 0, core.NewInvalidInputError("running variable has %d rows, outcome has %d", n, len(y))
	}
	var left, right []float64
	for _, v := range x {
		if v < 0 {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) < 3 || len(right) < 3 {
		return 0, core.NewInsufficientDataError("bandwidth selection needs 3 points per side, have %d and %d", len(left), len(right))
	}

	sx, err := stats.StandardDeviationSample(stats.Float64Data(x))
	if err != nil {
		return 0, core.NewInsufficientDataError("running variable spread: %v", err)
	}
	if sx == 0 {
		return 0, core.NewInsufficientDataError("running variable is constant")
	}
	nf := float64(n)

	// step 1: density and conditional variance at the cutoff
	h1 := 1.84 * sx * math.Pow(nf, -0.2)
	var yl, yr []float64
	for i, v := range x {
		if math.Abs(v) > h1 {
			continue
		}
		if v < 0 {
			yl = append(yl, y[i])
		} else {
			yr = append(yr, y[i])
		}
	}
	if len(yl) < 2 || len(yr) < 2 {
		return 0, core.NewInsufficientDataError("pilot bandwidth %.4g holds %d and %d points", h1, len(yl), len(yr))
	}
	f0 := float64(len(yl)+len(yr)) / (2 * nf * h1)
	sigma2 := (sumSquares(yl) + sumSquares(yr)) / float64(len(yl)+len(yr))

	// step 2: third derivative from a global cubic between the side medians
	medL, err := stats.Median(stats.Float64Data(left))
	if err != nil {
		return 0, err
	}
	medR, err := stats.Median(stats.Float64Data(right))
	if err != nil {
		return 0, err
	}
	m3 := globalThirdDerivative(x, y, medL, medR)
	if m3 == 0 || math.IsNaN(m3) {
		m3 = math.Max(math.Abs(m3), 1e-8)
	}
	nl, nr := float64(len(left)), float64(len(right))
	base := 3.56 * math.Pow(sigma2/(f0*m3*m3), 1.0/7)
	h2r := math.Min(base*math.Pow(nr, -1.0/7), -leftMost(left)+maxOf(right))
	h2l := math.Min(base*math.Pow(nl, -1.0/7), -leftMost(left)+maxOf(right))

	// step 3: curvature on each side and regularisation
	m2r, n2r := sideCurvature(x, y, 0, h2r, false)
	m2l, n2l := sideCurvature(x, y, -h2l, 0, true)
	if n2r == 0 || n2l == 0 {
		return 0, core.NewInsufficientDataError("curvature bandwidth holds no points")
	}
	rr := 2160 * sigma2 / (float64(n2r) * math.Pow(h2r, 4))
	rl := 2160 * sigma2 / (float64(n2l) * math.Pow(h2l, 4))
	den := (m2r-m2l)*(m2r-m2l) + rr + rl
	h := kernel.ikConstant() * math.Pow(2*sigma2/(f0*den), 0.2) * math.Pow(nf, -0.2)
	if math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 {
		return 0, core.NewInsufficientDataError("bandwidth selection did not produce a finite value")
	}
	return h, nil
}

func sumSquares(v []float64) float64 {
	m, _ := stats.Mean(stats.Float64Data(v))
	s := 0.0
	for _, x := range v {
		s += (x - m) * (x - m)
	}
	return s
}

func leftMost(v []float64) float64 {
	m, _ := stats.Min(stats.Float64Data(v))
	return m
}

func maxOf(v []float64) float64 {
	m, _ := stats.Max(stats.Float64Data(v))
	return m
}

// globalThirdDerivative fits y ~ 1 + D + x + x^2 + x^3 on [lo, hi] and
// returns 6 times the cubic coefficient
func globalThirdDerivative(x, y []float64, lo, hi float64) float64 {
	var rows [][]float64
	var ys []float64
	for i, v := range x {
		if v < lo || v > hi {
			continue
		}
		d := 0.0
		if v >= 0 {
			d = 1
		}
		rows = append(rows, []float64{1, d, v, v * v, v * v * v})
		ys = append(ys, y[i])
	}
	beta, ok := olsRows(rows, ys)
	if !ok {
		rows, ys = rows[:0], ys[:0]
		for i, v := range x {
			d := 0.0
			if v >= 0 {
				d = 1
			}
			rows = append(rows, []float64{1, d, v, v * v, v * v * v})
			ys = append(ys, y[i])
		}
		if beta, ok = olsRows(rows, ys); !ok {
			return math.NaN()
		}
	}
	return 6 * beta[4]
}

// sideCurvature fits a quadratic on one side of the cutoff and returns the
// second derivative and the number of points used. When the window holds too
// few distinct points the whole side is used.
func sideCurvature(x, y []float64, lo, hi float64, leftSide bool) (float64, int) {
	collect := func(bounded bool) ([][]float64, []float64) {
		var rows [][]float64
		var ys []float64
		for i, v := range x {
			if (v < 0) != leftSide {
				continue
			}
			if bounded && (v < lo || v > hi) {
				continue
			}
			rows = append(rows, []float64{1, v, v * v})
			ys = append(ys, y[i])
		}
		return rows, ys
	}
	rows, ys := collect(true)
	beta, ok := olsRows(rows, ys)
	if !ok {
		rows, ys = collect(false)
		if beta, ok = olsRows(rows, ys); !ok {
			return 0, 0
		}
	}
	return 2 * beta[2], len(rows)
}

func olsRows(rows [][]float64, y []float64) ([]float64, bool) {
	if len(rows) == 0 || len(rows) <= len(rows[0]) {
		return nil, false
	}
	k := len(rows[0])
	x := mat.NewDense(len(rows), k, nil)
	w := make([]float64, len(rows))
	for i, r := range rows {
		x.SetRow(i, r)
		w[i] = 1
	}
	beta, _, ok := solveWLS(x, w, y)
	return beta, ok
}
