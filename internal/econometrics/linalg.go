package econometrics

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// weightedGram returns X'WX
func weightedGram(x *mat.Dense, w []float64) *mat.SymDense {
	n, k := x.Dims()
	wx := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		src := x.RawRowView(i)
		dst := wx.RawRowView(i)
		for j := range src {
			dst[j] = sw * src[j]
		}
	}
	var g mat.SymDense
	g.SymOuterK(1, wx.T())
	return &g
}

// weightedCross returns X'Wy
func weightedCross(x *mat.Dense, w, y []float64) *mat.VecDense {
	n, k := x.Dims()
	out := make([]float64, k)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		wy := w[i] * y[i]
		for j := range row {
			out[j] += row[j] * wy
		}
	}
	return mat.NewVecDense(k, out)
}

// sandwich returns c * B M B as a symmetric matrix
func sandwich(bread, meat mat.Symmetric, c float64) *mat.SymDense {
	k := bread.SymmetricDim()
	var tmp, full mat.Dense
	tmp.Mul(bread, meat)
	full.Mul(&tmp, bread)
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			out.SetSym(i, j, c*0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	return out
}

// spectrum summarises the eigenvalues of a symmetric matrix
type spectrum struct {
	min, max  float64
	rank      int
	condition float64
	finite    bool
}

// rankEps scales the numerical rank threshold k*eps*max|eigenvalue|
const rankEps = 2.220446049250313e-16

func symSpectrum(a mat.Symmetric) spectrum {
	k := a.SymmetricDim()
	s := spectrum{finite: true}
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := a.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				s.finite = false
				s.condition = math.Inf(1)
				return s
			}
		}
	}
	var es mat.EigenSym
	if !es.Factorize(a, false) {
		s.finite = false
		s.condition = math.Inf(1)
		return s
	}
	vals := es.Values(nil)
	if len(vals) == 0 {
		return s
	}
	s.min, s.max = vals[0], vals[len(vals)-1]
	scale := math.Max(math.Abs(s.max), math.Abs(s.min))
	tol := float64(k) * rankEps * scale
	for _, v := range vals {
		if v > tol {
			s.rank++
		}
	}
	if s.min > 0 {
		s.condition = s.max / s.min
	} else {
		s.condition = math.Inf(1)
	}
	return s
}

// subSym extracts the principal sub-block on idx
func subSym(a mat.Symmetric, idx []int) *mat.SymDense {
	out := mat.NewSymDense(len(idx), nil)
	for i, r := range idx {
		for j := i; j < len(idx); j++ {
			out.SetSym(i, j, a.At(r, idx[j]))
		}
	}
	return out
}

func symToRows(a mat.Symmetric) [][]float64 {
	k := a.SymmetricDim()
	out := make([][]float64, k)
	for i := range out {
		out[i] = make([]float64, k)
		for j := range out[i] {
			out[i][j] = a.At(i, j)
		}
	}
	return out
}

func rowsToSym(rows [][]float64) *mat.SymDense {
	k := len(rows)
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			out.SetSym(i, j, rows[i][j])
		}
	}
	return out
}

// solveWLS fits weighted least squares with a Cholesky factorisation of X'WX
func solveWLS(x *mat.Dense, w, y []float64) (beta []float64, bread *mat.SymDense, ok bool) {
	g := weightedGram(x, w)
	var chol mat.Cholesky
	if !chol.Factorize(g) {
		return nil, nil, false
	}
	var b mat.VecDense
	if err := chol.SolveVecTo(&b, weightedCross(x, w, y)); err != nil {
		return nil, nil, false
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, nil, false
	}
	beta = make([]float64, b.Len())
	for i := range beta {
		beta[i] = b.AtVec(i)
	}
	return beta, &inv, true
}

func residuals(x *mat.Dense, y, beta []float64) []float64 {
	n, _ := x.Dims()
	e := make([]float64, n)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		fit := 0.0
		for j, b := range beta {
			fit += row[j] * b
		}
		e[i] = y[i] - fit
	}
	return e
}
