package econometrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"minwage/domain/core"
	"minwage/domain/estimation"
)

// Wald tests that every named coefficient is jointly zero, W = b' V^-1 b
// on the sub-block of the covariance. An unreliable covariance or a singular
// sub-block fails with ErrSingularSubcovariance wrapping
// ErrUnreliableVariance; no statistic is fabricated.
func Wald(res *estimation.Result, terms []string) (*estimation.WaldResult, error) {
	if res == nil {
		return nil, core.NewInvalidInputError("no result to test")
	}
	if len(terms) == 0 {
		return nil, core.NewInvalidInputError("wald test needs at least one term")
	}
	idx := make([]int, len(terms))
	b := make([]float64, len(terms))
	for i, t := range terms {
		j, ok := res.Index(t)
		if !ok {
			return nil, core.NewInvalidInputError("term %s not estimated in %s", t, res.Model)
		}
		idx[i] = j
		b[i] = res.Coefficients[j].Estimate
	}
	if !res.Variance.Reliable {
		return nil, fmt.Errorf("%w: %w: %s", core.ErrSingularSubcovariance, core.ErrUnreliableVariance, res.Variance.Reason)
	}

	sub := subSym(rowsToSym(res.Covariance), idx)
	s := symSpectrum(sub)
	if !s.finite || s.rank < len(idx) || s.min <= 0 || s.condition > DefaultConditionLimit {
		return nil, fmt.Errorf("%w: %w: sub-covariance of %d terms has rank %d, condition %.3g",
			core.ErrSingularSubcovariance, core.ErrUnreliableVariance, len(idx), s.rank, s.condition)
	}
	var chol mat.Cholesky
	if !chol.Factorize(sub) {
		return nil, fmt.Errorf("%w: %w: sub-covariance is not positive definite", core.ErrSingularSubcovariance, core.ErrUnreliableVariance)
	}
	bv := mat.NewVecDense(len(b), b)
	var z mat.VecDense
	if err := chol.SolveVecTo(&z, bv); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", core.ErrSingularSubcovariance, core.ErrUnreliableVariance, err)
	}
	stat := mat.Dot(bv, &z)
	q := len(idx)

	out := &estimation.WaldResult{
		Terms:  append([]string(nil), terms...),
		Stat:   stat,
		DF:     q,
		PValue: ChiSquaredPValue(stat, q),
		FStat:  stat / float64(q),
	}
	out.FDoF = int(testDoF(res.Variance, res.DoF))
	out.FPValue = FPValue(out.FStat, q, out.FDoF)
	if math.IsNaN(out.PValue) {
		return nil, core.NewInvalidInputError("wald statistic is not finite")
	}
	return out, nil
}

// PreTrends jointly tests every lead coefficient of an event study
func PreTrends(res *estimation.Result) (*estimation.WaldResult, error) {
	leads := res.LeadTerms()
	if len(leads) == 0 {
		return nil, core.NewInsufficientDataError("event study has no lead terms to test")
	}
	return Wald(res, leads)
}
