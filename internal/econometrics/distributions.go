package econometrics

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// TwoSidedT returns the two-sided p-value of a t statistic
func TwoSidedT(t, df float64) float64 {
	if math.IsNaN(t) || df <= 0 {
		return math.NaN()
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(math.Abs(t))
}

// TwoSidedNormal returns the two-sided p-value of a z statistic
func TwoSidedNormal(z float64) float64 {
	if math.IsNaN(z) {
		return math.NaN()
	}
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

// ChiSquaredPValue is the upper tail of chi-squared with df degrees of freedom
func ChiSquaredPValue(stat float64, df int) float64 {
	if math.IsNaN(stat) || df <= 0 {
		return math.NaN()
	}
	return distuv.ChiSquared{K: float64(df)}.Survival(stat)
}

// FPValue is the upper tail of F(d1, d2)
func FPValue(stat float64, d1, d2 int) float64 {
	if math.IsNaN(stat) || d1 <= 0 || d2 <= 0 {
		return math.NaN()
	}
	return distuv.F{D1: float64(d1), D2: float64(d2)}.Survival(stat)
}

// NormalQuantile is the inverse standard normal CDF
func NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}
