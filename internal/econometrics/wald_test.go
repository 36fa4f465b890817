package econometrics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minwage/domain/core"
	"minwage/domain/estimation"
)

func fittedResult(t *testing.T) *estimation.Result {
	t.Helper()
	d := twoFactorDesign(t, 21, 0.2)
	extra := make([]float64, d.Rows())
	for i := range extra {
		extra[i] = float64((i*5)%9) / 9
	}
	d.Terms = append(d.Terms, estimation.Term{Name: "noise", Values: extra})
	fit, err := FitFE(d, DefaultOptions())
	require.NoError(t, err)
	res, err := fit.Result(VarianceSpec{Kind: estimation.VarianceHetero})
	require.NoError(t, err)
	require.True(t, res.Variance.Reliable)
	return res
}

func TestWald_SingleTermIsSquaredT(t *testing.T) {
	res := fittedResult(t)
	c, err := res.Coefficient("noise")
	require.NoError(t, err)

	w, err := Wald(res, []string{"noise"})
	require.NoError(t, err)
	assert.InDelta(t, c.TStat*c.TStat, w.Stat, 1e-8*w.Stat)
	assert.Equal(t, 1, w.DF)
	assert.InDelta(t, TwoSidedNormal(c.TStat), w.PValue, 1e-9)
	assert.InDelta(t, w.Stat, w.FStat, 1e-12)
}

func TestWald_JointMatchesQuadraticForm(t *testing.T) {
	res := fittedResult(t)
	w, err := Wald(res, res.Terms())
	require.NoError(t, err)

	b0, b1 := res.Coefficients[0].Estimate, res.Coefficients[1].Estimate
	v := res.Covariance
	det := v[0][0]*v[1][1] - v[0][1]*v[1][0]
	want := (b0*b0*v[1][1] - 2*b0*b1*v[0][1] + b1*b1*v[0][0]) / det
	assert.InDelta(t, want, w.Stat, 1e-6*want)
	assert.Equal(t, 2, w.DF)
	assert.Less(t, w.PValue, 1e-6)
	assert.Equal(t, res.DoF, w.FDoF)
}

func TestWald_CollinearSubBlock(t *testing.T) {
	res := &estimation.Result{
		Model: estimation.ModelEventStudy,
		Coefficients: []estimation.Coefficient{
			{Term: "treat_lead2", Estimate: 0.1},
			{Term: "treat_lead3", Estimate: 0.2},
		},
		Covariance: [][]float64{{1, 1}, {1, 1}},
		Variance:   estimation.VarianceStatus{Kind: estimation.VarianceHetero, Reliable: true},
		DoF:        100,
	}
	_, err := Wald(res, []string{"treat_lead2", "treat_lead3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSingularSubcovariance))
	assert.True(t, errors.Is(err, core.ErrUnreliableVariance))

	// the single-term block is fine
	w, err := Wald(res, []string{"treat_lead3"})
	require.NoError(t, err)
	assert.InDelta(t, 0.04, w.Stat, 1e-12)
}

func TestWald_InvalidRequests(t *testing.T) {
	res := fittedResult(t)
	_, err := Wald(res, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
	_, err = Wald(res, []string{"treat_lag9"})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
	_, err = Wald(nil, []string{"x"})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestPreTrends(t *testing.T) {
	lead := -2
	lag := 0
	res := &estimation.Result{
		Coefficients: []estimation.Coefficient{
			{Term: "treat_lead2", EventTime: &lead, Estimate: 0.01},
			{Term: "treat_lag0", EventTime: &lag, Estimate: 0.3},
		},
		Covariance: [][]float64{{0.0001, 0}, {0, 0.0001}},
		Variance:   estimation.VarianceStatus{Reliable: true},
		DoF:        50,
	}
	w, err := PreTrends(res)
	require.NoError(t, err)
	assert.Equal(t, []string{"treat_lead2"}, w.Terms)
	assert.InDelta(t, 1.0, w.Stat, 1e-9)

	res.Coefficients = res.Coefficients[1:]
	res.Covariance = [][]float64{{0.0001}}
	_, err = PreTrends(res)
	assert.True(t, errors.Is(err, core.ErrInsufficientData))
}

func TestDistributions(t *testing.T) {
	assert.InDelta(t, 0.05, TwoSidedNormal(1.959963984540054), 1e-9)
	assert.InDelta(t, 0.05, ChiSquaredPValue(3.841458820694124, 1), 1e-9)
	assert.Greater(t, TwoSidedT(1.96, 5), TwoSidedNormal(1.96))
	assert.True(t, math.IsNaN(TwoSidedT(math.NaN(), 10)))
	assert.True(t, math.IsNaN(FPValue(1, 0, 10)))
}
