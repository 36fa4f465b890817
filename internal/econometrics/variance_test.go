package econometrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minwage/domain/core"
	"minwage/domain/estimation"
)

func TestVariance_TwoWayIsSumMinusIntersection(t *testing.T) {
	d := twoFactorDesign(t, 11, 0.2)
	// a second regressor so the identity is checked on a full matrix
	extra := make([]float64, d.Rows())
	for i := range extra {
		extra[i] = float64((i*7)%5) / 5
	}
	d.Terms = append(d.Terms, estimation.Term{Name: "noise", Kind: estimation.TermCovariate, Values: extra})

	fit, err := FitFE(d, DefaultOptions())
	require.NoError(t, err)

	va, _, err := fit.Variance(VarianceSpec{Kind: estimation.VarianceCluster, Clusters: []string{"age"}})
	require.NoError(t, err)
	vb, _, err := fit.Variance(VarianceSpec{Kind: estimation.VarianceCluster, Clusters: []string{"period"}})
	require.NoError(t, err)
	vab, _, err := fit.Variance(VarianceSpec{Kind: estimation.VarianceCluster, Clusters: []string{"age_period"}})
	require.NoError(t, err)
	vtw, status, err := fit.Variance(VarianceSpec{Kind: estimation.VarianceTwoWay, Clusters: []string{"age", "period"}})
	require.NoError(t, err)

	k := vtw.SymmetricDim()
	require.Equal(t, 2, k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			want := va.At(i, j) + vb.At(i, j) - vab.At(i, j)
			assert.InDelta(t, want, vtw.At(i, j), 1e-14, "entry %d,%d", i, j)
		}
	}
	assert.Equal(t, estimation.VarianceTwoWay, status.Kind)
	assert.Equal(t, []string{"age", "period"}, status.Clusters)
	assert.Equal(t, []int{30, 12}, status.NumClusters)
}

func TestVariance_ClusterPerRowEqualsHC1(t *testing.T) {
	d := twoFactorDesign(t, 3, 0.1)
	ids := make([]string, d.Rows())
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	d.Clusters = append(d.Clusters, estimation.Factor{Name: "row", Levels: ids})

	fit, err := FitFE(d, DefaultOptions())
	require.NoError(t, err)
	hc, _, err := fit.Variance(VarianceSpec{Kind: estimation.VarianceHetero})
	require.NoError(t, err)
	cl, _, err := fit.Variance(VarianceSpec{Kind: estimation.VarianceCluster, Clusters: []string{"row"}})
	require.NoError(t, err)
	assert.InDelta(t, hc.At(0, 0), cl.At(0, 0), 1e-12*hc.At(0, 0))
}

func TestVariance_IIDScalesBread(t *testing.T) {
	d := &estimation.Design{
		Outcome: "y",
		Y:       []float64{1.1, 1.9, 3.2, 3.8, 5.1},
		Terms:   []estimation.Term{{Name: "x", Values: []float64{1, 2, 3, 4, 5}}},
	}
	fit, err := FitFE(d, DefaultOptions())
	require.NoError(t, err)
	res, err := fit.Result(VarianceSpec{Kind: estimation.VarianceIID})
	require.NoError(t, err)

	// classical OLS: s^2 / sum((x-3)^2)
	s2 := res.RSS / 3
	assert.InDelta(t, s2/10, res.Covariance[0][0], 1e-12)
	assert.Equal(t, 3, res.DoF)
	assert.True(t, res.Variance.Reliable)
	assert.Equal(t, 1, res.Variance.Rank)
}

func TestVariance_FewClustersIsUnreliable(t *testing.T) {
	d := twoFactorDesign(t, 5, 0.2)
	halves := make([]string, d.Rows())
	extra := make([]float64, d.Rows())
	for i := range halves {
		halves[i] = fmt.Sprint(i % 2)
		extra[i] = float64((i*3)%7) / 7
	}
	d.Terms = append(d.Terms, estimation.Term{Name: "noise", Values: extra})
	d.Clusters = append(d.Clusters, estimation.Factor{Name: "half", Levels: halves})

	fit, err := FitFE(d, DefaultOptions())
	require.NoError(t, err)
	res, err := fit.Result(VarianceSpec{Kind: estimation.VarianceCluster, Clusters: []string{"half"}})
	require.NoError(t, err)

	assert.False(t, res.Variance.Reliable)
	assert.NotEmpty(t, res.Variance.Reason)
	assert.True(t, res.Warnings.Has(core.WarningUnreliableVar))

	_, err = Wald(res, res.Terms())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSingularSubcovariance))
	assert.True(t, errors.Is(err, core.ErrUnreliableVariance))
}

func TestVariance_SingleClusterRejected(t *testing.T) {
	d := twoFactorDesign(t, 5, 0.2)
	one := make([]string, d.Rows())
	for i := range one {
		one[i] = "all"
	}
	d.Clusters = []estimation.Factor{{Name: "all", Levels: one}}
	fit, err := FitFE(d, DefaultOptions())
	require.NoError(t, err)

	_, err = fit.Result(VarianceSpec{Kind: estimation.VarianceCluster})
	assert.True(t, errors.Is(err, core.ErrInsufficientData))

	_, err = fit.Result(VarianceSpec{Kind: estimation.VarianceCluster, Clusters: []string{"region"}})
	assert.True(t, errors.Is(err, core.ErrMissingVariable))

	_, err = fit.Result(VarianceSpec{Kind: "bootstrap"})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestDescribeVariance(t *testing.T) {
	var status estimation.VarianceStatus
	describeVariance(&status, rowsToSym([][]float64{{1, 0}, {0, 1e-14}}), DefaultConditionLimit)
	assert.False(t, status.Reliable)
	assert.Contains(t, status.Reason, "condition number")

	status = estimation.VarianceStatus{}
	describeVariance(&status, rowsToSym([][]float64{{2, 0.5}, {0.5, 1}}), DefaultConditionLimit)
	assert.True(t, status.Reliable)
	assert.Equal(t, 2, status.Rank)
	assert.Greater(t, status.Condition, 1.0)
}
