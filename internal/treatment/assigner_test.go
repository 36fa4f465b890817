package treatment

import (
	"testing"
	"time"

	"minwage/domain/core"
	domainPanel "minwage/domain/panel"
	"minwage/domain/policy"
	"minwage/domain/survey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func reforms(t *testing.T) *policy.Table {
	t.Helper()
	table, err := policy.NewTable(
		policy.Event{Name: "nlw2024", AgeThreshold: 21, ImplementedOn: day(2024, 4, 1)},
		policy.Event{Name: "nlw2016", AgeThreshold: 25, ImplementedOn: day(2016, 4, 1)},
		policy.Event{Name: "nlw2021", AgeThreshold: 23, ImplementedOn: day(2021, 4, 1)},
	)
	require.NoError(t, err)
	return table
}

func TestNewTable_OrdersAndValidates(t *testing.T) {
	table := reforms(t)
	names := []string{}
	for _, e := range table.Events() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"nlw2016", "nlw2021", "nlw2024"}, names)

	next, ok := table.Next("nlw2016")
	assert.True(t, ok)
	assert.Equal(t, "nlw2021", next.Name)

	_, err := policy.NewTable(policy.Event{Name: "x", AgeThreshold: 25})
	assert.Error(t, err)
	_, err = policy.NewTable(
		policy.Event{Name: "x", AgeThreshold: 25, ImplementedOn: day(2016, 4, 1)},
		policy.Event{Name: "x", AgeThreshold: 21, ImplementedOn: day(2017, 4, 1)},
	)
	assert.Error(t, err)
}

func TestAssignAll_FlagsAreIndependent(t *testing.T) {
	a, err := NewAssigner(reforms(t), policy.UnitQuarter)
	require.NoError(t, err)

	got := a.AssignAll(24, day(2022, 6, 15))
	require.Len(t, got, 3)

	assert.Equal(t, "nlw2016", got[0].Event)
	assert.True(t, got[0].Post)
	assert.False(t, got[0].AgeEligible)
	assert.False(t, got[0].TreatPost)

	assert.True(t, got[1].Post)
	assert.True(t, got[1].AgeEligible)
	assert.True(t, got[1].TreatPost)
	assert.Equal(t, 4, got[1].EventTime)

	assert.False(t, got[2].Post)
	assert.True(t, got[2].AgeEligible)
	assert.False(t, got[2].TreatPost)
	assert.Equal(t, -8, got[2].EventTime)
}

func TestAssign_ImplementationDayIsPost(t *testing.T) {
	a, err := NewAssigner(reforms(t), policy.UnitMonth)
	require.NoError(t, err)
	e, _ := reforms(t).Lookup("nlw2016")

	on := a.Assign(e, 25, day(2016, 4, 1))
	assert.True(t, on.TreatPost)
	assert.Equal(t, 0, on.EventTime)

	before := a.Assign(e, 25, day(2016, 3, 31))
	assert.False(t, before.Post)
	assert.Equal(t, -1, before.EventTime)
}

func TestRelativeTime_FloorsTowardNegativeInfinity(t *testing.T) {
	impl := day(2016, 4, 1)
	tests := []struct {
		date time.Time
		unit policy.TimeUnit
		want int
	}{
		{day(2016, 4, 30), policy.UnitMonth, 0},
		{day(2016, 5, 1), policy.UnitMonth, 1},
		{day(2016, 3, 1), policy.UnitMonth, -1},
		{day(2016, 1, 1), policy.UnitMonth, -3},
		{day(2016, 6, 30), policy.UnitQuarter, 0},
		{day(2016, 7, 1), policy.UnitQuarter, 1},
		{day(2016, 3, 31), policy.UnitQuarter, -1},
		{day(2016, 1, 1), policy.UnitQuarter, -1},
		{day(2015, 12, 31), policy.UnitQuarter, -2},
		{day(2015, 10, 1), policy.UnitQuarter, -2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RelativeTime(tt.date, impl, tt.unit), "%s %s", tt.date.Format("2006-01-02"), tt.unit)
	}

	// mid-month implementation: the same calendar month splits
	mid := day(2016, 4, 15)
	assert.Equal(t, -1, RelativeTime(day(2016, 4, 14), mid, policy.UnitMonth))
	assert.Equal(t, 0, RelativeTime(day(2016, 5, 14), mid, policy.UnitMonth))
}

func TestPeriodStartAndBinning(t *testing.T) {
	assert.Equal(t, day(2016, 4, 1), PeriodStart(day(2016, 5, 17), policy.UnitQuarter))
	assert.Equal(t, day(2016, 5, 1), PeriodStart(day(2016, 5, 17), policy.UnitMonth))
	assert.Equal(t, day(2016, 10, 1), PeriodStart(day(2016, 12, 31), policy.UnitQuarter))

	assert.Equal(t, -4, BinEventTime(-9, -4, 4))
	assert.Equal(t, 4, BinEventTime(12, -4, 4))
	assert.Equal(t, 2, BinEventTime(2, -4, 4))
}

func TestAssignPanel_SkipsUndated(t *testing.T) {
	a, err := NewAssigner(reforms(t), policy.UnitQuarter)
	require.NoError(t, err)

	p := &domainPanel.Panel{Observations: []domainPanel.Observation{
		{PersonID: "a", Age: 26, RefDate: survey.Field{Present: true, Time: day(2016, 5, 2)}},
		{PersonID: "b", Age: 26},
	}}
	got, warnings, err := a.AssignPanel(p, "nlw2016")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Index)
	assert.True(t, got[0].Assignment.TreatPost)
	assert.True(t, warnings.Has(core.WarningUnassignedPeriods))

	_, _, err = a.AssignPanel(p, "nope")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
