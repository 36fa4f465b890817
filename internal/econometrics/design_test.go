package econometrics

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minwage/domain/core"
	"minwage/domain/estimation"
	domainPanel "minwage/domain/panel"
	"minwage/domain/policy"
	"minwage/domain/survey"
)

var nlw2016 = policy.Event{Name: "nlw2016", AgeThreshold: 25, ImplementedOn: time.Date(2016, 4, 1, 0, 0, 0, 0, time.UTC)}

func row(age int, date time.Time, y float64) Row {
	return Row{
		Y:      y,
		Weight: 1,
		Age:    age,
		Date:   date,
		Keys: map[string]string{
			KeyAge:    strconv.Itoa(age),
			KeyPeriod: periodLabel(date, policy.UnitQuarter),
		},
	}
}

func month(y int, m time.Month) time.Time { return time.Date(y, m, 15, 0, 0, 0, 0, time.UTC) }

func TestDiDDesign_TreatPost(t *testing.T) {
	rows := []Row{
		row(24, month(2016, 3), 0.1),
		row(25, month(2016, 3), 0.2),
		row(24, month(2016, 5), 0.3),
		row(25, month(2016, 5), 0.4),
		row(40, month(2016, 5), 0.5),
	}
	d, err := DiDDesign(rows, DesignSpec{
		Event:        nlw2016,
		Outcome:      "unemployed",
		MinAge:       20,
		MaxAge:       30,
		FixedEffects: []string{KeyAge, KeyPeriod},
		Clusters:     []string{KeyPeriod},
	})
	require.NoError(t, err)
	require.Len(t, d.Terms, 1)
	assert.Equal(t, estimation.TreatPostTerm, d.Terms[0].Name)
	assert.Equal(t, []float64{0, 0, 0, 1}, d.Terms[0].Values)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, d.Y)
	assert.Equal(t, []string{"2016Q1", "2016Q1", "2016Q2", "2016Q2"}, d.Clusters[0].Levels)
	assert.NoError(t, d.Validate())
}

func TestDiDDesign_DateWindow(t *testing.T) {
	rows := []Row{row(24, month(2015, 1), 0), row(25, month(2016, 5), 1), row(25, month(2018, 1), 1)}
	d, err := DiDDesign(rows, DesignSpec{
		Event: nlw2016,
		From:  time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC),
		To:    time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Rows())
}

func TestEventStudyDesign_ReferenceOmitted(t *testing.T) {
	var rows []Row
	for _, m := range []time.Month{1, 4, 7, 10} {
		for _, y := range []int{2015, 2016} {
			rows = append(rows, row(24, month(y, m), 0.1), row(26, month(y, m), 0.2))
		}
	}
	d, err := EventStudyDesign(rows, DesignSpec{Event: nlw2016, Window: &Window{Lo: -3, Hi: 2}})
	require.NoError(t, err)

	var names []string
	for _, term := range d.Terms {
		names = append(names, term.Name)
		assert.NotEqual(t, -1, term.EventTime)
	}
	assert.Equal(t, []string{"treat_lead3", "treat_lead2", "treat_lag0", "treat_lag1", "treat_lag2"}, names)
	assert.Equal(t, []int{-1}, d.Reference)

	// event times -5 and -4 are binned into the lead3 endpoint
	lead3 := d.Terms[0].Values
	treated := 0.0
	for _, v := range lead3 {
		treated += v
	}
	assert.Equal(t, 3.0, treated)
}

func TestEventStudyDesign_CustomReference(t *testing.T) {
	rows := []Row{row(26, month(2015, 10), 0), row(26, month(2016, 1), 0), row(26, month(2016, 4), 1), row(24, month(2016, 4), 0)}
	d, err := EventStudyDesign(rows, DesignSpec{Event: nlw2016, Reference: []int{-1, -2}})
	require.NoError(t, err)
	require.Len(t, d.Terms, 1)
	assert.Equal(t, "treat_lag0", d.Terms[0].Name)
	assert.Equal(t, []int{-2, -1}, d.Reference)

	_, err = EventStudyDesign(rows, DesignSpec{Event: nlw2016, Reference: []int{-9}})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))

	_, err = EventStudyDesign(rows, DesignSpec{Event: nlw2016, Window: &Window{Lo: -1, Hi: -1}})
	assert.True(t, errors.Is(err, core.ErrInsufficientData))
}

func TestDesign_MissingKeys(t *testing.T) {
	rows := []Row{row(24, month(2016, 3), 0.1), row(25, month(2016, 5), 0.2)}
	_, err := DiDDesign(rows, DesignSpec{Event: nlw2016, FixedEffects: []string{survey.VarRegion}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingVariable))

	rows[0].Keys[survey.VarRegion] = "3"
	rows = append(rows, row(26, month(2016, 5), 0.3))
	rows[2].Keys[survey.VarRegion] = "4"
	d, err := DiDDesign(rows, DesignSpec{Event: nlw2016, FixedEffects: []string{survey.VarRegion}})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Rows())
	assert.Equal(t, 1, d.Excluded)
	assert.True(t, d.Warnings.Has(core.WarningDroppedRows))
}

func TestRowsFromCells(t *testing.T) {
	period := time.Date(2016, 4, 1, 0, 0, 0, 0, time.UTC)
	cells := []estimation.Cell{
		{Key: estimation.CellKey{Age: 25, Strata: "sex=1,region=NA", Period: period}, N: 3,
			Rates: map[string]estimation.Rate{"unemployed": {Defined: true, Value: 0.25, WeightSum: 4, N: 3}}},
		{Key: estimation.CellKey{Age: 26, Strata: "sex=2,region=NA", Period: period}, N: 1,
			Rates: map[string]estimation.Rate{"unemployed": {}}},
	}
	rows, warnings := RowsFromCells(cells, "unemployed", policy.UnitQuarter)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.25, rows[0].Y)
	assert.Equal(t, 4.0, rows[0].Weight)
	assert.Equal(t, "1", rows[0].Keys[survey.VarSex])
	assert.Equal(t, "2016Q2", rows[0].Keys[KeyPeriod])
	_, hasRegion := rows[0].Keys[survey.VarRegion]
	assert.False(t, hasRegion)
	assert.True(t, warnings.Has(core.WarningInsufficientData))
}

func TestRowsFromObservations(t *testing.T) {
	wave := survey.WaveID{Year: 2016, Label: "AJ", Quarters: 5}
	date := survey.Field{Present: true, Time: month(2016, 5)}
	p := &domainPanel.Panel{
		Waves:         []survey.WaveID{wave},
		MissingByWave: map[string][]string{wave.String(): {survey.VarRegion}},
		Observations: []domainPanel.Observation{
			{PersonID: "1", Wave: wave, Age: 25, RefDate: date, Weight: survey.Field{Present: true, Num: 2},
				Unemployed: domainPanel.Indicator{Defined: true, Value: true}, Sex: survey.Field{Present: true, Num: 1}},
			{PersonID: "2", Wave: wave, Age: 30, RefDate: date, Weight: survey.Field{Present: true, Num: 1},
				Unemployed: domainPanel.Indicator{}},
			{PersonID: "3", Wave: wave, Age: 31, RefDate: date, Unemployed: domainPanel.Indicator{Defined: true}},
		},
	}
	rows, warnings, err := RowsFromObservations(p, domainPanel.OutcomeUnemployed, policy.UnitMonth, []string{survey.VarSex})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.0, rows[0].Y)
	assert.Equal(t, "2016-05", rows[0].Keys[KeyPeriod])
	assert.Equal(t, "2016-AJ|1", rows[0].Keys[KeyPerson])
	assert.Equal(t, 1.0, rows[0].Covariates[survey.VarSex])
	assert.True(t, warnings.Has(core.WarningInsufficientData))
	assert.True(t, warnings.Has(core.WarningDroppedRows))

	_, _, err = RowsFromObservations(p, domainPanel.OutcomeUnemployed, policy.UnitMonth, []string{survey.VarRegion})
	assert.True(t, errors.Is(err, core.ErrMissingVariable))
	assert.Contains(t, err.Error(), "2016-AJ")

	assert.NoError(t, RequireVariables(p, survey.VarSex, KeyPeriod))
}
