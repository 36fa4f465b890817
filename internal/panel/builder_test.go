package panel

import (
	"testing"
	"time"

	"minwage/domain/core"
	"minwage/domain/survey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func num(v float64) survey.Field { return survey.Field{Present: true, Num: v} }

func record(wave survey.WaveID, id string, fields map[survey.FieldKey]survey.Field) survey.HarmonizedRecord {
	fields[survey.FieldKey{Name: survey.VarPersonID}] = survey.Field{Present: true, Text: id}
	return survey.HarmonizedRecord{Wave: wave, Fields: fields}
}

func key(name string, q int) survey.FieldKey { return survey.FieldKey{Name: name, Quarter: q} }

func TestExpand_DropsMissingQuartersAndDerivesOutcomes(t *testing.T) {
	b, err := NewBuilder(DefaultConfig(), nil)
	require.NoError(t, err)

	wave := survey.WaveID{Year: 2016, Label: "JM", Quarters: 3}
	hw := &survey.HarmonizedWave{
		ID: wave,
		Records: []survey.HarmonizedRecord{
			record(wave, "p1", map[survey.FieldKey]survey.Field{
				key(survey.VarAge, 1): num(24), key(survey.VarEmpStatus, 1): num(1),
				key(survey.VarAge, 2): num(24.6), key(survey.VarEmpStatus, 2): num(2),
				key(survey.VarAge, 3): num(25), // status missing
				key(survey.VarWeight, 0): num(100),
			}),
			record(wave, "p2", map[survey.FieldKey]survey.Field{
				key(survey.VarAge, 2): num(40), key(survey.VarEmpStatus, 2): num(3),
			}),
		},
	}

	out := b.Expand(hw)
	require.Len(t, out.Observations, 3)
	assert.Equal(t, 3, out.Dropped)

	o := out.Observations[1]
	assert.Equal(t, "p1", o.PersonID)
	assert.Equal(t, 2, o.Quarter)
	assert.Equal(t, 24, o.Age, "ages are floored")
	assert.Equal(t, 100.0, o.Weight.Num, "wave-level weight shared across quarters")
	u, ok := o.Unemployed.Float()
	assert.True(t, ok)
	assert.Equal(t, 1.0, u)

	inactive := out.Observations[2]
	assert.False(t, inactive.Unemployed.Defined, "unemployment undefined for the inactive")
	v, ok := inactive.Inactive.Float()
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestCombine_RelativeQuarterAndExclusion(t *testing.T) {
	b, err := NewBuilder(DefaultConfig(), nil)
	require.NoError(t, err)

	w1 := survey.WaveID{Year: 2016, Label: "JM", Quarters: 5}
	w2 := survey.WaveID{Year: 2016, Label: "AJ", Quarters: 5}
	empty := survey.WaveID{Year: 2016, Label: "JS", Quarters: 5}

	waves := []*survey.HarmonizedWave{
		{ID: w1, Records: []survey.HarmonizedRecord{
			record(w1, "p1", map[survey.FieldKey]survey.Field{
				key(survey.VarAge, 3): num(30), key(survey.VarEmpStatus, 3): num(1),
				key(survey.VarAge, 5): num(30), key(survey.VarEmpStatus, 5): num(1),
			}),
		}},
		{ID: w2, Missing: []string{survey.VarRegion}, Records: []survey.HarmonizedRecord{
			record(w2, "p1", map[survey.FieldKey]survey.Field{
				key(survey.VarAge, 2): num(30), key(survey.VarEmpStatus, 2): num(2),
			}),
			record(w2, "p9", map[survey.FieldKey]survey.Field{
				key(survey.VarAge, 4): num(50), key(survey.VarEmpStatus, 4): num(1),
			}),
		}},
		{ID: empty, Records: []survey.HarmonizedRecord{
			record(empty, "p3", map[survey.FieldKey]survey.Field{key(survey.VarAge, 1): num(20)}),
		}},
	}

	p := b.Build(waves)
	require.Equal(t, 4, p.Len())
	assert.Equal(t, []survey.WaveID{w1, w2}, p.Waves)
	assert.Equal(t, []survey.WaveID{empty}, p.Excluded)
	assert.True(t, p.Warnings.Has(core.WarningEmptyWave))
	assert.Equal(t, []string{"2016-AJ"}, p.WavesMissing(survey.VarRegion))

	// p1 is not deduplicated across waves: min quarter 2 comes from the second wave
	minByPerson := map[string]int{}
	for _, o := range p.Observations {
		assert.GreaterOrEqual(t, o.RelativeQuarter, 0)
		if m, ok := minByPerson[o.PersonID]; !ok || o.Quarter < m {
			minByPerson[o.PersonID] = o.Quarter
		}
	}
	for _, o := range p.Observations {
		assert.Equal(t, o.Quarter-minByPerson[o.PersonID], o.RelativeQuarter)
	}
	assert.Equal(t, 1, p.Observations[0].RelativeQuarter)
	assert.Equal(t, 0, p.Observations[3].RelativeQuarter)
}

func TestCombine_DedupPersonPeriod(t *testing.T) {
	date := func(m time.Month) survey.Field {
		return survey.Field{Present: true, Time: time.Date(2017, m, 10, 0, 0, 0, 0, time.UTC)}
	}
	w1 := survey.WaveID{Year: 2017, Label: "JM", Quarters: 2}
	w2 := survey.WaveID{Year: 2017, Label: "AJ", Quarters: 2}
	mk := func(w survey.WaveID, q1, q2 time.Month) *survey.HarmonizedWave {
		return &survey.HarmonizedWave{ID: w, Records: []survey.HarmonizedRecord{
			record(w, "same", map[survey.FieldKey]survey.Field{
				key(survey.VarAge, 1): num(22), key(survey.VarEmpStatus, 1): num(1), key(survey.VarRefDate, 1): date(q1),
				key(survey.VarAge, 2): num(22), key(survey.VarEmpStatus, 2): num(1), key(survey.VarRefDate, 2): date(q2),
			}),
		}}
	}
	waves := []*survey.HarmonizedWave{mk(w1, 1, 4), mk(w2, 4, 7)}

	none, err := NewBuilder(DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, none.Build(waves).Len(), "default keeps overlapping respondents")

	cfg := DefaultConfig()
	cfg.Dedup = DedupPersonPeriod
	dd, err := NewBuilder(cfg, nil)
	require.NoError(t, err)
	p := dd.Build(waves)
	assert.Equal(t, 3, p.Len())
	assert.True(t, p.Warnings.Has(core.WarningDuplicatePersons))
}

func TestNewBuilder_Validation(t *testing.T) {
	_, err := NewBuilder(Config{Dedup: "sometimes"}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = NewBuilder(Config{MinAge: 30, MaxAge: 20}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestExpand_AgeWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinAge, cfg.MaxAge = 20, 30
	b, err := NewBuilder(cfg, nil)
	require.NoError(t, err)

	wave := survey.WaveID{Year: 2020}
	hw := &survey.HarmonizedWave{ID: wave, Records: []survey.HarmonizedRecord{
		record(wave, "young", map[survey.FieldKey]survey.Field{key(survey.VarAge, 0): num(19), key(survey.VarEmpStatus, 0): num(1)}),
		record(wave, "in", map[survey.FieldKey]survey.Field{key(survey.VarAge, 0): num(25), key(survey.VarEmpStatus, 0): num(1)}),
		record(wave, "old", map[survey.FieldKey]survey.Field{key(survey.VarAge, 0): num(31), key(survey.VarEmpStatus, 0): num(1)}),
	}}
	out := b.Expand(hw)
	require.Len(t, out.Observations, 1)
	assert.Equal(t, "in", out.Observations[0].PersonID)
	assert.Equal(t, 1, out.Observations[0].Quarter)
}
