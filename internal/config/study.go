package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"minwage/adapters/waves"
	"minwage/domain/estimation"
	"minwage/domain/policy"
	"minwage/domain/survey"
	"minwage/internal/aggregate"
	"minwage/internal/econometrics"
	"minwage/internal/errors"
	"minwage/internal/panel"
)

// DateLayout is the layout of dates written in the study file
const DateLayout = "2006-01-02"

// Study describes one pipeline run: which waves to read, how to harmonize
// them and which analyses to estimate
type Study struct {
	Name    string           `yaml:"name"`
	Years   YearRange        `yaml:"years"`
	BaseDir string           `yaml:"base_dir"`
	Waves   []waves.WaveFile `yaml:"waves"`

	// DateLayout parses reference dates in the raw waves
	DateLayout string `yaml:"date_layout"`
	// Variables replaces canonical variables of the default map by name and
	// appends new ones
	Variables []survey.CanonicalVariable `yaml:"variables"`
	// WeightCandidates lists the weight names to try for a wave, keyed by
	// wave id ("2017-JM")
	WeightCandidates map[string][]string `yaml:"weight_candidates"`
	// Overrides replaces synonyms per wave and canonical name
	Overrides map[string]map[string][]string `yaml:"overrides"`

	Panel     PanelSettings        `yaml:"panel"`
	TimeUnit  policy.TimeUnit      `yaml:"time_unit"`
	Events    []EventSpec          `yaml:"events"`
	Aggregate AggregateSettings    `yaml:"aggregate"`
	Analyses  []AnalysisSpec       `yaml:"analyses"`
	Limits    *econometrics.Limits `yaml:"limits"`
}

// YearRange bounds the survey years read; zero disables a side
type YearRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// Contains reports whether year lies in the inclusive range
func (r YearRange) Contains(year int) bool {
	if r.From > 0 && year < r.From {
		return false
	}
	if r.To > 0 && year > r.To {
		return false
	}
	return true
}

// PanelSettings configures panel construction
type PanelSettings struct {
	EmploymentCodes *panel.EmploymentCodes `yaml:"employment_codes"`
	Dedup           panel.DedupPolicy      `yaml:"dedup"`
	MinAge          int                    `yaml:"min_age"`
	MaxAge          int                    `yaml:"max_age"`
}

// EventSpec is the YAML form of a policy event
type EventSpec struct {
	Name          string `yaml:"name"`
	AgeThreshold  int    `yaml:"age_threshold"`
	ImplementedOn string `yaml:"implemented_on"`
}

// AggregateSettings configures cell aggregation
type AggregateSettings struct {
	Strata   []string `yaml:"strata"`
	Outcomes []string `yaml:"outcomes"`
}

// AnalysisSpec is one configured estimation
type AnalysisSpec struct {
	Name    string           `yaml:"name"`
	Model   estimation.Model `yaml:"model"`
	Event   string           `yaml:"event"`
	Outcome string           `yaml:"outcome"`
	MinAge  int              `yaml:"min_age"`
	MaxAge  int              `yaml:"max_age"`
	// Aggregate estimates on weighted cells instead of individual rows
	Aggregate    bool                      `yaml:"aggregate"`
	FixedEffects []string                  `yaml:"fixed_effects"`
	Clusters     []string                  `yaml:"clusters"`
	Covariates   []string                  `yaml:"covariates"`
	Variance     econometrics.VarianceSpec `yaml:"variance"`
	From         string                    `yaml:"from"`
	To           string                    `yaml:"to"`
	Window       *econometrics.Window      `yaml:"window"`
	Reference    []int                     `yaml:"reference"`
	RDD          *econometrics.RDDConfig   `yaml:"rdd"`
}

// Analysis is a validated, resolved analysis ready to run
type Analysis struct {
	Name      string
	Model     estimation.Model
	Aggregate bool
	Design    econometrics.DesignSpec
	Variance  econometrics.VarianceSpec
	RDD       econometrics.RDDConfig
}

// LoadStudy reads and validates a YAML study file
func LoadStudy(path string) (*Study, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ConfigInvalid(err.Error()), "failed to read study file %s", path)
	}
	return ParseStudy(data)
}

// ParseStudy decodes and validates a YAML study document
func ParseStudy(data []byte) (*Study, error) {
	var s Study
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, errors.ConfigInvalid(fmt.Sprintf("failed to parse study: %v", err))
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the study for consistency
func (s *Study) Validate() error {
	if s.Years.From > 0 && s.Years.To > 0 && s.Years.From > s.Years.To {
		return errors.ConfigInvalid(fmt.Sprintf("years.from %d after years.to %d", s.Years.From, s.Years.To))
	}
	if len(s.WaveFiles()) == 0 {
		return errors.ConfigInvalid("no waves selected")
	}
	switch s.TimeUnit {
	case "", policy.UnitMonth, policy.UnitQuarter:
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown time_unit %q", s.TimeUnit))
	}
	if err := s.VariableMap().Validate(); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	if _, err := s.PolicyTable(); err != nil {
		return err
	}
	if len(s.Analyses) == 0 {
		return errors.ConfigInvalid("no analyses configured")
	}
	if _, err := s.ResolveAnalyses(); err != nil {
		return err
	}
	return nil
}

// WaveFiles returns the manifest entries inside the year range
func (s *Study) WaveFiles() []waves.WaveFile {
	out := make([]waves.WaveFile, 0, len(s.Waves))
	for _, f := range s.Waves {
		if s.Years.Contains(f.Wave.Year) {
			out = append(out, f)
		}
	}
	return out
}

// VariableMap merges the study's variables and per-wave candidates into the
// default map
func (s *Study) VariableMap() survey.VariableMap {
	m := survey.DefaultVariableMap()
	for _, v := range s.Variables {
		replaced := false
		for i := range m.Variables {
			if m.Variables[i].Name == v.Name {
				m.Variables[i] = v
				replaced = true
				break
			}
		}
		if !replaced {
			m.Variables = append(m.Variables, v)
		}
	}
	m.Overrides = make(map[string]map[string][]string, len(s.Overrides)+len(s.WeightCandidates))
	for wave, ov := range s.Overrides {
		m.Overrides[wave] = make(map[string][]string, len(ov))
		for name, syn := range ov {
			m.Overrides[wave][name] = syn
		}
	}
	for wave, names := range s.WeightCandidates {
		if m.Overrides[wave] == nil {
			m.Overrides[wave] = make(map[string][]string, 1)
		}
		m.Overrides[wave][survey.VarWeight] = names
	}
	return m
}

// PanelConfig returns the panel builder settings
func (s *Study) PanelConfig() panel.Config {
	cfg := panel.DefaultConfig()
	if s.Panel.EmploymentCodes != nil {
		cfg.Codes = *s.Panel.EmploymentCodes
	}
	if s.Panel.Dedup != "" {
		cfg.Dedup = s.Panel.Dedup
	}
	cfg.MinAge = s.Panel.MinAge
	cfg.MaxAge = s.Panel.MaxAge
	return cfg
}

// AggregateConfig returns the aggregator settings
func (s *Study) AggregateConfig() aggregate.Config {
	cfg := aggregate.DefaultConfig()
	cfg.Unit = s.Unit()
	cfg.Strata = s.Aggregate.Strata
	if len(s.Aggregate.Outcomes) > 0 {
		cfg.Outcomes = s.Aggregate.Outcomes
	}
	return cfg
}

// Unit returns the relative time unit, quarter by default
func (s *Study) Unit() policy.TimeUnit {
	if s.TimeUnit == "" {
		return policy.UnitQuarter
	}
	return s.TimeUnit
}

// EstimatorOptions returns fixed-effects estimator options with the study's
// capacity limits
func (s *Study) EstimatorOptions() econometrics.Options {
	opts := econometrics.DefaultOptions()
	if s.Limits != nil {
		opts.Limits = *s.Limits
	}
	return opts
}

// PolicyTable converts the configured events into a validated table
func (s *Study) PolicyTable() (*policy.Table, error) {
	events := make([]policy.Event, 0, len(s.Events))
	for _, e := range s.Events {
		on, err := time.Parse(DateLayout, e.ImplementedOn)
		if err != nil {
			return nil, errors.ConfigInvalid(fmt.Sprintf("event %s: invalid implemented_on %q", e.Name, e.ImplementedOn))
		}
		events = append(events, policy.Event{Name: e.Name, AgeThreshold: e.AgeThreshold, ImplementedOn: on})
	}
	t, err := policy.NewTable(events...)
	if err != nil {
		return nil, errors.ConfigInvalid(err.Error())
	}
	return t, nil
}

// ResolveAnalyses binds every analysis to its policy event and parses its
// date window
func (s *Study) ResolveAnalyses() ([]Analysis, error) {
	table, err := s.PolicyTable()
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(s.Analyses))
	out := make([]Analysis, 0, len(s.Analyses))
	for i, a := range s.Analyses {
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("%s_%s_%s", a.Model, a.Event, a.Outcome)
		}
		if names[name] {
			return nil, errors.ConfigInvalid(fmt.Sprintf("analysis %s declared twice", name))
		}
		names[name] = true
		resolved, err := s.resolve(name, a, table)
		if err != nil {
			return nil, errors.Wrapf(err, "analysis %d (%s)", i, name)
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (s *Study) resolve(name string, a AnalysisSpec, table *policy.Table) (Analysis, error) {
	event, ok := table.Lookup(a.Event)
	if !ok {
		return Analysis{}, errors.ConfigInvalid(fmt.Sprintf("unknown event %q", a.Event))
	}
	if a.Outcome == "" {
		return Analysis{}, errors.ConfigInvalid("outcome is required")
	}
	if a.MinAge > 0 && a.MaxAge > 0 && a.MinAge > a.MaxAge {
		return Analysis{}, errors.ConfigInvalid(fmt.Sprintf("min_age %d above max_age %d", a.MinAge, a.MaxAge))
	}
	from, err := parseOptionalDate(a.From)
	if err != nil {
		return Analysis{}, err
	}
	to, err := parseOptionalDate(a.To)
	if err != nil {
		return Analysis{}, err
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return Analysis{}, errors.ConfigInvalid(fmt.Sprintf("from %s not before to %s", a.From, a.To))
	}

	out := Analysis{Name: name, Model: a.Model, Aggregate: a.Aggregate}
	switch a.Model {
	case estimation.ModelDiD, estimation.ModelEventStudy:
		if a.Window != nil && a.Window.Lo > a.Window.Hi {
			return Analysis{}, errors.ConfigInvalid(fmt.Sprintf("window lo %d above hi %d", a.Window.Lo, a.Window.Hi))
		}
		if err := validateVariance(a.Variance); err != nil {
			return Analysis{}, err
		}
		out.Variance = a.Variance
		if out.Variance.Kind == "" {
			out.Variance.Kind = estimation.VarianceHetero
		}
		out.Design = econometrics.DesignSpec{
			Event:        event,
			Outcome:      a.Outcome,
			Unit:         s.Unit(),
			MinAge:       a.MinAge,
			MaxAge:       a.MaxAge,
			From:         from,
			To:           to,
			FixedEffects: a.FixedEffects,
			Clusters:     clusterKeys(a.Clusters, a.FixedEffects, out.Variance.Clusters),
			Covariates:   a.Covariates,
			Window:       a.Window,
			Reference:    a.Reference,
		}
	case estimation.ModelRDD:
		cfg := econometrics.DefaultRDDConfig()
		if a.RDD != nil {
			cfg = mergeRDD(cfg, *a.RDD)
		}
		if !cfg.Kernel.Valid() {
			return Analysis{}, errors.ConfigInvalid(fmt.Sprintf("unknown kernel %q", cfg.Kernel))
		}
		if cfg.Order < 0 || cfg.Order > 4 {
			return Analysis{}, errors.ConfigInvalid(fmt.Sprintf("polynomial order %d outside [0, 4]", cfg.Order))
		}
		if cfg.Level <= 0 || cfg.Level >= 1 {
			return Analysis{}, errors.ConfigInvalid(fmt.Sprintf("confidence level %v outside (0, 1)", cfg.Level))
		}
		cfg.From, cfg.To = from, to
		out.RDD = cfg
		out.Design = econometrics.DesignSpec{Event: event, Outcome: a.Outcome, MinAge: a.MinAge, MaxAge: a.MaxAge}
	default:
		return Analysis{}, errors.ConfigInvalid(fmt.Sprintf("unknown model %q", a.Model))
	}
	return out, nil
}

// clusterKeys adds variance cluster keys that are neither design clusters nor
// fixed effects
func clusterKeys(clusters, fixedEffects, variance []string) []string {
	out := append([]string(nil), clusters...)
	for _, v := range variance {
		if !contains(out, v) && !contains(fixedEffects, v) {
			out = append(out, v)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

func mergeRDD(base, over econometrics.RDDConfig) econometrics.RDDConfig {
	if over.Kernel != "" {
		base.Kernel = over.Kernel
	}
	if over.Order > 0 {
		base.Order = over.Order
	}
	if over.Bandwidth > 0 {
		base.Bandwidth = over.Bandwidth
	}
	if over.Level > 0 {
		base.Level = over.Level
	}
	base.ClusterRunning = over.ClusterRunning
	return base
}

func validateVariance(v econometrics.VarianceSpec) error {
	switch v.Kind {
	case "", estimation.VarianceIID, estimation.VarianceHetero:
		if len(v.Clusters) > 0 {
			return errors.ConfigInvalid(fmt.Sprintf("variance %q takes no clusters", v.Kind))
		}
	case estimation.VarianceCluster:
		if len(v.Clusters) != 1 {
			return errors.ConfigInvalid("cluster variance needs exactly one cluster key")
		}
	case estimation.VarianceTwoWay:
		if len(v.Clusters) != 2 {
			return errors.ConfigInvalid("twoway variance needs exactly two cluster keys")
		}
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown variance kind %q", v.Kind))
	}
	return nil
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.ConfigInvalid(fmt.Sprintf("invalid date %q, want %s", s, DateLayout))
	}
	return t, nil
}
