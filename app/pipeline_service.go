package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"minwage/domain/core"
	"minwage/domain/estimation"
	domainPanel "minwage/domain/panel"
	"minwage/domain/survey"
	"minwage/internal"
	"minwage/internal/aggregate"
	"minwage/internal/config"
	"minwage/internal/econometrics"
	"minwage/internal/errors"
	"minwage/internal/harmonize"
	"minwage/internal/panel"
	"minwage/ports"
)

// PipelineService runs a study end to end: load, harmonize, build the
// panel, aggregate and estimate every configured analysis
type PipelineService struct {
	loader   ports.WaveLoader
	repo     ports.ResultRepository
	exporter ports.Exporter
	log      *internal.Logger
	workers  int
}

// Option configures a PipelineService
type Option func(*PipelineService)

// WithRepository persists every analysis outcome
func WithRepository(repo ports.ResultRepository) Option {
	return func(s *PipelineService) { s.repo = repo }
}

// WithExporter writes cells and results after the analyses finish
func WithExporter(e ports.Exporter) Option {
	return func(s *PipelineService) { s.exporter = e }
}

// WithLogger sets the service logger
func WithLogger(log *internal.Logger) Option {
	return func(s *PipelineService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithWorkers bounds wave and analysis parallelism
func WithWorkers(n int) Option {
	return func(s *PipelineService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewPipelineService creates a pipeline service reading waves from loader
func NewPipelineService(loader ports.WaveLoader, opts ...Option) *PipelineService {
	s := &PipelineService{loader: loader, log: internal.NewNopLogger(), workers: 4}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("pipeline")
	return s
}

// WaveReport describes the fate of one wave
type WaveReport struct {
	Wave         survey.WaveID
	Observations int
	Missing      []string
	Warnings     core.Warnings
	Err          error
	ErrorCode    string
}

// AnalysisOutcome is the isolated result of one analysis. Exactly one of
// Result, RDD or Err is set.
type AnalysisOutcome struct {
	RunID    core.RunID
	Analysis config.Analysis
	Result   *estimation.Result
	RDD      *estimation.RDDResult
	// PreTrends is the joint test of event-study leads
	PreTrends    *estimation.WaldResult
	PreTrendsErr error
	Warnings     core.Warnings
	Err          error
	ErrorCode    string
	Duration     time.Duration
}

// PipelineResult collects everything a run produced
type PipelineResult struct {
	ID       core.PipelineID
	Panel    *domainPanel.Panel
	Cells    []estimation.Cell
	Waves    []WaveReport
	Analyses []AnalysisOutcome
	Warnings core.Warnings
}

// Outcome returns the analysis outcome by name
func (r *PipelineResult) Outcome(name string) (AnalysisOutcome, bool) {
	for _, a := range r.Analyses {
		if a.Analysis.Name == name {
			return a, true
		}
	}
	return AnalysisOutcome{}, false
}

// Run executes the study. Wave and analysis failures are isolated and
// reported in the result; the returned error is reserved for failures that
// leave nothing to estimate and for persistence or export errors.
func (s *PipelineService) Run(ctx context.Context, study *config.Study) (*PipelineResult, error) {
	analyses, err := study.ResolveAnalyses()
	if err != nil {
		return nil, err
	}
	vars := study.VariableMap()
	hopts := []harmonize.Option{harmonize.WithLogger(s.log)}
	if study.DateLayout != "" {
		hopts = append(hopts, harmonize.WithDateLayout(study.DateLayout))
	}
	h, err := harmonize.New(vars, hopts...)
	if err != nil {
		return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), "invalid variable map")
	}
	builder, err := panel.NewBuilder(study.PanelConfig(), s.log)
	if err != nil {
		return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), "invalid panel settings")
	}

	res := &PipelineResult{ID: core.NewPipelineID()}
	s.log.Info("pipeline %s started: %d analyses", res.ID, len(analyses))

	p, reports, err := s.buildPanel(ctx, study, h, builder)
	if err != nil {
		return nil, err
	}
	res.Panel, res.Waves = p, reports
	res.Warnings = append(res.Warnings, p.Warnings...)
	if len(p.Observations) == 0 {
		return res, core.NewInsufficientDataError("no observations from %d waves", len(reports))
	}

	if s.exporter != nil || needsCells(analyses) {
		agg, err := aggregate.New(study.AggregateConfig())
		if err != nil {
			return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), "invalid aggregation settings")
		}
		cells, warnings := agg.Aggregate(p.Observations)
		res.Cells = cells
		res.Warnings = append(res.Warnings, warnings...)
		if sum, err := aggregate.Summarize(cells); err == nil {
			s.log.Info("aggregated %d cells over %d periods (median n %.0f)", sum.Cells, sum.Periods, sum.MedianN)
		}
	}

	res.Analyses = s.runAnalyses(ctx, analyses, p, res.Cells, study)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if s.repo != nil {
		if err := s.persist(ctx, res); err != nil {
			return res, err
		}
	}
	if s.exporter != nil {
		if err := s.export(res, study); err != nil {
			return res, err
		}
	}
	s.log.Info("pipeline %s finished", res.ID)
	return res, nil
}

func needsCells(analyses []config.Analysis) bool {
	for _, a := range analyses {
		if a.Aggregate {
			return true
		}
	}
	return false
}

// buildPanel loads and harmonizes waves in parallel. A failing wave is
// reported and excluded; it never cancels its siblings.
func (s *PipelineService) buildPanel(ctx context.Context, study *config.Study, h *harmonize.Harmonizer, b *panel.Builder) (*domainPanel.Panel, []WaveReport, error) {
	all, err := s.loader.Waves(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to list waves")
	}
	var ids []survey.WaveID
	for _, id := range all {
		if study.Years.Contains(id.Year) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil, core.NewInsufficientDataError("no waves available in the configured years")
	}

	reports := make([]WaveReport, len(ids))
	expanded := make([]panel.WaveObservations, len(ids))
	loaded := make([]bool, len(ids))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, id := range ids {
		g.Go(func() error {
			reports[i].Wave = id
			raw, err := s.loader.Load(ctx, id)
			if err != nil {
				s.log.Warn("wave %s failed to load: %v", id, err)
				reports[i].Err = err
				reports[i].ErrorCode = errors.GetCode(err)
				return nil
			}
			hw, warnings := h.Harmonize(raw)
			expanded[i] = b.Expand(hw)
			loaded[i] = true
			reports[i].Missing = hw.Missing
			reports[i].Warnings = warnings
			reports[i].Observations = len(expanded[i].Observations)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var ok []panel.WaveObservations
	var failures core.Warnings
	var failedIDs []survey.WaveID
	for i := range ids {
		if loaded[i] {
			ok = append(ok, expanded[i])
			continue
		}
		failedIDs = append(failedIDs, ids[i])
		failures = append(failures, core.Warning{
			Code:    core.WarningWaveFailed,
			Wave:    ids[i].String(),
			Message: reports[i].Err.Error(),
		})
	}
	p := b.Combine(ok)
	p.Excluded = append(p.Excluded, failedIDs...)
	for _, r := range reports {
		p.Warnings = append(p.Warnings, r.Warnings...)
	}
	p.Warnings = append(p.Warnings, failures...)
	return p, reports, nil
}

// runAnalyses estimates every analysis concurrently; each outcome carries
// its own error
func (s *PipelineService) runAnalyses(ctx context.Context, analyses []config.Analysis, p *domainPanel.Panel, cells []estimation.Cell, study *config.Study) []AnalysisOutcome {
	out := make([]AnalysisOutcome, len(analyses))
	opts := study.EstimatorOptions()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, a := range analyses {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i] = failed(a, err)
				return nil
			}
			start := time.Now()
			o := s.runAnalysis(a, p, cells, study, opts)
			o.Duration = time.Since(start)
			if o.Err != nil {
				s.log.Warn("analysis %s failed [%s]: %v", a.Name, o.ErrorCode, o.Err)
			} else {
				s.log.Info("analysis %s finished in %s", a.Name, o.Duration.Round(time.Millisecond))
			}
			out[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func failed(a config.Analysis, err error) AnalysisOutcome {
	return AnalysisOutcome{RunID: core.NewRunID(), Analysis: a, Err: err, ErrorCode: errors.GetCode(err)}
}

func (s *PipelineService) runAnalysis(a config.Analysis, p *domainPanel.Panel, cells []estimation.Cell, study *config.Study, opts econometrics.Options) AnalysisOutcome {
	switch a.Model {
	case estimation.ModelRDD:
		return s.runRDD(a, p, cells)
	case estimation.ModelDiD, estimation.ModelEventStudy:
		return s.runFixedEffects(a, p, cells, study, opts)
	}
	return failed(a, core.NewInvalidInputError("unknown model %s", a.Model))
}

func (s *PipelineService) runFixedEffects(a config.Analysis, p *domainPanel.Panel, cells []estimation.Cell, study *config.Study, opts econometrics.Options) AnalysisOutcome {
	spec := a.Design
	// every contributing wave must resolve the design's keys
	required := append(append([]string(nil), spec.FixedEffects...), spec.Clusters...)
	if a.Aggregate {
		required = append(required, study.AggregateConfig().Strata...)
	}
	if err := econometrics.RequireVariables(p, required...); err != nil {
		return failed(a, err)
	}

	var rows []econometrics.Row
	var warnings core.Warnings
	if a.Aggregate {
		rows, warnings = econometrics.RowsFromCells(cells, spec.Outcome, study.Unit())
	} else {
		var err error
		rows, warnings, err = econometrics.RowsFromObservations(p, spec.Outcome, study.Unit(), spec.Covariates)
		if err != nil {
			return failed(a, err)
		}
	}

	var d *estimation.Design
	var err error
	if a.Model == estimation.ModelDiD {
		d, err = econometrics.DiDDesign(rows, spec)
	} else {
		d, err = econometrics.EventStudyDesign(rows, spec)
	}
	if err != nil {
		return failed(a, err)
	}
	fit, err := econometrics.FitFE(d, opts)
	if err != nil {
		return failed(a, err)
	}
	res, err := fit.Result(a.Variance)
	if err != nil {
		return failed(a, err)
	}
	res.Event = spec.Event.Name
	res.Warnings = append(warnings, res.Warnings...)

	o := AnalysisOutcome{RunID: core.NewRunID(), Analysis: a, Result: res, Warnings: res.Warnings}
	if a.Model == estimation.ModelEventStudy {
		o.PreTrends, o.PreTrendsErr = econometrics.PreTrends(res)
	}
	return o
}

func (s *PipelineService) runRDD(a config.Analysis, p *domainPanel.Panel, cells []estimation.Cell) AnalysisOutcome {
	spec := a.Design
	var in econometrics.RDDInput
	var warnings core.Warnings
	if a.Aggregate {
		in = econometrics.RDDInputFromCells(cells, spec.Event, spec.Outcome)
	} else {
		var err error
		in, warnings, err = econometrics.RDDInputFromObservations(p, spec.Event, spec.Outcome)
		if err != nil {
			return failed(a, err)
		}
	}
	in = restrictAges(in, spec.Event.AgeThreshold, spec.MinAge, spec.MaxAge)
	res, err := econometrics.RDD(in, a.RDD)
	if err != nil {
		return failed(a, err)
	}
	res.Warnings = append(warnings, res.Warnings...)
	return AnalysisOutcome{RunID: core.NewRunID(), Analysis: a, RDD: res, Warnings: res.Warnings}
}

// restrictAges keeps running values whose age lies in [minAge, maxAge]
func restrictAges(in econometrics.RDDInput, threshold, minAge, maxAge int) econometrics.RDDInput {
	if minAge <= 0 && maxAge <= 0 {
		return in
	}
	out := econometrics.RDDInput{Event: in.Event, Outcome: in.Outcome}
	for i, x := range in.X {
		age := int(x) + threshold
		if (minAge > 0 && age < minAge) || (maxAge > 0 && age > maxAge) {
			continue
		}
		out.X = append(out.X, x)
		out.Y = append(out.Y, in.Y[i])
		out.W = append(out.W, in.W[i])
		out.Dates = append(out.Dates, in.Dates[i])
	}
	return out
}

func (s *PipelineService) persist(ctx context.Context, res *PipelineResult) error {
	for _, o := range res.Analyses {
		run := ports.RunRecord{
			ID:         o.RunID,
			PipelineID: res.ID,
			Analysis:   o.Analysis.Name,
			Model:      o.Analysis.Model,
			Event:      o.Analysis.Design.Event.Name,
			Outcome:    o.Analysis.Design.Outcome,
			Status:     ports.RunCompleted,
			Warnings:   o.Warnings,
			CreatedAt:  time.Now().UTC(),
		}
		var coefs []estimation.Coefficient
		switch {
		case o.Err != nil:
			run.Status = ports.RunFailed
			run.ErrorCode = o.ErrorCode
			run.Error = o.Err.Error()
		case o.Result != nil:
			run.N = o.Result.N
			run.Variance = o.Result.Variance
			coefs = o.Result.Coefficients
		case o.RDD != nil:
			run.N = o.RDD.NLeft + o.RDD.NRight
			coefs = []estimation.Coefficient{rddCoefficient(o.RDD)}
		}
		if err := s.repo.SaveRun(ctx, run); err != nil {
			return errors.Wrapf(err, "failed to persist analysis %s", o.Analysis.Name)
		}
		if len(coefs) > 0 {
			if err := s.repo.SaveCoefficients(ctx, o.RunID, coefs); err != nil {
				return errors.Wrapf(err, "failed to persist coefficients of %s", o.Analysis.Name)
			}
		}
	}
	s.log.Debug("persisted %d analyses", len(res.Analyses))
	return nil
}

// RDDTerm names the discontinuity estimate in persisted and exported tables
const RDDTerm = "rdd_jump"

func rddCoefficient(r *estimation.RDDResult) estimation.Coefficient {
	return estimation.Coefficient{Term: RDDTerm, Estimate: r.Estimate, StdErr: r.StdErr, TStat: r.ZStat, PValue: r.PValue}
}

func (s *PipelineService) export(res *PipelineResult, study *config.Study) error {
	if err := s.exporter.WriteCells(res.Cells, study.AggregateConfig().Outcomes); err != nil {
		return fmt.Errorf("failed to export cells: %w", err)
	}
	if err := s.exporter.WriteResults(ResultRows(res)); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}
	return nil
}

// ResultRows flattens analysis outcomes for export
func ResultRows(res *PipelineResult) []ports.ResultRow {
	var rows []ports.ResultRow
	for _, o := range res.Analyses {
		base := ports.ResultRow{
			Analysis: o.Analysis.Name,
			Model:    o.Analysis.Model,
			Event:    o.Analysis.Design.Event.Name,
			Outcome:  o.Analysis.Design.Outcome,
		}
		switch {
		case o.Err != nil:
			r := base
			r.Note = fmt.Sprintf("%s: %v", o.ErrorCode, o.Err)
			rows = append(rows, r)
		case o.Result != nil:
			note := ""
			if !o.Result.Variance.Reliable {
				note = "unreliable variance: " + o.Result.Variance.Reason
			}
			for _, c := range o.Result.Coefficients {
				r := base
				r.Term, r.Estimate, r.StdErr, r.Stat, r.PValue = c.Term, c.Estimate, c.StdErr, c.TStat, c.PValue
				r.N, r.Note = o.Result.N, note
				rows = append(rows, r)
			}
			switch {
			case o.PreTrends != nil:
				r := base
				r.Term, r.Stat, r.PValue, r.N = "pretrends_wald", o.PreTrends.Stat, o.PreTrends.PValue, o.Result.N
				r.Note = fmt.Sprintf("df=%d F=%.4g", o.PreTrends.DF, o.PreTrends.FStat)
				rows = append(rows, r)
			case o.PreTrendsErr != nil:
				r := base
				r.Term = "pretrends_wald"
				r.Note = fmt.Sprintf("%s: %v", errors.GetCode(o.PreTrendsErr), o.PreTrendsErr)
				rows = append(rows, r)
			}
		case o.RDD != nil:
			r := base
			c := rddCoefficient(o.RDD)
			r.Term, r.Estimate, r.StdErr, r.Stat, r.PValue = c.Term, c.Estimate, c.StdErr, c.TStat, c.PValue
			r.N = o.RDD.NLeft + o.RDD.NRight
			r.Note = fmt.Sprintf("h=%.3g (%s, %s)", o.RDD.Bandwidth, o.RDD.BandwidthSource, o.RDD.Kernel)
			rows = append(rows, r)
		}
	}
	return rows
}
