package estimation

import (
	"fmt"

	"minwage/domain/core"
)

// Model identifies the estimator family
type Model string

const (
	ModelDiD        Model = "did"
	ModelEventStudy Model = "event_study"
	ModelRDD        Model = "rdd"
)

// TermKind classifies design columns
type TermKind string

const (
	TermInteraction TermKind = "interaction"
	TermEventTime   TermKind = "event_time"
	TermCovariate   TermKind = "covariate"
)

// Term is one explicit column of the design matrix
type Term struct {
	Name   string
	Kind   TermKind
	Values []float64
	// EventTime is set for event-study terms
	EventTime int
}

// Factor is a categorical column: fixed effect or cluster key
type Factor struct {
	Name   string
	Levels []string
}

// Design is the RegressionDesign built fresh per estimation call
type Design struct {
	Model        Model
	Outcome      string
	Y            []float64
	Terms        []Term
	Weights      []float64
	FixedEffects []Factor
	Clusters     []Factor
	// Reference lists event times omitted as the normalisation baseline
	Reference []int
	// Excluded counts sample rows removed for a missing key or covariate
	// before the design was built
	Excluded int
	Warnings core.Warnings
}

// Rows returns the number of observations
func (d *Design) Rows() int { return len(d.Y) }

// Validate checks that every column has one value per observation
func (d *Design) Validate() error {
	n := len(d.Y)
	if n == 0 {
		return core.NewInsufficientDataError("design for %s has no rows", d.Outcome)
	}
	if d.Weights != nil && len(d.Weights) != n {
		return core.NewInvalidInputError("weights have %d rows, outcome has %d", len(d.Weights), n)
	}
	for _, t := range d.Terms {
		if len(t.Values) != n {
			return core.NewInvalidInputError("term %s has %d rows, outcome has %d", t.Name, len(t.Values), n)
		}
	}
	for _, f := range append(append([]Factor{}, d.FixedEffects...), d.Clusters...) {
		if len(f.Levels) != n {
			return core.NewInvalidInputError("factor %s has %d rows, outcome has %d", f.Name, len(f.Levels), n)
		}
	}
	return nil
}

// VarianceKind selects the covariance estimator
type VarianceKind string

const (
	VarianceIID     VarianceKind = "iid"
	VarianceHetero  VarianceKind = "hetero"
	VarianceCluster VarianceKind = "cluster"
	VarianceTwoWay  VarianceKind = "twoway"
)

// VarianceStatus records the numerical health of a covariance matrix
type VarianceStatus struct {
	Kind        VarianceKind `json:"kind"`
	Clusters    []string     `json:"clusters,omitempty"`
	NumClusters []int        `json:"num_clusters,omitempty"`
	Reliable    bool         `json:"reliable"`
	Rank        int          `json:"rank"`
	Condition   float64      `json:"condition"`
	Reason      string       `json:"reason,omitempty"`
}

// Coefficient is one fitted term
type Coefficient struct {
	Term      string  `json:"term"`
	EventTime *int    `json:"event_time,omitempty"`
	Estimate  float64 `json:"estimate"`
	StdErr    float64 `json:"std_err"`
	TStat     float64 `json:"t_stat"`
	PValue    float64 `json:"p_value"`
}

// Result is the immutable EstimationResult
type Result struct {
	Model        Model          `json:"model"`
	Event        string         `json:"event,omitempty"`
	Outcome      string         `json:"outcome"`
	Coefficients []Coefficient  `json:"coefficients"`
	Covariance   [][]float64    `json:"covariance"`
	Variance     VarianceStatus `json:"variance"`
	FixedEffects []string       `json:"fixed_effects"`
	Reference    []int          `json:"reference,omitempty"`

	N            int     `json:"n"`
	DoF          int     `json:"dof"`
	WeightSum    float64 `json:"weight_sum"`
	RSS          float64 `json:"rss"`
	R2Within     float64 `json:"r2_within"`
	DroppedRows  int     `json:"dropped_rows"`
	DroppedTerms []string
	Residuals    []float64 `json:"-"`

	Warnings core.Warnings `json:"warnings,omitempty"`
}

// Index returns the position of a term
func (r *Result) Index(term string) (int, bool) {
	for i, c := range r.Coefficients {
		if c.Term == term {
			return i, true
		}
	}
	return -1, false
}

// Coefficient returns a fitted coefficient by name
func (r *Result) Coefficient(term string) (Coefficient, error) {
	if i, ok := r.Index(term); ok {
		return r.Coefficients[i], nil
	}
	return Coefficient{}, core.NewInvalidInputError("term %s not in %s result", term, r.Model)
}

// Terms returns coefficient names in order
func (r *Result) Terms() []string {
	out := make([]string, len(r.Coefficients))
	for i, c := range r.Coefficients {
		out[i] = c.Term
	}
	return out
}

// LeadTerms returns event-study terms with negative event time
func (r *Result) LeadTerms() []string {
	var out []string
	for _, c := range r.Coefficients {
		if c.EventTime != nil && *c.EventTime < 0 {
			out = append(out, c.Term)
		}
	}
	return out
}

// WaldResult is a joint significance test on a coefficient subset
type WaldResult struct {
	Terms   []string `json:"terms"`
	Stat    float64  `json:"stat"`
	DF      int      `json:"df"`
	PValue  float64  `json:"p_value"`
	FStat   float64  `json:"f_stat"`
	FDoF    int      `json:"f_dof"`
	FPValue float64  `json:"f_p_value"`
}

// RDDResult is a sharp regression discontinuity estimate
type RDDResult struct {
	Event           string  `json:"event,omitempty"`
	Outcome         string  `json:"outcome"`
	Estimate        float64 `json:"estimate"`
	StdErr          float64 `json:"std_err"`
	ZStat           float64 `json:"z_stat"`
	PValue          float64 `json:"p_value"`
	CILow           float64 `json:"ci_low"`
	CIHigh          float64 `json:"ci_high"`
	InterceptLeft   float64 `json:"intercept_left"`
	InterceptRight  float64 `json:"intercept_right"`
	Bandwidth       float64 `json:"bandwidth"`
	BandwidthSource string  `json:"bandwidth_source"`
	Kernel          string  `json:"kernel"`
	Order           int     `json:"order"`
	NLeft           int     `json:"n_left"`
	NRight          int     `json:"n_right"`

	Warnings core.Warnings `json:"warnings,omitempty"`
}

// EventTimeTerm names the event-study interaction for relative period k
func EventTimeTerm(k int) string {
	if k < 0 {
		return fmt.Sprintf("treat_lead%d", -k)
	}
	return fmt.Sprintf("treat_lag%d", k)
}

// TreatPostTerm names the DiD interaction
const TreatPostTerm = "treat_post"
