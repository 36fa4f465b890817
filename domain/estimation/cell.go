package estimation

import (
	"fmt"
	"time"
)

// CellKey is the grouping key of an AggregatedCell
type CellKey struct {
	Age    int       `json:"age"`
	Strata string    `json:"strata"`
	Period time.Time `json:"period"`
}

func (k CellKey) String() string {
	return fmt.Sprintf("age=%d|%s|%s", k.Age, k.Strata, k.Period.Format("2006-01"))
}

// Rate is an optional weighted rate. Undefined rates are never zero.
type Rate struct {
	Defined   bool    `json:"defined"`
	Value     float64 `json:"value"`
	WeightSum float64 `json:"weight_sum"`
	N         int     `json:"n"`
}

// Cell is an AggregatedCell. It is created by the aggregator and never
// mutated afterwards.
type Cell struct {
	Key   CellKey         `json:"key"`
	N     int             `json:"n"`
	Rates map[string]Rate `json:"rates"`
}

// Rate returns the rate for an outcome
func (c Cell) Rate(outcome string) Rate {
	return c.Rates[outcome]
}
