package export

import (
	"strconv"

	"minwage/domain/estimation"
	"minwage/ports"
)

// cellTable lays out aggregated cells with one rate, weight and count column
// per outcome. Undefined rates are written as empty cells, never zero.
func cellTable(cells []estimation.Cell, outcomes []string) [][]string {
	header := []string{"age", "strata", "period", "n"}
	for _, o := range outcomes {
		header = append(header, o+"_rate", o+"_weight", o+"_n")
	}
	out := [][]string{header}
	for _, c := range cells {
		row := []string{
			strconv.Itoa(c.Key.Age),
			c.Key.Strata,
			c.Key.Period.Format("2006-01-02"),
			strconv.Itoa(c.N),
		}
		for _, o := range outcomes {
			r := c.Rate(o)
			rate := ""
			if r.Defined {
				rate = formatFloat(r.Value)
			}
			row = append(row, rate, formatFloat(r.WeightSum), strconv.Itoa(r.N))
		}
		out = append(out, row)
	}
	return out
}

var resultHeader = []string{"analysis", "model", "event", "outcome", "term", "estimate", "std_err", "stat", "p_value", "n", "note"}

func resultTable(rows []ports.ResultRow) [][]string {
	out := [][]string{resultHeader}
	for _, r := range rows {
		out = append(out, []string{
			r.Analysis,
			string(r.Model),
			r.Event,
			r.Outcome,
			r.Term,
			formatFloat(r.Estimate),
			formatFloat(r.StdErr),
			formatFloat(r.Stat),
			formatFloat(r.PValue),
			strconv.Itoa(r.N),
			r.Note,
		})
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}
