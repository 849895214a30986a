package aspectscore

import (
	"slices"
	"sort"
)

// Summary describes the distribution of one score column.
type Summary struct {
	Column string  `json:"column"`
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"` // population
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes the summary of vals, ignoring non-finite entries.
func Summarize(column string, vals []float64) Summary {
	finite := make([]float64, 0, len(vals))
	for _, v := range vals {
		if isFinite(v) {
			finite = append(finite, v)
		}
	}
	s := Summary{Column: column, N: len(finite)}
	if len(finite) == 0 {
		return s
	}
	sort.Float64s(finite)
	s.Mean, s.Std = popMeanStd(finite)
	s.Median = quantileSorted(finite, 0.5)
	s.Min, s.Max = finite[0], slices.Max(finite)
	return s
}

// SummarizeRecords summarizes every score column of a run, in
// ScoreColumns order per aspect.
func SummarizeRecords(aspects []string, recs []ScoreRecord, p Params) []Summary {
	var out []Summary
	for _, aspect := range aspects {
		names := ScoreColumns(aspect, p)
		cols := make([][]float64, len(names))
		for _, r := range recs {
			if r.Aspect != aspect {
				continue
			}
			for j, v := range ColumnValues(r) {
				cols[j] = append(cols[j], v)
			}
		}
		for j, name := range names {
			out = append(out, Summarize(name, cols[j]))
		}
	}
	return out
}
