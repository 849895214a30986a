package aspectscore

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// MinStd is the floor below which a column standard deviation is
	// treated as degenerate and substituted.
	MinStd = 1e-6

	// UniformStd is the standard deviation of U(0,1), substituted for
	// degenerate percentile-rank columns.
	UniformStd = 0.288675
)

// NormalizationStrategy rescales one raw dot-product column (all courses,
// one aspect) into [0,1]. Implementations are pure; the returned stats
// describe the column the values were normalized against.
type NormalizationStrategy interface {
	Normalize(col []float64) ([]float64, ColumnStats)
	Name() DotMode
}

// ZScoreSigmoid maps each value through a logistic of its robust z-score.
type ZScoreSigmoid struct {
	Gamma        float64
	TrimFraction float64
}

func (ZScoreSigmoid) Name() DotMode { return DotModeZScore }

func (z ZScoreSigmoid) Normalize(col []float64) ([]float64, ColumnStats) {
	stats := RobustMeanStd(col, z.TrimFraction)
	out := make([]float64, len(col))
	for i, x := range col {
		out[i] = clip(StableSigmoid(z.Gamma*(x-stats.Mean)/stats.Std), 0, 1)
	}
	return out, stats
}

// PercentileRank maps each value to its average-rank percentile.
type PercentileRank struct{}

func (PercentileRank) Name() DotMode { return DotModePercentile }

func (PercentileRank) Normalize(col []float64) ([]float64, ColumnStats) {
	ranks := PercentileRanks(col)
	for i := range ranks {
		ranks[i] = clip(ranks[i], 0, 1)
	}
	stats := ColumnStats{N: len(ranks)}
	if len(ranks) > 0 {
		stats.Mean, stats.Std = popMeanStd(ranks)
		stats.Min, stats.Max = slices.Min(ranks), slices.Max(ranks)
	}
	if !(stats.Std >= MinStd) {
		stats.Std = UniformStd
		stats.Floored = true
	}
	return ranks, stats
}

// RobustMeanStd returns the mean and population standard deviation of the
// finite values of col. Columns with more than four finite values are
// trimmed to the [trim, 1-trim] quantile range first, provided the trimmed
// subset keeps at least max(3, n/2) values. A std below MinStd, or a
// non-finite one, is replaced by 1.
func RobustMeanStd(col []float64, trim float64) ColumnStats {
	vals := make([]float64, 0, len(col))
	for _, x := range col {
		if isFinite(x) {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return ColumnStats{Mean: 0, Std: 1, Floored: true}
	}
	sort.Float64s(vals)

	stats := ColumnStats{}
	if trim > 0 && trim < 0.5 && len(vals) > 4 {
		lower := quantileSorted(vals, trim)
		upper := quantileSorted(vals, 1-trim)
		kept := make([]float64, 0, len(vals))
		for _, x := range vals {
			if x >= lower && x <= upper {
				kept = append(kept, x)
			}
		}
		if len(kept) >= max(3, len(vals)/2) {
			stats.Trimmed = len(kept) < len(vals)
			vals = kept
		}
	}

	stats.N = len(vals)
	stats.Min, stats.Max = vals[0], vals[len(vals)-1]
	stats.Mean, stats.Std = popMeanStd(vals)
	if !isFinite(stats.Std) || stats.Std < MinStd {
		stats.Std = 1
		stats.Floored = true
	}
	return stats
}

// PercentileRanks returns rank/n for every value, ties sharing the mean of
// their 1-based ranks.
func PercentileRanks(col []float64) []float64 {
	n := len(col)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return col[idx[a]] < col[idx[b]] })

	for start := 0; start < n; {
		end := start + 1
		for end < n && col[idx[end]] == col[idx[start]] {
			end++
		}
		// ranks start+1..end share their average
		avg := float64(start+1+end) / 2
		for k := start; k < end; k++ {
			out[idx[k]] = avg / float64(n)
		}
		start = end
	}
	return out
}

// quantileSorted is the linearly interpolated quantile at position
// p·(n−1) of an ascending slice.
func quantileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// popMeanStd returns the mean and population (ddof=0) standard deviation.
func popMeanStd(x []float64) (mean, std float64) {
	mean = stat.Mean(x, nil)
	return mean, math.Sqrt(stat.MomentAbout(2, x, mean, nil))
}

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
