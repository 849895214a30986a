package aspectscore

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// CalibrationStrategy rescales one raw cosine column so that scores are
// comparable across the batch before softmax or sigmoid.
type CalibrationStrategy interface {
	// Fit computes the column statistics the strategy needs.
	Fit(col []float64) ColumnStats
	// Apply maps one raw value using statistics returned by Fit.
	Apply(x float64, stats ColumnStats) float64
	Name() Calibration
}

// NoCalibration passes raw cosine through.
type NoCalibration struct{}

func (NoCalibration) Name() Calibration { return CalibrationNone }

func (NoCalibration) Fit(col []float64) ColumnStats {
	return describe(col)
}

func (NoCalibration) Apply(x float64, _ ColumnStats) float64 { return x }

// ZScoreCalibration standardizes the column to mean 0 and unit std.
type ZScoreCalibration struct{}

func (ZScoreCalibration) Name() Calibration { return CalibrationZScore }

func (ZScoreCalibration) Fit(col []float64) ColumnStats {
	stats := describe(col)
	if !isFinite(stats.Std) || stats.Std < MinStd {
		stats.Std = 1
		stats.Floored = true
	}
	return stats
}

func (ZScoreCalibration) Apply(x float64, stats ColumnStats) float64 {
	return (x - stats.Mean) / stats.Std
}

// MinMaxCalibration rescales the column to [0,1] and then to [-1,1].
type MinMaxCalibration struct{}

func (MinMaxCalibration) Name() Calibration { return CalibrationMinMax }

func (MinMaxCalibration) Fit(col []float64) ColumnStats {
	stats := describe(col)
	if !(stats.Max-stats.Min >= MinStd) {
		stats.Floored = true
	}
	return stats
}

func (MinMaxCalibration) Apply(x float64, stats ColumnStats) float64 {
	span := stats.Max - stats.Min
	if stats.Floored {
		span = 1
	}
	return 2*((x-stats.Min)/span) - 1
}

// CalibrateColumn fits s on col and applies it to every value.
func CalibrateColumn(s CalibrationStrategy, col []float64) ([]float64, ColumnStats) {
	stats := s.Fit(col)
	out := make([]float64, len(col))
	for i, x := range col {
		out[i] = s.Apply(x, stats)
	}
	return out, stats
}

// Softmax returns softmax(row/tau). The row maximum is subtracted before
// exponentiating, so the output sums to 1 for any finite input.
func Softmax(row []float64, tau float64) ([]float64, error) {
	if !(tau > 0) {
		return nil, invalidParam("tau", "must be > 0, got %v", tau)
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("%w: softmax over an empty row", ErrEmptyBatch)
	}
	out := make([]float64, len(row))
	copy(out, row)
	floats.Scale(1/tau, out)
	floats.AddConst(-floats.Max(out), out)
	for i, x := range out {
		out[i] = math.Exp(x)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out, nil
}

// SigmoidScaled returns σ(x/tau).
func SigmoidScaled(x, tau float64) (float64, error) {
	if !(tau > 0) {
		return 0, invalidParam("tau", "must be > 0, got %v", tau)
	}
	return StableSigmoid(clip(x/tau, -maxLogit, maxLogit)), nil
}

// describe returns count, mean, population std and range of col.
func describe(col []float64) ColumnStats {
	stats := ColumnStats{N: len(col)}
	if len(col) == 0 {
		return stats
	}
	stats.Mean, stats.Std = popMeanStd(col)
	stats.Min, stats.Max = slices.Min(col), slices.Max(col)
	return stats
}
