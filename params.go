package aspectscore

import (
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Pipeline selects how raw similarities become a bounded score.
type Pipeline string

const (
	PipelineFusion     Pipeline = "fusion"     // Mode A: normalized dot + cosine, log-odds fusion
	PipelineCalibrated Pipeline = "calibrated" // Mode B: calibrated cosine, softmax or sigmoid
)

// DotMode selects the dot-product column normalizer used by the fusion pipeline.
type DotMode string

const (
	DotModeZScore     DotMode = "zscore"
	DotModePercentile DotMode = "percentile"
)

// Calibration selects the cosine column calibration used by the calibrated pipeline.
type Calibration string

const (
	CalibrationNone   Calibration = "none"
	CalibrationZScore Calibration = "zscore"
	CalibrationMinMax Calibration = "minmax"
)

// LabelMode selects mutually exclusive (softmax) or independent (sigmoid) output.
type LabelMode string

const (
	LabelSingle LabelMode = "single"
	LabelMulti  LabelMode = "multi"
)

// Defaults taken from the course scoring runs the engine was tuned on.
const (
	DefaultWeight       = 0.65
	DefaultTemperature  = 2.2
	DefaultBias         = -0.35
	DefaultGamma        = 1.0
	DefaultTrimFraction = 0.05
	DefaultTau          = 1.0
)

// Params is the full tunable surface of one batch run.
type Params struct {
	Pipeline     Pipeline    `json:"pipeline" koanf:"pipeline"`
	Weight       float64     `json:"weight" koanf:"weight"`
	Temperature  float64     `json:"temperature" koanf:"temperature"`
	Bias         float64     `json:"bias" koanf:"bias"`
	Gamma        float64     `json:"gamma" koanf:"gamma"`
	TrimFraction float64     `json:"trim_fraction" koanf:"trim_fraction"`
	DotMode      DotMode     `json:"dot_mode" koanf:"dot_mode"`
	Calibration  Calibration `json:"calibration" koanf:"calibration"`
	Tau          float64     `json:"tau" koanf:"tau"`
	LabelMode    LabelMode   `json:"label_mode" koanf:"label_mode"`
}

// DefaultParams returns the fusion pipeline with percentile dot normalization.
func DefaultParams() Params {
	return Params{
		Pipeline:     PipelineFusion,
		Weight:       DefaultWeight,
		Temperature:  DefaultTemperature,
		Bias:         DefaultBias,
		Gamma:        DefaultGamma,
		TrimFraction: DefaultTrimFraction,
		DotMode:      DotModePercentile,
		Calibration:  CalibrationZScore,
		Tau:          DefaultTau,
		LabelMode:    LabelMulti,
	}
}

// Validate reports every out-of-range or unknown setting at once.
// Each reported error matches ErrInvalidParameter.
func (p Params) Validate() error {
	var result *multierror.Error
	add := func(err error) { result = multierror.Append(result, err) }

	switch p.Pipeline {
	case PipelineFusion, PipelineCalibrated:
	default:
		add(invalidParam("pipeline", "must be one of {fusion, calibrated}, got %q", p.Pipeline))
	}
	if !(p.Weight > 0 && p.Weight < 1) {
		add(invalidParam("weight", "must be in (0, 1), got %v", p.Weight))
	}
	if !(p.Temperature > 0) || math.IsInf(p.Temperature, 0) {
		add(invalidParam("temperature", "must be > 0, got %v", p.Temperature))
	}
	if math.IsNaN(p.Bias) || math.IsInf(p.Bias, 0) {
		add(invalidParam("bias", "must be finite, got %v", p.Bias))
	}
	if !(p.Gamma > 0) || math.IsInf(p.Gamma, 0) {
		add(invalidParam("gamma", "must be > 0, got %v", p.Gamma))
	}
	if !(p.TrimFraction >= 0 && p.TrimFraction < 0.5) {
		add(invalidParam("trim_fraction", "must be in [0, 0.5), got %v", p.TrimFraction))
	}
	switch p.DotMode {
	case DotModeZScore, DotModePercentile:
	default:
		add(invalidParam("dot_mode", "must be one of {zscore, percentile}, got %q", p.DotMode))
	}
	switch p.Calibration {
	case CalibrationNone, CalibrationZScore, CalibrationMinMax:
	default:
		add(invalidParam("calibration", "must be one of {none, zscore, minmax}, got %q", p.Calibration))
	}
	if !(p.Tau > 0) || math.IsInf(p.Tau, 0) {
		add(invalidParam("tau", "must be > 0, got %v", p.Tau))
	}
	switch p.LabelMode {
	case LabelSingle, LabelMulti:
	default:
		add(invalidParam("label_mode", "must be one of {single, multi}, got %q", p.LabelMode))
	}
	return result.ErrorOrNil()
}

// Fusion extracts the combiner settings.
func (p Params) Fusion() FusionParams {
	return FusionParams{Weight: p.Weight, Temperature: p.Temperature, Bias: p.Bias}
}

// Normalizer returns the dot-column strategy selected by DotMode.
func (p Params) Normalizer() (NormalizationStrategy, error) {
	switch p.DotMode {
	case DotModeZScore:
		return ZScoreSigmoid{Gamma: p.Gamma, TrimFraction: p.TrimFraction}, nil
	case DotModePercentile:
		return PercentileRank{}, nil
	}
	return nil, invalidParam("dot_mode", "unknown %q", p.DotMode)
}

// Calibrator returns the cosine-column strategy selected by Calibration.
func (p Params) Calibrator() (CalibrationStrategy, error) {
	switch p.Calibration {
	case CalibrationNone:
		return NoCalibration{}, nil
	case CalibrationZScore:
		return ZScoreCalibration{}, nil
	case CalibrationMinMax:
		return MinMaxCalibration{}, nil
	}
	return nil, invalidParam("calibration", "unknown %q", p.Calibration)
}

// String renders the settings that affect the selected pipeline.
func (p Params) String() string {
	if p.Pipeline == PipelineCalibrated {
		return fmt.Sprintf("calibrated(calibration=%s tau=%g label=%s)", p.Calibration, p.Tau, p.LabelMode)
	}
	return fmt.Sprintf("fusion(dot=%s weight=%g temperature=%g bias=%g gamma=%g trim=%g)",
		p.DotMode, p.Weight, p.Temperature, p.Bias, p.Gamma, p.TrimFraction)
}

// normalizeMode lowercases and trims a mode flag coming from config or a CLI.
func normalizeMode(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ApplyModeFlags parses string-valued mode flags into p. Empty values keep
// the current setting; unknown values are left for Validate to report.
func (p *Params) ApplyModeFlags(pipeline, dotMode, calibration, labelMode string) {
	if v := normalizeMode(pipeline); v != "" {
		p.Pipeline = Pipeline(v)
	}
	if v := normalizeMode(dotMode); v != "" {
		p.DotMode = DotMode(v)
	}
	if v := normalizeMode(calibration); v != "" {
		p.Calibration = Calibration(v)
	}
	if v := normalizeMode(labelMode); v != "" {
		p.LabelMode = LabelMode(v)
	}
}
