package aspectscore

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func TestZScoreCalibrationCentres(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	col := make([]float64, 50)
	for i := range col {
		col[i] = r.Float64()*0.6 + 0.1
	}

	once, _ := CalibrateColumn(ZScoreCalibration{}, col)
	assert.InDelta(t, 0.0, stat.Mean(once, nil), 1e-9)
	_, std := popMeanStd(once)
	assert.InDelta(t, 1.0, std, 1e-9)

	twice, _ := CalibrateColumn(ZScoreCalibration{}, once)
	assert.InDeltaSlice(t, once, twice, 1e-9)
}

func TestZScoreCalibrationConstant(t *testing.T) {
	out, stats := CalibrateColumn(ZScoreCalibration{}, []float64{0.3, 0.3, 0.3})
	assert.True(t, stats.Floored)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, out, 1e-12)
}

func TestMinMaxCalibration(t *testing.T) {
	out, stats := CalibrateColumn(MinMaxCalibration{}, []float64{0.2, 0.4, 0.6})
	assert.False(t, stats.Floored)
	assert.InDeltaSlice(t, []float64{-1, 0, 1}, out, 1e-12)

	out, stats = CalibrateColumn(MinMaxCalibration{}, []float64{0.5, 0.5})
	assert.True(t, stats.Floored)
	assert.InDeltaSlice(t, []float64{-1, -1}, out, 1e-12)
}

func TestNoCalibration(t *testing.T) {
	col := []float64{-0.4, 0.1, 0.9}
	out, stats := CalibrateColumn(NoCalibration{}, col)
	assert.Equal(t, col, out)
	assert.Equal(t, 3, stats.N)
	assert.Equal(t, -0.4, stats.Min)
	assert.Equal(t, 0.9, stats.Max)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 50; i++ {
		row := []float64{r.NormFloat64() * 5, r.NormFloat64() * 5, r.NormFloat64() * 5, r.NormFloat64() * 5}
		tau := 0.05 + r.Float64()*2
		probs, err := Softmax(row, tau)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, floats.Sum(probs), 1e-6)
		for _, p := range probs {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
		}
	}
}

func TestSoftmaxLargeInputs(t *testing.T) {
	probs, err := Softmax([]float64{1000, 1000, -1000}, 0.01)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0}, probs, 1e-12)
	for _, p := range probs {
		assert.False(t, math.IsNaN(p))
	}
}

func TestSoftmaxRejectsBadTau(t *testing.T) {
	_, err := Softmax([]float64{1, 2}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = Softmax([]float64{1, 2}, -1)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = Softmax(nil, 1)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestSigmoidScaled(t *testing.T) {
	s, err := SigmoidScaled(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.5, s)

	sharp, err := SigmoidScaled(1, 0.1)
	require.NoError(t, err)
	soft, err := SigmoidScaled(1, 10)
	require.NoError(t, err)
	assert.Greater(t, sharp, soft)

	_, err = SigmoidScaled(1, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
