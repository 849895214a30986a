package aspectscore

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultFusion() FusionParams {
	return DefaultParams().Fusion()
}

func TestFuseDefaults(t *testing.T) {
	p := defaultFusion()

	a := Fuse(0.8, 0.9, p)
	b := Fuse(-0.2, 0.1, p)
	assert.InDelta(t, 0.6567, a, 1e-3)
	assert.InDelta(t, 0.3059, b, 1e-3)
	assert.Greater(t, a, b)
}

func TestFuseSharpTemperature(t *testing.T) {
	p := FusionParams{Weight: 0.65, Temperature: 0.5, Bias: -0.35}
	assert.Greater(t, Fuse(0.8, 0.9, p), 0.9)
	assert.Less(t, Fuse(-0.2, 0.1, p), 0.1)
}

func TestFuseNeutralEvidence(t *testing.T) {
	p := FusionParams{Weight: 0.5, Temperature: 1, Bias: 0}
	assert.InDelta(t, 0.5, Fuse(0, 0.5, p), 1e-12)
	assert.Greater(t, Fuse(0.1, 0.6, p), 0.5)
	assert.Less(t, Fuse(-0.1, 0.4, p), 0.5)
}

func TestFuseExtremesStayBounded(t *testing.T) {
	p := FusionParams{Weight: 0.9, Temperature: 0.01, Bias: 0}
	hi := Fuse(1, 1, p)
	lo := Fuse(-1, 0, p)
	assert.False(t, math.IsNaN(hi))
	assert.False(t, math.IsNaN(lo))
	assert.InDelta(t, 1.0, hi, 1e-12)
	assert.InDelta(t, 0.0, lo, 1e-12)
	assert.Greater(t, lo, 0.0)

	// out-of-range inputs are clipped
	assert.Equal(t, Fuse(1, 1, p), Fuse(3, 2, p))
}

func TestFuseMonotone(t *testing.T) {
	p := defaultFusion()
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 200; i++ {
		c := r.Float64()*2 - 1
		d := r.Float64()
		base := Fuse(c, d, p)

		dc := r.Float64() * (1 - c)
		assert.GreaterOrEqual(t, Fuse(c+dc, d, p), base-1e-12, "cos %v -> %v", c, c+dc)

		dd := r.Float64() * (1 - d)
		assert.GreaterOrEqual(t, Fuse(c, d+dd, p), base-1e-12, "dot %v -> %v", d, d+dd)

		assert.GreaterOrEqual(t, base, 0.0)
		assert.LessOrEqual(t, base, 1.0)
	}
}

func TestStableSigmoid(t *testing.T) {
	assert.Equal(t, 0.5, StableSigmoid(0))
	assert.InDelta(t, 1/(1+math.Exp(-2)), StableSigmoid(2), 1e-15)
	assert.InDelta(t, 1-StableSigmoid(3), StableSigmoid(-3), 1e-15)
	assert.False(t, math.IsNaN(StableSigmoid(-1000)))
	assert.Equal(t, 1.0, StableSigmoid(1000))
}
