package aspectscore

import "math"

const (
	// fusionEps keeps log() away from zero at the ends of [0,1].
	fusionEps = 1e-12

	// maxLogit bounds the fused logit before exponentiation.
	maxLogit = 60.0
)

// FusionParams control the log-odds combination of cosine and dot evidence.
type FusionParams struct {
	Weight      float64 // trust in cosine relative to dot, in (0,1)
	Temperature float64 // > 0; larger values flatten the decision boundary
	Bias        float64 // additive logit shift; negative is stricter
}

// Fuse blends a cosine similarity in [-1,1] with a normalized dot value in
// [0,1] into a probability.
//
//	c' = clip((cos+1)/2, 0, 1)
//	pos = w·ln(c'+ε) + (1−w)·ln(d+ε)
//	neg = w·ln(1−c'+ε) + (1−w)·ln(1−d+ε)
//	fused = σ(clip((pos−neg)/T + bias, −60, 60))
//
// The result is non-decreasing in both cos and normDot.
func Fuse(cos, normDot float64, p FusionParams) float64 {
	c := clip((cos+1)/2, 0, 1)
	d := clip(normDot, 0, 1)
	w := p.Weight

	logPos := w*math.Log(c+fusionEps) + (1-w)*math.Log(d+fusionEps)
	logNeg := w*math.Log(1-c+fusionEps) + (1-w)*math.Log(1-d+fusionEps)

	logit := (logPos/p.Temperature - logNeg/p.Temperature) + p.Bias
	return StableSigmoid(clip(logit, -maxLogit, maxLogit))
}

// StableSigmoid is the logistic function, branching on sign so the
// exponential never overflows.
func StableSigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
