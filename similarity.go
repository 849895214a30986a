package aspectscore

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// RawScores holds the N×A dot and cosine matrices of one batch,
// indexed [course][aspect].
type RawScores struct {
	Dot [][]float64
	Cos [][]float64
}

// Column copies one aspect column out of m.
func Column(m [][]float64, aspect int) []float64 {
	col := make([]float64, len(m))
	for i, row := range m {
		col[i] = row[aspect]
	}
	return col
}

// Similarity returns the dot product and cosine similarity of v and s.
func Similarity(v, s []float32) (dot, cos float64, err error) {
	if len(v) != len(s) {
		return 0, 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(v), len(s))
	}
	a, err := toFloat64(v)
	if err != nil {
		return 0, 0, err
	}
	b, err := toFloat64(s)
	if err != nil {
		return 0, 0, err
	}
	return similarity64(a, b)
}

func similarity64(a, b []float64) (dot, cos float64, err error) {
	if len(a) != len(b) {
		return 0, 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, 0, fmt.Errorf("%w: zero norm, cosine undefined", ErrDegenerateVector)
	}
	dot = floats.Dot(a, b)
	cos = dot / (na * nb)
	if !isFinite(dot) {
		return 0, 0, fmt.Errorf("%w: dot product %v", ErrNonFiniteValue, dot)
	}
	if !isFinite(cos) {
		return 0, 0, fmt.Errorf("%w: cosine %v", ErrNonFiniteValue, cos)
	}
	return dot, cos, nil
}

// ExtractRawScores computes the dot and cosine matrices for a batch.
// Rows are computed in parallel; the first failure aborts the batch.
func ExtractRawScores(b Batch) (*RawScores, error) {
	if len(b.Courses) == 0 {
		return nil, fmt.Errorf("%w: no courses", ErrEmptyBatch)
	}
	if len(b.Aspects) == 0 {
		return nil, fmt.Errorf("%w: no aspects", ErrEmptyBatch)
	}

	aspects, dim, err := aspectMatrix(b.Aspects)
	if err != nil {
		return nil, err
	}

	n, na := len(b.Courses), len(aspects)
	raw := &RawScores{
		Dot: make([][]float64, n),
		Cos: make([][]float64, n),
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range b.Courses {
		g.Go(func() error {
			c := b.Courses[i]
			if len(c.Vector) != dim {
				return &ScoreError{Row: i, CourseID: c.ID, Err: fmt.Errorf("%w: course has %d dimensions, aspects have %d", ErrDimensionMismatch, len(c.Vector), dim)}
			}
			v, err := toFloat64(c.Vector)
			if err != nil {
				return &ScoreError{Row: i, CourseID: c.ID, Err: err}
			}
			dots := make([]float64, na)
			coss := make([]float64, na)
			for j, s := range aspects {
				dots[j], coss[j], err = similarity64(v, s)
				if err != nil {
					return &ScoreError{Row: i, CourseID: c.ID, Aspect: b.Aspects[j].Label, Err: err}
				}
			}
			raw.Dot[i] = dots
			raw.Cos[i] = coss
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return raw, nil
}

// aspectMatrix converts and validates the aspect vectors once per batch.
func aspectMatrix(aspects []Aspect) ([][]float64, int, error) {
	dim := len(aspects[0].Vector)
	out := make([][]float64, len(aspects))
	for j, a := range aspects {
		if len(a.Vector) != dim {
			return nil, 0, fmt.Errorf("aspect %q: %w: %d dimensions, expected %d", a.Label, ErrDimensionMismatch, len(a.Vector), dim)
		}
		v, err := toFloat64(a.Vector)
		if err != nil {
			return nil, 0, fmt.Errorf("aspect %q: %w", a.Label, err)
		}
		if floats.Norm(v, 2) == 0 {
			return nil, 0, fmt.Errorf("aspect %q: %w: zero norm", a.Label, ErrDegenerateVector)
		}
		out[j] = v
	}
	if dim == 0 {
		return nil, 0, fmt.Errorf("%w: aspect vectors are empty", ErrDegenerateVector)
	}
	return out, dim, nil
}

func toFloat64(v []float32) ([]float64, error) {
	out := make([]float64, len(v))
	for i, x := range v {
		f := float64(x)
		if !isFinite(f) {
			return nil, fmt.Errorf("%w: component %d is %v", ErrNonFiniteValue, i, f)
		}
		out[i] = f
	}
	return out, nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
