package aspectscore

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarityIdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	dot, cos, err := Similarity(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 14.0, dot, 1e-12)
	assert.InDelta(t, 1.0, cos, 1e-12)
}

func TestSimilarityOrthogonalAndOpposite(t *testing.T) {
	_, cos, err := Similarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, cos, 1e-12)

	dot, cos, err := Similarity([]float32{1, 0}, []float32{-2, 0})
	require.NoError(t, err)
	assert.InDelta(t, -2.0, dot, 1e-12)
	assert.InDelta(t, -1.0, cos, 1e-12)
}

func TestSimilarityErrors(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name string
		v, s []float32
		want error
	}{
		{"dimension", []float32{1, 2}, []float32{1, 2, 3}, ErrDimensionMismatch},
		{"zero course", []float32{0, 0}, []float32{1, 2}, ErrDegenerateVector},
		{"zero aspect", []float32{1, 2}, []float32{0, 0}, ErrDegenerateVector},
		{"nan", []float32{nan, 1}, []float32{1, 2}, ErrNonFiniteValue},
		{"inf", []float32{1, 2}, []float32{inf, 1}, ErrNonFiniteValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Similarity(tt.v, tt.s)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExtractRawScoresShape(t *testing.T) {
	b := Batch{
		Aspects: []Aspect{
			{Label: "skills", Vector: []float32{1, 0}},
			{Label: "product", Vector: []float32{0, 1}},
		},
	}
	for i := 0; i < 40; i++ {
		b.Courses = append(b.Courses, Course{
			ID:     fmt.Sprintf("c%d", i),
			Vector: []float32{float32(i + 1), 1},
		})
	}

	raw, err := ExtractRawScores(b)
	require.NoError(t, err)
	require.Len(t, raw.Dot, 40)
	require.Len(t, raw.Cos, 40)
	for i := range b.Courses {
		// rows stay aligned with their course despite parallel extraction
		assert.InDelta(t, float64(i+1), raw.Dot[i][0], 1e-9)
		assert.InDelta(t, 1.0, raw.Dot[i][1], 1e-9)
	}
	assert.Equal(t, []float64{1, 1}, Column(raw.Dot[:2], 1))
}

func TestExtractRawScoresRowError(t *testing.T) {
	b := Batch{
		Aspects: []Aspect{{Label: "skills", Vector: []float32{1, 0}}},
		Courses: []Course{
			{ID: "ok", Vector: []float32{1, 1}},
			{ID: "zero", Vector: []float32{0, 0}},
		},
	}
	_, err := ExtractRawScores(b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDegenerateVector)

	var se *ScoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.Row)
	assert.Equal(t, "zero", se.CourseID)
	assert.Equal(t, "skills", se.Aspect)
}

func TestExtractRawScoresAspectValidation(t *testing.T) {
	course := []Course{{ID: "a", Vector: []float32{1, 1}}}

	_, err := ExtractRawScores(Batch{Courses: course, Aspects: []Aspect{
		{Label: "skills", Vector: []float32{1, 0}},
		{Label: "product", Vector: []float32{1, 0, 0}},
	}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = ExtractRawScores(Batch{Courses: course, Aspects: []Aspect{
		{Label: "skills", Vector: []float32{0, 0}},
	}})
	assert.ErrorIs(t, err, ErrDegenerateVector)

	_, err = ExtractRawScores(Batch{Courses: []Course{{ID: "a", Vector: []float32{1, 0, 0}}}, Aspects: []Aspect{
		{Label: "skills", Vector: []float32{1, 0}},
	}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestExtractRawScoresEmpty(t *testing.T) {
	_, err := ExtractRawScores(Batch{Aspects: []Aspect{{Label: "skills", Vector: []float32{1}}}})
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = ExtractRawScores(Batch{Courses: []Course{{ID: "a", Vector: []float32{1}}}})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}
