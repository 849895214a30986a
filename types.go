package aspectscore

// Aspect is a fixed target concept every course is scored against.
type Aspect struct {
	Label  string    // column identifier, e.g. "skills"
	Key    string    // key in the aspects file, e.g. "personal_development"
	Vector []float32 // reference embedding
}

// Course is one catalog entry. The engine reads Vector and never mutates it.
type Course struct {
	ID     string
	Text   string
	Vector []float32
}

// Batch is the unit of calibration: statistics are computed over all of
// its courses, per aspect.
type Batch struct {
	Courses []Course
	Aspects []Aspect
}

// ColumnStats are the per-aspect scalars computed once per batch.
type ColumnStats struct {
	Aspect  string  `json:"aspect"`
	N       int     `json:"n"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Trimmed bool    `json:"trimmed,omitempty"` // zscore: trimmed subset was used
	Floored bool    `json:"floored,omitempty"` // std fell below the floor and was substituted
}

// ScoreRecord is the engine output for one (course, aspect) pair.
// Fields not produced by the selected pipeline are zero.
type ScoreRecord struct {
	CourseID string `json:"course_id"`
	Aspect   string `json:"aspect"`

	Dot float64 `json:"dot"`
	Cos float64 `json:"cos"`

	// fusion pipeline
	NormalizedDot float64 `json:"normalized_dot"`
	Fused         float64 `json:"fused"`

	// calibrated pipeline
	CosCalibrated float64 `json:"cos_calibrated"`
	Softmax       float64 `json:"softmax"`
	Sigmoid       float64 `json:"sigmoid"`

	// Score is the primary value: Fused, Softmax or Sigmoid.
	Score float64 `json:"score"`
}
