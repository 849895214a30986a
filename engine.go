package aspectscore

import (
	"fmt"
)

// CalibrationContext holds the per-batch column statistics and the
// column-wise transforms derived from them. It is built once after all raw
// scores are known and is read-only afterwards, so rows can be fused
// concurrently.
type CalibrationContext struct {
	params  Params
	labels  []string
	raw     *RawScores
	stats   []ColumnStats
	normDot [][]float64 // fusion: [course][aspect] in [0,1]
	cosCal  [][]float64 // calibrated: [course][aspect]
}

// NewCalibrationContext computes the column statistics the selected
// pipeline needs. p must already be valid.
func NewCalibrationContext(raw *RawScores, aspects []Aspect, p Params) (*CalibrationContext, error) {
	if raw == nil || len(raw.Dot) == 0 {
		return nil, fmt.Errorf("%w: no raw scores", ErrEmptyBatch)
	}
	n, na := len(raw.Dot), len(aspects)
	cc := &CalibrationContext{
		params: p,
		labels: make([]string, na),
		raw:    raw,
		stats:  make([]ColumnStats, na),
	}
	for j, a := range aspects {
		cc.labels[j] = a.Label
	}

	switch p.Pipeline {
	case PipelineFusion:
		norm, err := p.Normalizer()
		if err != nil {
			return nil, err
		}
		cc.normDot = newMatrix(n, na)
		for j := range aspects {
			vals, stats := norm.Normalize(Column(raw.Dot, j))
			stats.Aspect = cc.labels[j]
			cc.stats[j] = stats
			setColumn(cc.normDot, j, vals)
		}
	case PipelineCalibrated:
		cal, err := p.Calibrator()
		if err != nil {
			return nil, err
		}
		cc.cosCal = newMatrix(n, na)
		for j := range aspects {
			vals, stats := CalibrateColumn(cal, Column(raw.Cos, j))
			stats.Aspect = cc.labels[j]
			cc.stats[j] = stats
			setColumn(cc.cosCal, j, vals)
		}
	default:
		return nil, invalidParam("pipeline", "unknown %q", p.Pipeline)
	}
	return cc, nil
}

// Stats returns the per-aspect column statistics in aspect order.
func (cc *CalibrationContext) Stats() []ColumnStats {
	out := make([]ColumnStats, len(cc.stats))
	copy(out, cc.stats)
	return out
}

// NormalizedDot is the normalized dot value of course i against aspect j.
// It is zero outside the fusion pipeline.
func (cc *CalibrationContext) NormalizedDot(i, j int) float64 {
	if cc.normDot == nil {
		return 0
	}
	return cc.normDot[i][j]
}

// Fuse returns the fused probability of course i against aspect j.
func (cc *CalibrationContext) Fuse(i, j int) float64 {
	return Fuse(cc.raw.Cos[i][j], cc.NormalizedDot(i, j), cc.params.Fusion())
}

// Calibrated returns the calibrated cosine row of course i.
func (cc *CalibrationContext) Calibrated(i int) []float64 {
	if cc.cosCal == nil {
		return nil
	}
	row := make([]float64, len(cc.cosCal[i]))
	copy(row, cc.cosCal[i])
	return row
}

// Row builds the score records of course i, in aspect order.
func (cc *CalibrationContext) Row(i int, courseID string) ([]ScoreRecord, error) {
	recs := make([]ScoreRecord, len(cc.labels))
	for j, label := range cc.labels {
		recs[j] = ScoreRecord{
			CourseID: courseID,
			Aspect:   label,
			Dot:      cc.raw.Dot[i][j],
			Cos:      cc.raw.Cos[i][j],
		}
	}

	if cc.params.Pipeline == PipelineFusion {
		for j := range recs {
			recs[j].NormalizedDot = cc.NormalizedDot(i, j)
			recs[j].Fused = cc.Fuse(i, j)
			recs[j].Score = recs[j].Fused
		}
		return recs, nil
	}

	cal := cc.Calibrated(i)
	for j := range recs {
		recs[j].CosCalibrated = cal[j]
	}
	if cc.params.LabelMode == LabelSingle {
		probs, err := Softmax(cal, cc.params.Tau)
		if err != nil {
			return nil, err
		}
		for j := range recs {
			recs[j].Softmax = probs[j]
			recs[j].Score = probs[j]
		}
		return recs, nil
	}
	for j := range recs {
		s, err := SigmoidScaled(cal[j], cc.params.Tau)
		if err != nil {
			return nil, err
		}
		recs[j].Sigmoid = s
		recs[j].Score = s
	}
	return recs, nil
}

// Result is the output of one batch run.
type Result struct {
	RunID   string        `json:"run_id,omitempty"`
	Params  Params        `json:"params"`
	Aspects []string      `json:"aspects"`
	Stats   []ColumnStats `json:"stats"`
	// Records is row-major: course i, aspect j is Records[i*len(Aspects)+j].
	Records []ScoreRecord `json:"records"`
}

// Record returns the record of course row i and aspect column j.
func (r *Result) Record(i, j int) ScoreRecord {
	return r.Records[i*len(r.Aspects)+j]
}

// Courses is the number of scored course rows.
func (r *Result) Courses() int {
	if len(r.Aspects) == 0 {
		return 0
	}
	return len(r.Records) / len(r.Aspects)
}

// Lookup finds the record for (courseID, aspect).
func (r *Result) Lookup(courseID, aspect string) (ScoreRecord, bool) {
	for _, rec := range r.Records {
		if rec.CourseID == courseID && rec.Aspect == aspect {
			return rec, true
		}
	}
	return ScoreRecord{}, false
}

// Score runs the full pipeline over one batch. Parameters are validated
// before any computation and every failure is fatal for the batch.
func Score(b Batch, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := ExtractRawScores(b)
	if err != nil {
		return nil, err
	}
	cc, err := NewCalibrationContext(raw, b.Aspects, p)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Params:  p,
		Aspects: cc.labels,
		Stats:   cc.Stats(),
		Records: make([]ScoreRecord, 0, len(b.Courses)*len(b.Aspects)),
	}
	for i, c := range b.Courses {
		recs, err := cc.Row(i, c.ID)
		if err != nil {
			return nil, &ScoreError{Row: i, CourseID: c.ID, Err: err}
		}
		for _, rec := range recs {
			if !isFinite(rec.Score) {
				return nil, &ScoreError{Row: i, CourseID: c.ID, Aspect: rec.Aspect,
					Err: fmt.Errorf("%w: score %v", ErrNonFiniteValue, rec.Score)}
			}
		}
		res.Records = append(res.Records, recs...)
	}
	return res, nil
}

// ScoreColumns names the persisted columns for one aspect, in the order
// ColumnValues fills them.
func ScoreColumns(label string, p Params) []string {
	cols := []string{
		"score_" + label + "_dot",
		"score_" + label + "_cos",
	}
	if p.Pipeline == PipelineCalibrated && p.LabelMode == LabelMulti {
		return append(cols, "score_"+label+"_sigmoid")
	}
	return append(cols, "score_"+label)
}

// ColumnValues returns the values of rec matching ScoreColumns.
func ColumnValues(rec ScoreRecord) []float64 {
	return []float64{rec.Dot, rec.Cos, rec.Score}
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func setColumn(m [][]float64, j int, vals []float64) {
	for i, v := range vals {
		m[i][j] = v
	}
}
