package aspectscore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Scorer ties the scoring engine to its collaborators: the course store,
// the embedder and run persistence.
type Scorer struct {
	store    *Store
	embedder Embedder
	params   Params
	logger   logrus.FieldLogger
	now      func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithLogger sets the logger (default: logrus standard logger).
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Scorer) { s.logger = l }
}

// WithParams sets the default scoring parameters (default: DefaultParams).
func WithParams(p Params) Option {
	return func(s *Scorer) { s.params = p }
}

// NewScorer creates a Scorer. embedder may be nil when only stored
// embeddings and runs are used.
func NewScorer(store *Store, embedder Embedder, opts ...Option) *Scorer {
	s := &Scorer{
		store:    store,
		embedder: embedder,
		params:   DefaultParams(),
		logger:   logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "aspectscore")
	return s
}

// Params returns the scorer's default parameters.
func (s *Scorer) Params() Params { return s.params }

// ImportCourses upserts course rows. Ids must be non-empty and unique
// within one import. Courses imported earlier and absent from rows stay in
// the catalog; use ReplaceCourses when rows is the complete batch.
func (s *Scorer) ImportCourses(ctx context.Context, rows []CourseRow) (int, error) {
	if err := checkCourseIDs(rows); err != nil {
		return 0, err
	}
	if err := s.store.UpsertCourses(ctx, rows); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	s.logger.WithField("courses", len(rows)).Info("imported courses")
	return len(rows), nil
}

// ReplaceCourses makes rows the whole catalog, so the next Run calibrates
// over exactly these courses. Stored courses missing from rows are deleted.
func (s *Scorer) ReplaceCourses(ctx context.Context, rows []CourseRow) (int, error) {
	if err := checkCourseIDs(rows); err != nil {
		return 0, err
	}
	removed, err := s.store.ReplaceCourses(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"courses": len(rows), "removed": removed}).Info("replaced course catalog")
	return len(rows), nil
}

func checkCourseIDs(rows []CourseRow) error {
	seen := make(map[string]bool, len(rows))
	var dups []string
	for i, r := range rows {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("import: row %d has an empty row_id", i)
		}
		if seen[r.ID] && !slices.Contains(dups, r.ID) {
			dups = append(dups, r.ID)
		}
		seen[r.ID] = true
	}
	if len(dups) > 0 {
		return fmt.Errorf("import: input contains duplicate row_id values. Examples: %s",
			strings.Join(dups[:min(len(dups), 5)], ", "))
	}
	return nil
}

// EmbedCourses embeds every course whose stored vector is missing or
// invalid, or every course when update is true. It returns the number of
// courses embedded.
func (s *Scorer) EmbedCourses(ctx context.Context, update bool) (int, error) {
	if s.embedder == nil {
		return 0, fmt.Errorf("embed courses: no embedder configured")
	}
	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return 0, fmt.Errorf("embed courses: %w", err)
	}

	n := 0
	for _, c := range courses {
		if !update && validVector(c.Vector, s.embedder.Dimension()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		vec, err := s.embedder.Embed(ctx, NormalizeText(c.Text))
		if err != nil {
			return n, fmt.Errorf("embed course %q: %w", c.ID, err)
		}
		if err := s.checkDimension(vec); err != nil {
			return n, fmt.Errorf("embed course %q: %w", c.ID, err)
		}
		if err := s.store.SetCourseVector(ctx, c.ID, vec, s.embedder.ModelID()); err != nil {
			return n, fmt.Errorf("embed course %q: %w", c.ID, err)
		}
		n++
	}
	s.logger.WithFields(logrus.Fields{"embedded": n, "courses": len(courses), "model": s.embedder.ModelID()}).
		Info("course embeddings ready")
	return n, nil
}

// EmbedAspects embeds the reference text of each default aspect, in
// column order, and checks the vectors are usable by the engine.
func (s *Scorer) EmbedAspects(ctx context.Context, texts AspectTexts) ([]Aspect, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("embed aspects: no embedder configured")
	}
	aspects := make([]Aspect, 0, len(DefaultAspects))
	for _, d := range DefaultAspects {
		text, ok := texts[d.Key]
		if !ok || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("embed aspects: missing text for %s", d.Key)
		}
		vec, err := s.embedder.Embed(ctx, NormalizeText(text))
		if err != nil {
			return nil, fmt.Errorf("embed aspect %s: %w", d.Key, err)
		}
		if err := s.checkDimension(vec); err != nil {
			return nil, fmt.Errorf("aspect %s embedding: %w", d.Key, err)
		}
		v, err := toFloat64(vec)
		if err != nil {
			return nil, fmt.Errorf("aspect %s embedding: %w", d.Key, err)
		}
		if floats.Norm(v, 2) == 0 {
			return nil, fmt.Errorf("aspect %s embedding: %w: zero norm", d.Key, ErrDegenerateVector)
		}
		if len(aspects) > 0 && len(vec) != len(aspects[0].Vector) {
			return nil, fmt.Errorf("aspect %s embedding: %w: %d dimensions, expected %d",
				d.Key, ErrDimensionMismatch, len(vec), len(aspects[0].Vector))
		}
		aspects = append(aspects, Aspect{Label: d.Label, Key: d.Key, Vector: vec})
	}
	return aspects, nil
}

// Run scores every stored course against aspects and persists the run.
// Courses without an embedding fail the run; call EmbedCourses first.
func (s *Scorer) Run(ctx context.Context, aspects []Aspect, p Params) (*Result, error) {
	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	for i, c := range courses {
		if len(c.Vector) == 0 {
			return nil, &ScoreError{Row: i, CourseID: c.ID,
				Err: fmt.Errorf("%w: course has no embedding", ErrDegenerateVector)}
		}
	}

	res, err := Score(Batch{Courses: courses, Aspects: aspects}, p)
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	res.RunID = uuid.NewString()

	log := s.logger.WithFields(logrus.Fields{"run_id": res.RunID, "pipeline": p.Pipeline})
	for _, st := range res.Stats {
		log.WithFields(logrus.Fields{
			"aspect":  st.Aspect,
			"mean":    st.Mean,
			"std":     st.Std,
			"trimmed": st.Trimmed,
			"floored": st.Floored,
		}).Debug("column stats")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.SaveRun(ctx, res, s.now()); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	log.WithField("courses", res.Courses()).WithField("params", p.String()).Info("scored courses")
	return res, nil
}

// CourseScores is one course's primary scores, keyed by aspect label.
type CourseScores struct {
	CourseID string             `json:"course_id"`
	Scores   map[string]float64 `json:"scores"`
}

// TopQuery selects courses from a stored run.
type TopQuery struct {
	RunID     string             // empty: latest run
	Aspect    string             // rank by this aspect's score; empty: first aspect
	MinScores map[string]float64 // per-aspect lower bounds, clamped to [0,1]
	Limit     int                // default 20, at most 100
	Offset    int
}

// TopPage is one page of ranked courses.
type TopPage struct {
	Run     RunInfo        `json:"run"`
	Aspect  string         `json:"aspect"`
	Total   int            `json:"total"` // courses passing the filters
	Courses []CourseScores `json:"courses"`
}

const (
	defaultTopLimit = 20
	maxTopLimit     = 100
)

// TopCourses ranks the courses of a stored run by one aspect, after
// applying the minimum-score filters.
func (s *Scorer) TopCourses(ctx context.Context, q TopQuery) (*TopPage, error) {
	run, err := s.run(ctx, q.RunID)
	if err != nil {
		return nil, err
	}
	aspect := q.Aspect
	if aspect == "" && len(run.Aspects) > 0 {
		aspect = run.Aspects[0]
	}
	if !slices.Contains(run.Aspects, aspect) {
		return nil, fmt.Errorf("top: unknown aspect %q (have %s)", aspect, strings.Join(run.Aspects, ", "))
	}
	for a := range q.MinScores {
		if !slices.Contains(run.Aspects, a) {
			return nil, fmt.Errorf("top: unknown aspect %q in minimum scores", a)
		}
	}

	recs, err := s.store.RunRecords(ctx, run.ID, "")
	if err != nil {
		return nil, fmt.Errorf("top: %w", err)
	}
	all := groupScores(recs)

	matched := make([]CourseScores, 0, len(all))
	for _, cs := range all {
		if passesMinimums(cs, q.MinScores) {
			matched = append(matched, cs)
		}
	}
	slices.SortStableFunc(matched, func(a, b CourseScores) int {
		return cmp.Compare(b.Scores[aspect], a.Scores[aspect])
	})

	limit := q.Limit
	if limit <= 0 {
		limit = defaultTopLimit
	}
	limit = min(limit, maxTopLimit)
	off := min(max(q.Offset, 0), len(matched))
	end := min(off+limit, len(matched))

	return &TopPage{Run: run, Aspect: aspect, Total: len(matched), Courses: matched[off:end]}, nil
}

// CourseScores returns the stored records of one course from the latest run.
func (s *Scorer) CourseScores(ctx context.Context, courseID string) ([]ScoreRecord, RunInfo, error) {
	run, err := s.run(ctx, "")
	if err != nil {
		return nil, RunInfo{}, err
	}
	recs, err := s.store.RunRecords(ctx, run.ID, courseID)
	if err != nil {
		return nil, RunInfo{}, fmt.Errorf("course scores: %w", err)
	}
	if len(recs) == 0 {
		exists, err := s.store.CourseExists(ctx, courseID)
		if err != nil {
			return nil, RunInfo{}, fmt.Errorf("course scores: %w", err)
		}
		if !exists {
			return nil, RunInfo{}, fmt.Errorf("course %q: %w", courseID, ErrUnknownCourse)
		}
		return nil, RunInfo{}, fmt.Errorf("course %q has no scores in run %s; score again to include it", courseID, run.ID)
	}
	return recs, run, nil
}

// RunStats returns the column statistics of a run (latest when id is empty).
func (s *Scorer) RunStats(ctx context.Context, runID string) ([]ColumnStats, RunInfo, error) {
	run, err := s.run(ctx, runID)
	if err != nil {
		return nil, RunInfo{}, err
	}
	stats, err := s.store.RunStats(ctx, run.ID)
	if err != nil {
		return nil, RunInfo{}, fmt.Errorf("run stats: %w", err)
	}
	return stats, run, nil
}

// RunRecords returns every record of a run (latest when id is empty).
func (s *Scorer) RunRecords(ctx context.Context, runID string) ([]ScoreRecord, RunInfo, error) {
	run, err := s.run(ctx, runID)
	if err != nil {
		return nil, RunInfo{}, err
	}
	recs, err := s.store.RunRecords(ctx, run.ID, "")
	if err != nil {
		return nil, RunInfo{}, fmt.Errorf("run records: %w", err)
	}
	return recs, run, nil
}

func (s *Scorer) run(ctx context.Context, id string) (RunInfo, error) {
	var (
		run RunInfo
		err error
	)
	if id == "" {
		run, err = s.store.LatestRun(ctx)
	} else {
		run, err = s.store.GetRun(ctx, id)
	}
	if errors.Is(err, ErrNoRuns) && id != "" {
		return RunInfo{}, fmt.Errorf("run %s: %w", id, err)
	}
	return run, err
}

// groupScores folds row-major records into one entry per course, keeping
// course order.
func groupScores(recs []ScoreRecord) []CourseScores {
	var out []CourseScores
	index := make(map[string]int)
	for _, r := range recs {
		i, ok := index[r.CourseID]
		if !ok {
			i = len(out)
			index[r.CourseID] = i
			out = append(out, CourseScores{CourseID: r.CourseID, Scores: make(map[string]float64)})
		}
		out[i].Scores[r.Aspect] = r.Score
	}
	return out
}

func passesMinimums(cs CourseScores, mins map[string]float64) bool {
	for aspect, m := range mins {
		if cs.Scores[aspect] < clip(m, 0, 1) {
			return false
		}
	}
	return true
}

// checkDimension rejects vectors whose length differs from the configured
// embedder dimension, which would otherwise be re-embedded on every call.
func (s *Scorer) checkDimension(vec []float32) error {
	if dim := s.embedder.Dimension(); dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: model returned %d dimensions, configured %d (set embedder.dimension)",
			ErrDimensionMismatch, len(vec), dim)
	}
	return nil
}

// validVector reports whether a stored embedding can be reused.
func validVector(v []float32, dim int) bool {
	if len(v) == 0 || (dim > 0 && len(v) != dim) {
		return false
	}
	_, err := toFloat64(v)
	return err == nil
}
