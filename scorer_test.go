package aspectscore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps texts onto four axes by keyword so scores are
// predictable: skills, product, venture, foundations.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

var fakeAxes = [][]string{
	{"leadership", "communication", "skills"},
	{"prototyping", "design", "product"},
	{"finance", "marketing", "management"},
	{"entrepreneurship", "industry", "general"},
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	lower := strings.ToLower(text)
	vec := []float32{0.05, 0.05, 0.05, 0.05}
	for i, words := range fakeAxes {
		for _, w := range words {
			if strings.Contains(lower, w) {
				vec[i] += 1
			}
		}
	}
	return vec, nil
}

func (f *fakeEmbedder) Dimension() int  { return 4 }
func (f *fakeEmbedder) ModelID() string { return "fake/keywords" }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testAspectTexts() AspectTexts {
	return AspectTexts{
		"personal_development":         "Leadership, communication and teamwork skills",
		"product_development":          "Prototyping and design of products",
		"venture_building":             "Management: finance and marketing",
		"entrepreneurship_foundations": "General and industry-specific entrepreneurship",
	}
}

var testCourses = []CourseRow{
	{ID: "lead-101", Text: "Leadership and communication for engineers"},
	{ID: "proto-201", Text: "Rapid prototyping and product design studio"},
	{ID: "fin-301", Text: "Startup finance and marketing management"},
	{ID: "ent-100", Text: "Introduction to entrepreneurship across industry"},
	{ID: "mix-400", Text: "Design leadership and marketing"},
}

func testScorer(t *testing.T, opts ...Option) (*Scorer, *fakeEmbedder) {
	t.Helper()
	emb := &fakeEmbedder{}
	logger, _ := test.NewNullLogger()
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewScorer(testStore(t), emb, opts...), emb
}

func TestScorerImportRejectsDuplicates(t *testing.T) {
	s, _ := testScorer(t)
	_, err := s.ImportCourses(context.Background(), []CourseRow{
		{ID: "a", Text: "x"}, {ID: "b", Text: "y"}, {ID: "a", Text: "z"}, {ID: "a", Text: "w"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate row_id")
	assert.Contains(t, err.Error(), "Examples: a")

	_, err = s.ImportCourses(context.Background(), []CourseRow{{ID: " ", Text: "x"}})
	assert.Error(t, err)
}

func TestScorerEndToEnd(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s, emb := testScorer(t, WithLogger(logger))

	n, err := s.ImportCourses(ctx, testCourses)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	embedded, err := s.EmbedCourses(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 5, embedded)

	// already embedded courses are skipped unless update is set
	embedded, err = s.EmbedCourses(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, embedded)
	embedded, err = s.EmbedCourses(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 5, embedded)
	assert.Equal(t, 10, emb.callCount())

	aspects, err := s.EmbedAspects(ctx, testAspectTexts())
	require.NoError(t, err)
	require.Len(t, aspects, 4)
	assert.Equal(t, "skills", aspects[0].Label)
	assert.Equal(t, "entrepreneurship_foundations", aspects[3].Key)

	res, err := s.Run(ctx, aspects, s.Params())
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 5, res.Courses())

	var sawStats bool
	for _, e := range hook.AllEntries() {
		if e.Message == "column stats" && e.Data["run_id"] == res.RunID {
			sawStats = true
		}
	}
	assert.True(t, sawStats, "expected per-aspect stats at debug level")

	page, err := s.TopCourses(ctx, TopQuery{Aspect: "product", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, res.RunID, page.Run.ID)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Courses, 2)
	assert.Equal(t, "proto-201", page.Courses[0].CourseID)
	assert.GreaterOrEqual(t, page.Courses[0].Scores["product"], page.Courses[1].Scores["product"])

	recs, run, err := s.CourseScores(ctx, "fin-301")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, run.ID)
	require.Len(t, recs, 4)
	var venture ScoreRecord
	for _, r := range recs {
		if r.Aspect == "venture" {
			venture = r
		}
	}
	expected, ok := res.Lookup("fin-301", "venture")
	require.True(t, ok)
	assert.Equal(t, expected, venture)

	stats, _, err := s.RunStats(ctx, "")
	require.NoError(t, err)
	assert.Len(t, stats, 4)

	_, _, err = s.CourseScores(ctx, "unknown")
	assert.ErrorIs(t, err, ErrUnknownCourse)
}

func TestScorerReplaceCoursesDropsStale(t *testing.T) {
	ctx := context.Background()
	s, _ := testScorer(t)
	_, err := s.ImportCourses(ctx, testCourses)
	require.NoError(t, err)

	// a plain import merges into the catalog
	_, err = s.ImportCourses(ctx, testCourses[:2])
	require.NoError(t, err)
	courses, err := s.store.ListCourses(ctx)
	require.NoError(t, err)
	assert.Len(t, courses, 5)

	n, err := s.ReplaceCourses(ctx, testCourses[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.EmbedCourses(ctx, false)
	require.NoError(t, err)
	aspects, err := s.EmbedAspects(ctx, testAspectTexts())
	require.NoError(t, err)
	res, err := s.Run(ctx, aspects, s.Params())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Courses())

	_, _, err = s.CourseScores(ctx, "fin-301")
	assert.ErrorIs(t, err, ErrUnknownCourse)

	_, err = s.ReplaceCourses(ctx, []CourseRow{{ID: "a", Text: "x"}, {ID: "a", Text: "y"}})
	assert.ErrorContains(t, err, "duplicate row_id")
	courses, err = s.store.ListCourses(ctx)
	require.NoError(t, err)
	assert.Len(t, courses, 2)
}

// narrowEmbedder reports fewer dimensions than it returns.
type narrowEmbedder struct{ *fakeEmbedder }

func (narrowEmbedder) Dimension() int { return 3 }

func TestScorerEmbedRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	emb := narrowEmbedder{&fakeEmbedder{}}
	s := NewScorer(testStore(t), emb, WithLogger(logger))
	_, err := s.ImportCourses(ctx, testCourses)
	require.NoError(t, err)

	_, err = s.EmbedCourses(ctx, false)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = s.EmbedAspects(ctx, testAspectTexts())
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// the failing vector is not stored, so a second call embeds again
	calls := emb.callCount()
	_, err = s.EmbedCourses(ctx, false)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Greater(t, emb.callCount(), calls)
}

func TestScorerTopCoursesFilters(t *testing.T) {
	ctx := context.Background()
	s, _ := testScorer(t)
	_, err := s.ImportCourses(ctx, testCourses)
	require.NoError(t, err)
	_, err = s.EmbedCourses(ctx, false)
	require.NoError(t, err)
	aspects, err := s.EmbedAspects(ctx, testAspectTexts())
	require.NoError(t, err)
	_, err = s.Run(ctx, aspects, s.Params())
	require.NoError(t, err)

	all, err := s.TopCourses(ctx, TopQuery{Aspect: "skills"})
	require.NoError(t, err)
	require.Equal(t, 5, all.Total)

	// a minimum above 1 clamps to 1, which no fused score reaches
	none, err := s.TopCourses(ctx, TopQuery{Aspect: "skills", MinScores: map[string]float64{"venture": 7}})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Total)

	// a negative minimum clamps to 0 and filters nothing
	neg, err := s.TopCourses(ctx, TopQuery{MinScores: map[string]float64{"venture": -3}})
	require.NoError(t, err)
	assert.Equal(t, 5, neg.Total)
	assert.Equal(t, "skills", neg.Aspect)

	assert.Equal(t, "lead-101", all.Courses[0].CourseID)
	assert.Equal(t, "mix-400", all.Courses[1].CourseID)
	threshold := all.Courses[1].Scores["skills"]
	some, err := s.TopCourses(ctx, TopQuery{Aspect: "skills", MinScores: map[string]float64{"skills": threshold}})
	require.NoError(t, err)
	assert.Equal(t, 2, some.Total)

	paged, err := s.TopCourses(ctx, TopQuery{Aspect: "skills", Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, paged.Courses, 1)

	_, err = s.TopCourses(ctx, TopQuery{Aspect: "marketing"})
	assert.Error(t, err)
	_, err = s.TopCourses(ctx, TopQuery{Aspect: "skills", MinScores: map[string]float64{"nope": 0.5}})
	assert.Error(t, err)
}

func TestScorerRunRequiresEmbeddings(t *testing.T) {
	ctx := context.Background()
	s, _ := testScorer(t)
	_, err := s.ImportCourses(ctx, testCourses)
	require.NoError(t, err)
	aspects, err := s.EmbedAspects(ctx, testAspectTexts())
	require.NoError(t, err)

	_, err = s.Run(ctx, aspects, s.Params())
	require.Error(t, err)
	var se *ScoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "lead-101", se.CourseID)
}

func TestScorerRunRejectsInvalidParams(t *testing.T) {
	ctx := context.Background()
	s, _ := testScorer(t)
	_, err := s.ImportCourses(ctx, testCourses)
	require.NoError(t, err)
	_, err = s.EmbedCourses(ctx, false)
	require.NoError(t, err)
	aspects, err := s.EmbedAspects(ctx, testAspectTexts())
	require.NoError(t, err)

	p := s.Params()
	p.Temperature = 0
	_, err = s.Run(ctx, aspects, p)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = s.store.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestScorerNoRuns(t *testing.T) {
	s, _ := testScorer(t)
	_, err := s.TopCourses(context.Background(), TopQuery{Aspect: "skills"})
	assert.ErrorIs(t, err, ErrNoRuns)
	_, _, err = s.RunStats(context.Background(), "missing-run")
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestScorerEmbedFailures(t *testing.T) {
	ctx := context.Background()
	s, emb := testScorer(t)
	_, err := s.ImportCourses(ctx, testCourses[:1])
	require.NoError(t, err)

	emb.err = errors.New("model not loaded")
	_, err = s.EmbedCourses(ctx, false)
	assert.ErrorContains(t, err, "model not loaded")
	_, err = s.EmbedAspects(ctx, testAspectTexts())
	assert.ErrorContains(t, err, "model not loaded")

	emb.err = nil
	texts := testAspectTexts()
	delete(texts, "venture_building")
	_, err = s.EmbedAspects(ctx, texts)
	assert.ErrorContains(t, err, "venture_building")

	noEmb := NewScorer(s.store, nil)
	_, err = noEmb.EmbedCourses(ctx, false)
	assert.Error(t, err)
}

func TestScorerCancelledEmbedding(t *testing.T) {
	s, _ := testScorer(t)
	_, err := s.ImportCourses(context.Background(), testCourses)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	_, err = s.EmbedCourses(ctx, false)
	assert.Error(t, err)
}
