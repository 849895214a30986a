package aspectscore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Lookup errors.
var (
	// ErrNoRuns is returned when no scoring run has been stored yet.
	ErrNoRuns = errors.New("no scoring runs stored")
	// ErrUnknownCourse is returned for a course id that was never imported.
	ErrUnknownCourse = errors.New("unknown course")
)

// Store wraps a SQLite connection holding courses, cached embeddings and
// scoring runs.
type Store struct {
	db *sql.DB
}

// CourseRow is one imported catalog row. A nil Vector means "not embedded yet".
type CourseRow struct {
	ID     string
	Text   string
	Vector []float32
}

// RunInfo describes one stored scoring run.
type RunInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Params    Params    `json:"params"`
	Aspects   []string  `json:"aspects"`
	Courses   int       `json:"courses"`
}

// NewStore opens (or creates) the SQLite database and runs migrations.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("aspectscore: mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("aspectscore: open db: %w", err)
	}

	// Single connection avoids write contention for our scale
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("aspectscore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return err
	}

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS courses (
				id              TEXT PRIMARY KEY,
				text            TEXT NOT NULL DEFAULT '',
				vector          BLOB,
				embedding_model TEXT NOT NULL DEFAULT '',
				updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS embedding_cache (
				key        TEXT PRIMARY KEY,
				model      TEXT NOT NULL,
				vector     BLOB NOT NULL,
				created_at TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS runs (
				id           TEXT PRIMARY KEY,
				created_at   TEXT    NOT NULL,
				params       TEXT    NOT NULL,
				aspects      TEXT    NOT NULL,
				course_count INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS column_stats (
				run_id  TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				aspect  TEXT    NOT NULL,
				n       INTEGER NOT NULL,
				mean    REAL    NOT NULL,
				std     REAL    NOT NULL,
				min     REAL    NOT NULL,
				max     REAL    NOT NULL,
				trimmed INTEGER NOT NULL DEFAULT 0,
				floored INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (run_id, aspect)
			);

			CREATE TABLE IF NOT EXISTS scores (
				run_id         TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				row_index      INTEGER NOT NULL,
				course_id      TEXT    NOT NULL,
				aspect         TEXT    NOT NULL,
				dot            REAL    NOT NULL,
				cos            REAL    NOT NULL,
				normalized_dot REAL    NOT NULL DEFAULT 0,
				fused          REAL    NOT NULL DEFAULT 0,
				cos_calibrated REAL    NOT NULL DEFAULT 0,
				softmax        REAL    NOT NULL DEFAULT 0,
				sigmoid        REAL    NOT NULL DEFAULT 0,
				score          REAL    NOT NULL,
				PRIMARY KEY (run_id, course_id, aspect)
			);
			CREATE INDEX IF NOT EXISTS idx_scores_run_aspect ON scores(run_id, aspect, score);
		`); err != nil {
			return err
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return err
		}
	}

	return nil
}

// --- Vector encoding ---

// EncodeVector converts a float32 slice to a little-endian byte blob.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector converts a little-endian byte blob back to a float32 slice.
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// nullableVector stores an absent vector as NULL rather than an empty blob.
func nullableVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return EncodeVector(v)
}

// --- Courses ---

// UpsertCourses inserts or updates course rows in one transaction.
// A row without a vector keeps the stored one only while its text is
// unchanged; edited text invalidates the old embedding.
func (s *Store) UpsertCourses(ctx context.Context, rows []CourseRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertCourses(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceCourses makes rows the whole catalog: it upserts them like
// UpsertCourses and deletes every stored course whose id is absent, in the
// same transaction. It returns the number of courses removed.
func (s *Store) ReplaceCourses(ctx context.Context, rows []CourseRow) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := upsertCourses(ctx, tx, rows); err != nil {
		return 0, err
	}

	keep := make(map[string]bool, len(rows))
	for _, r := range rows {
		keep[r.ID] = true
	}
	ids, err := tx.QueryContext(ctx, `SELECT id FROM courses`)
	if err != nil {
		return 0, err
	}
	var stale []string
	for ids.Next() {
		var id string
		if err := ids.Scan(&id); err != nil {
			ids.Close()
			return 0, err
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if err := ids.Err(); err != nil {
		ids.Close()
		return 0, err
	}
	if err := ids.Close(); err != nil {
		return 0, err
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("delete course %q: %w", id, err)
		}
	}
	return len(stale), tx.Commit()
}

func upsertCourses(ctx context.Context, tx *sql.Tx, rows []CourseRow) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO courses (id, text, vector) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vector = CASE
				WHEN excluded.vector IS NOT NULL THEN excluded.vector
				WHEN courses.text = excluded.text THEN courses.vector
				ELSE NULL
			END,
			embedding_model = CASE
				WHEN excluded.vector IS NULL AND courses.text = excluded.text THEN courses.embedding_model
				ELSE ''
			END,
			text = excluded.text,
			updated_at = datetime('now')`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Text, nullableVector(r.Vector)); err != nil {
			return fmt.Errorf("upsert course %q: %w", r.ID, err)
		}
	}
	return nil
}

// SetCourseVector records the embedding of one course.
func (s *Store) SetCourseVector(ctx context.Context, id string, vec []float32, model string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE courses SET vector = ?, embedding_model = ?, updated_at = datetime('now') WHERE id = ?`,
		nullableVector(vec), model, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("course %q not found", id)
	}
	return nil
}

// ListCourses returns all courses in import order. Vector is nil for
// courses that have not been embedded.
func (s *Store) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, vector FROM courses ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		var c Course
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Text, &blob); err != nil {
			return nil, err
		}
		if len(blob) > 0 {
			c.Vector = DecodeVector(blob)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// CourseExists reports whether id was imported.
func (s *Store) CourseExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// --- Embedding cache ---

// CachedEmbedding returns the vector stored under key, if any.
func (s *Store) CachedEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embedding_cache WHERE key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return DecodeVector(blob), true, nil
}

// PutCachedEmbedding stores vec under key, replacing any previous entry.
func (s *Store) PutCachedEmbedding(ctx context.Context, key, model string, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (key, model, vector) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET model = excluded.model, vector = excluded.vector, created_at = datetime('now')`,
		key, model, EncodeVector(vec))
	return err
}

// --- Runs ---

// SaveRun persists a scored result: its parameters, column statistics and
// every record. res.RunID must be set.
func (s *Store) SaveRun(ctx context.Context, res *Result, createdAt time.Time) error {
	if res.RunID == "" {
		return fmt.Errorf("save run: empty run id")
	}
	params, err := json.Marshal(res.Params)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	aspects, err := json.Marshal(res.Aspects)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, params, aspects, course_count) VALUES (?, ?, ?, ?, ?)`,
		res.RunID, createdAt.UTC().Format(time.RFC3339Nano), string(params), string(aspects), res.Courses()); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	for _, st := range res.Stats {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO column_stats (run_id, aspect, n, mean, std, min, max, trimmed, floored)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, st.Aspect, st.N, st.Mean, st.Std, st.Min, st.Max, st.Trimmed, st.Floored); err != nil {
			return fmt.Errorf("save stats %s: %w", st.Aspect, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scores (run_id, row_index, course_id, aspect, dot, cos,
			normalized_dot, fused, cos_calibrated, softmax, sigmoid, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	na := max(len(res.Aspects), 1)
	for i, r := range res.Records {
		if _, err := stmt.ExecContext(ctx, res.RunID, i/na, r.CourseID, r.Aspect, r.Dot, r.Cos,
			r.NormalizedDot, r.Fused, r.CosCalibrated, r.Softmax, r.Sigmoid, r.Score); err != nil {
			return fmt.Errorf("save score %s/%s: %w", r.CourseID, r.Aspect, err)
		}
	}
	return tx.Commit()
}

// LatestRun returns the most recently stored run, or ErrNoRuns.
func (s *Store) LatestRun(ctx context.Context) (RunInfo, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, created_at, params, aspects, course_count FROM runs ORDER BY rowid DESC LIMIT 1`))
}

// GetRun returns the run with the given id, or ErrNoRuns.
func (s *Store) GetRun(ctx context.Context, id string) (RunInfo, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, created_at, params, aspects, course_count FROM runs WHERE id = ?`, id))
}

func (s *Store) scanRun(row *sql.Row) (RunInfo, error) {
	var info RunInfo
	var created, params, aspects string
	err := row.Scan(&info.ID, &created, &params, &aspects, &info.Courses)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, ErrNoRuns
	}
	if err != nil {
		return RunInfo{}, err
	}
	if info.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return RunInfo{}, fmt.Errorf("run %s: created_at: %w", info.ID, err)
	}
	if err := json.Unmarshal([]byte(params), &info.Params); err != nil {
		return RunInfo{}, fmt.Errorf("run %s: params: %w", info.ID, err)
	}
	if err := json.Unmarshal([]byte(aspects), &info.Aspects); err != nil {
		return RunInfo{}, fmt.Errorf("run %s: aspects: %w", info.ID, err)
	}
	return info, nil
}

// RunStats returns the column statistics of a run.
func (s *Store) RunStats(ctx context.Context, runID string) ([]ColumnStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aspect, n, mean, std, min, max, trimmed, floored
		FROM column_stats WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ColumnStats
	for rows.Next() {
		var st ColumnStats
		if err := rows.Scan(&st.Aspect, &st.N, &st.Mean, &st.Std, &st.Min, &st.Max, &st.Trimmed, &st.Floored); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RunRecords returns the stored records of a run in row-major order.
// A non-empty courseID restricts the result to that course.
func (s *Store) RunRecords(ctx context.Context, runID, courseID string) ([]ScoreRecord, error) {
	query := `
		SELECT course_id, aspect, dot, cos, normalized_dot, fused, cos_calibrated, softmax, sigmoid, score
		FROM scores WHERE run_id = ?`
	args := []any{runID}
	if courseID != "" {
		query += ` AND course_id = ?`
		args = append(args, courseID)
	}
	query += ` ORDER BY row_index, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoreRecord
	for rows.Next() {
		var r ScoreRecord
		if err := rows.Scan(&r.CourseID, &r.Aspect, &r.Dot, &r.Cos, &r.NormalizedDot, &r.Fused,
			&r.CosCalibrated, &r.Softmax, &r.Sigmoid, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
