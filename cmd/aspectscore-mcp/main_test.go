package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goblincore/aspectscore"
)

func testScorer(t *testing.T) *aspectscore.Scorer {
	t.Helper()
	store, err := aspectscore.NewStore(filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	logger, _ := test.NewNullLogger()
	return aspectscore.NewScorer(store, nil, aspectscore.WithLogger(logger))
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestFuseHandler(t *testing.T) {
	h := fuseHandler(testScorer(t))
	res, _, err := h(context.Background(), nil, fuseInput{Cos: 0.4, NormalizedDot: 0.9})
	require.NoError(t, err)

	var out struct {
		Score float64 `json:"score"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	want := aspectscore.Fuse(0.4, 0.9, aspectscore.DefaultParams().Fusion())
	assert.InDelta(t, want, out.Score, 1e-12)

	bad := 0.0
	res, _, err = h(context.Background(), nil, fuseInput{Cos: 0.4, NormalizedDot: 0.9, Temperature: &bad})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "temperature")
}

func TestHandlersReportErrorsAsText(t *testing.T) {
	s := testScorer(t)
	ctx := context.Background()

	res, _, err := topHandler(s)(ctx, nil, topInput{})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "error")

	res, _, err = courseHandler(s)(ctx, nil, courseInput{})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "course_id is required")

	res, _, err = statsHandler(s)(ctx, nil, statsInput{RunID: "missing"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "error")

	res, _, err = scoreHandler(s, "/nonexistent/aspects.json")(ctx, nil, scoreInput{Pipeline: "bogus"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "pipeline")
}

func TestNewServerRegistersTools(t *testing.T) {
	assert.NotNil(t, newServer(testScorer(t), "aspects.json"))
}
