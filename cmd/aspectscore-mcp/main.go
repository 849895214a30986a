// aspectscore-mcp exposes course aspect scoring as an MCP stdio server.
//
// Configuration is read the same way as the aspectscore CLI:
//
//	ASPECTSCORE_CONFIG   optional YAML config file
//	ASPECTSCORE_DB_PATH  SQLite database path (default: ./data/aspectscore.db)
//	ASPECTSCORE_EMBED_*  embedding provider settings
//
// Usage:
//
//	go install github.com/goblincore/aspectscore/cmd/aspectscore-mcp
//	aspectscore-mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/goblincore/aspectscore"
)

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stderr) // stdout carries the protocol

	cfg, errs := aspectscore.LoadConfig(os.Getenv("ASPECTSCORE_CONFIG"))
	if len(errs) > 0 {
		logger.WithError(multierror.Append(nil, errs...)).Fatal("invalid configuration")
	}
	if lvl, err := logrus.ParseLevel(os.Getenv("ASPECTSCORE_LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	store, err := aspectscore.NewStore(cfg.DBPath)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer store.Close()

	// without an embedder the read-only tools still work
	var embedder aspectscore.Embedder
	if inner, err := aspectscore.NewEmbedder(cfg.Embedder, logger); err != nil {
		logger.WithError(err).Warn("embedder unavailable, score_courses disabled")
	} else {
		embedder = aspectscore.NewCachedEmbedder(inner, store, logger)
	}
	scorer := aspectscore.NewScorer(store, embedder,
		aspectscore.WithLogger(logger),
		aspectscore.WithParams(cfg.Scoring),
	)

	server := newServer(scorer, cfg.AspectsPath)
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.WithError(err).Fatal("aspectscore-mcp")
	}
}

func newServer(s *aspectscore.Scorer, aspectsPath string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "aspectscore-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "score_courses",
		Description: "Embed the aspect texts, score every stored course and persist the run. Returns the run id and per-aspect column statistics.",
	}, scoreHandler(s, aspectsPath))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "top_courses",
		Description: "Rank the courses of a stored run by one aspect (" + strings.Join(aspectscore.AspectLabels(), ", ") + "), with optional per-aspect minimum scores and paging.",
	}, topHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "course_scores",
		Description: "Show raw dot, cosine and final scores of one course in the latest run.",
	}, courseHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_stats",
		Description: "Column statistics and score distributions of a run (latest when run_id is empty).",
	}, statsHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fuse_scores",
		Description: "Fuse a cosine similarity and a normalized dot score into one probability with the log-odds fusion formula.",
	}, fuseHandler(s))

	return server
}

// --- Input types ---

type scoreInput struct {
	AspectsPath string   `json:"aspects_path,omitempty" jsonschema:"Aspect JSON file; defaults to the configured path"`
	Pipeline    string   `json:"pipeline,omitempty"     jsonschema:"fusion or calibrated"`
	DotMode     string   `json:"dot_mode,omitempty"     jsonschema:"Fusion dot normalizer: percentile or zscore"`
	Calibration string   `json:"calibration,omitempty"  jsonschema:"Calibrated cosine: none, zscore or minmax"`
	LabelMode   string   `json:"label_mode,omitempty"   jsonschema:"Calibrated output: single (softmax) or multi (sigmoid)"`
	Tau         *float64 `json:"tau,omitempty"          jsonschema:"Softmax/sigmoid temperature"`
	Weight      *float64 `json:"weight,omitempty"       jsonschema:"Fusion weight of cosine evidence, in (0,1)"`
}

type topInput struct {
	RunID     string             `json:"run_id,omitempty"     jsonschema:"Run id; latest run when empty"`
	Aspect    string             `json:"aspect,omitempty"     jsonschema:"Aspect label to rank by: skills, product, venture or foundations"`
	MinScores map[string]float64 `json:"min_scores,omitempty" jsonschema:"Per-aspect minimum score, e.g. {\"product\": 0.5}"`
	Limit     int                `json:"limit,omitempty"      jsonschema:"Page size (default 20, max 100)"`
	Offset    int                `json:"offset,omitempty"     jsonschema:"Page offset"`
}

type courseInput struct {
	CourseID string `json:"course_id" jsonschema:"Course row id"`
}

type statsInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"Run id; latest run when empty"`
}

type fuseInput struct {
	Cos           float64  `json:"cos"                   jsonschema:"Cosine similarity in [-1,1]"`
	NormalizedDot float64  `json:"normalized_dot"        jsonschema:"Normalized dot score in [0,1]"`
	Weight        *float64 `json:"weight,omitempty"      jsonschema:"Weight of cosine evidence (default from config)"`
	Temperature   *float64 `json:"temperature,omitempty" jsonschema:"Temperature (default from config)"`
	Bias          *float64 `json:"bias,omitempty"        jsonschema:"Bias (default from config)"`
}

// --- Handlers ---

func scoreHandler(s *aspectscore.Scorer, aspectsPath string) func(context.Context, *mcp.CallToolRequest, scoreInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input scoreInput) (*mcp.CallToolResult, any, error) {
		p := s.Params()
		p.ApplyModeFlags(input.Pipeline, input.DotMode, input.Calibration, input.LabelMode)
		if input.Tau != nil {
			p.Tau = *input.Tau
		}
		if input.Weight != nil {
			p.Weight = *input.Weight
		}
		if err := p.Validate(); err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}

		path := input.AspectsPath
		if path == "" {
			path = aspectsPath
		}
		texts, err := aspectscore.LoadAspectTexts(path)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		aspects, err := s.EmbedAspects(ctx, texts)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		res, err := s.Run(ctx, aspects, p)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"run_id":  res.RunID,
			"courses": res.Courses(),
			"params":  p.String(),
			"stats":   res.Stats,
		})), nil, nil
	}
}

func topHandler(s *aspectscore.Scorer) func(context.Context, *mcp.CallToolRequest, topInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input topInput) (*mcp.CallToolResult, any, error) {
		page, err := s.TopCourses(ctx, aspectscore.TopQuery{
			RunID:     input.RunID,
			Aspect:    input.Aspect,
			MinScores: input.MinScores,
			Limit:     input.Limit,
			Offset:    input.Offset,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(page)), nil, nil
	}
}

func courseHandler(s *aspectscore.Scorer) func(context.Context, *mcp.CallToolRequest, courseInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input courseInput) (*mcp.CallToolResult, any, error) {
		if input.CourseID == "" {
			return textResult(`{"error": "course_id is required"}`), nil, nil
		}
		recs, run, err := s.CourseScores(ctx, input.CourseID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"run_id": run.ID,
			"scores": recs,
		})), nil, nil
	}
}

func statsHandler(s *aspectscore.Scorer) func(context.Context, *mcp.CallToolRequest, statsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input statsInput) (*mcp.CallToolResult, any, error) {
		stats, run, err := s.RunStats(ctx, input.RunID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		recs, _, err := s.RunRecords(ctx, run.ID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"run":     run,
			"columns": stats,
			"scores":  aspectscore.SummarizeRecords(run.Aspects, recs, run.Params),
		})), nil, nil
	}
}

func fuseHandler(s *aspectscore.Scorer) func(context.Context, *mcp.CallToolRequest, fuseInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input fuseInput) (*mcp.CallToolResult, any, error) {
		fp := s.Params().Fusion()
		if input.Weight != nil {
			fp.Weight = *input.Weight
		}
		if input.Temperature != nil {
			fp.Temperature = *input.Temperature
		}
		if input.Bias != nil {
			fp.Bias = *input.Bias
		}
		p := aspectscore.DefaultParams()
		p.Weight, p.Temperature, p.Bias = fp.Weight, fp.Temperature, fp.Bias
		if err := p.Validate(); err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"score":  aspectscore.Fuse(input.Cos, input.NormalizedDot, fp),
			"params": fp,
		})), nil, nil
	}
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}
