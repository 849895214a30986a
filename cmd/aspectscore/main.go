// aspectscore scores a course catalog against the fixed aspect set.
//
// Typical flow:
//
//	aspectscore import --csv courses.csv
//	aspectscore embed
//	aspectscore score --csv courses.csv
//	aspectscore top --aspect skills --min product=0.4
//
// Configuration comes from an optional YAML file (--config) and
// ASPECTSCORE_* environment variables.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/goblincore/aspectscore"
)

// env is the state shared by every command, built in Before.
type env struct {
	cfg    *aspectscore.Config
	logger *logrus.Logger
	store  *aspectscore.Store
	scorer *aspectscore.Scorer
}

func main() {
	e := &env{logger: logrus.New()}
	if err := newApp(e).Run(os.Args); err != nil {
		e.logger.WithError(err).Error("aspectscore failed")
		os.Exit(1)
	}
}

func newApp(e *env) *cli.App {
	return &cli.App{
		Name:  "aspectscore",
		Usage: "score courses against learning aspects with calibrated embeddings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"ASPECTSCORE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"ASPECTSCORE_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "emit logs as JSON",
			},
		},
		Before: func(c *cli.Context) error {
			return e.setup(c)
		},
		After: func(c *cli.Context) error {
			if e.store != nil {
				return e.store.Close()
			}
			return nil
		},
		Commands: commands(e),
	}
}

func (e *env) setup(c *cli.Context) error {
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("bad value for --log-level: %w", err)
	}
	e.logger.SetLevel(level)
	if c.Bool("log-json") {
		e.logger.SetFormatter(&logrus.JSONFormatter{})
	}

	cfg, errs := aspectscore.LoadConfig(c.String("config"))
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", multierror.Append(nil, errs...))
	}
	e.cfg = cfg
	return nil
}

// open lazily creates the store and scorer so that --help never touches disk.
// Only commands that embed ask for an embedder, so read-only commands work
// without provider credentials.
func (e *env) open(withEmbedder bool) (*aspectscore.Scorer, error) {
	if e.scorer != nil {
		return e.scorer, nil
	}
	store, err := aspectscore.NewStore(e.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var embedder aspectscore.Embedder
	model := "none"
	if withEmbedder {
		inner, err := aspectscore.NewEmbedder(e.cfg.Embedder, e.logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		embedder = aspectscore.NewCachedEmbedder(inner, store, e.logger)
		model = inner.ModelID()
	}

	e.store = store
	e.scorer = aspectscore.NewScorer(store, embedder,
		aspectscore.WithLogger(e.logger),
		aspectscore.WithParams(e.cfg.Scoring),
	)
	e.logger.WithFields(logrus.Fields{
		"db":       e.cfg.DBPath,
		"embedder": model,
	}).Debug("store opened")
	return e.scorer, nil
}

// parseMinimums parses repeated aspect=value flags.
func parseMinimums(vals []string) (map[string]float64, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(vals))
	for _, v := range vals {
		aspect, raw, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(aspect) == "" {
			return nil, fmt.Errorf("bad value for --min %q: expected aspect=value", v)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("bad value for --min %q: %w", v, err)
		}
		out[strings.TrimSpace(aspect)] = f
	}
	return out, nil
}
