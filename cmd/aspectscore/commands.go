package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/goblincore/aspectscore"
)

func commands(e *env) []*cli.Command {
	return []*cli.Command{
		importCommand(e),
		embedCommand(e),
		scoreCommand(e),
		topCommand(e),
		courseCommand(e),
		statsCommand(e),
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"}
}

func importCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "load courses from a CSV with row_id, text and optional embedding columns",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "csv", Usage: "course CSV file", Required: true},
			&cli.BoolFlag{Name: "replace", Usage: "make the CSV the whole catalog, deleting courses it does not list"},
		},
		Action: func(c *cli.Context) error {
			s, err := e.open(false)
			if err != nil {
				return err
			}
			tbl, err := aspectscore.ReadCourseFile(c.String("csv"))
			if err != nil {
				return err
			}
			importer := s.ImportCourses
			if c.Bool("replace") {
				importer = s.ReplaceCourses
			}
			n, err := importer(c.Context, tbl.CourseRows())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "imported %d courses\n", n)
			return nil
		},
	}
}

func embedCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "embed",
		Usage: "compute embeddings for stored courses",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "update", Usage: "re-embed courses that already have a vector"},
		},
		Action: func(c *cli.Context) error {
			s, err := e.open(true)
			if err != nil {
				return err
			}
			n, err := s.EmbedCourses(c.Context, c.Bool("update"))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "embedded %d courses\n", n)
			return nil
		},
	}
}

func scoreCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "score",
		Usage: "score every stored course and persist the run",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "aspects", Usage: "aspect JSON file (default from config)"},
			&cli.StringFlag{Name: "csv", Usage: "write embeddings and score columns back into this course CSV"},
			&cli.StringFlag{Name: "pipeline", Usage: "fusion or calibrated"},
			&cli.StringFlag{Name: "dot-mode", Usage: "fusion dot normalizer: percentile or zscore"},
			&cli.StringFlag{Name: "calibration", Usage: "calibrated cosine: none, zscore or minmax"},
			&cli.StringFlag{Name: "label-mode", Usage: "calibrated output: single (softmax) or multi (sigmoid)"},
			&cli.Float64Flag{Name: "weight", Usage: "fusion weight of cosine evidence"},
			&cli.Float64Flag{Name: "temperature", Usage: "fusion temperature"},
			&cli.Float64Flag{Name: "bias", Usage: "fusion bias"},
			&cli.Float64Flag{Name: "gamma", Usage: "zscore-sigmoid steepness"},
			&cli.Float64Flag{Name: "trim", Usage: "zscore trim fraction per tail"},
			&cli.Float64Flag{Name: "tau", Usage: "softmax/sigmoid temperature"},
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			s, err := e.open(true)
			if err != nil {
				return err
			}
			p := scoreParams(c, s.Params())
			if err := p.Validate(); err != nil {
				return err
			}

			path := c.String("aspects")
			if path == "" {
				path = e.cfg.AspectsPath
			}
			texts, err := aspectscore.LoadAspectTexts(path)
			if err != nil {
				return err
			}
			aspects, err := s.EmbedAspects(c.Context, texts)
			if err != nil {
				return err
			}
			res, err := s.Run(c.Context, aspects, p)
			if err != nil {
				return err
			}

			if out := c.String("csv"); out != "" {
				if err := writeBack(c, e, out, res); err != nil {
					return err
				}
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, res)
			}
			fmt.Fprintf(c.App.Writer, "run %s: %d courses, %s\n", res.RunID, res.Courses(), p)
			return printSummaries(c.App.Writer, aspectscore.SummarizeRecords(res.Aspects, res.Records, p))
		},
	}
}

// scoreParams overlays the flags that were set on the configured params.
func scoreParams(c *cli.Context, p aspectscore.Params) aspectscore.Params {
	p.ApplyModeFlags(c.String("pipeline"), c.String("dot-mode"), c.String("calibration"), c.String("label-mode"))
	for name, dst := range map[string]*float64{
		"weight":      &p.Weight,
		"temperature": &p.Temperature,
		"bias":        &p.Bias,
		"gamma":       &p.Gamma,
		"trim":        &p.TrimFraction,
		"tau":         &p.Tau,
	} {
		if c.IsSet(name) {
			*dst = c.Float64(name)
		}
	}
	return p
}

func writeBack(c *cli.Context, e *env, path string, res *aspectscore.Result) error {
	tbl, err := aspectscore.ReadCourseFile(path)
	if err != nil {
		return err
	}
	courses, err := e.store.ListCourses(c.Context)
	if err != nil {
		return err
	}
	if err := tbl.SetEmbeddings(courses); err != nil {
		return err
	}
	tbl.ApplyScores(res.Aspects, res.Records, res.Params)
	if err := tbl.WriteFile(path); err != nil {
		return err
	}
	e.logger.WithField("path", path).Info("wrote scores to csv")
	return nil
}

func topCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "top",
		Usage: "list the best courses of a run for one aspect",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run", Usage: "run id (default: latest)"},
			&cli.StringFlag{Name: "aspect", Usage: "aspect label to rank by, one of " + strings.Join(aspectscore.AspectLabels(), ", ") + " (default: first)"},
			&cli.StringSliceFlag{Name: "min", Usage: "minimum score filter, aspect=value (repeatable)"},
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "page size, at most 100"},
			&cli.IntFlag{Name: "offset", Usage: "page offset"},
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			s, err := e.open(false)
			if err != nil {
				return err
			}
			mins, err := parseMinimums(c.StringSlice("min"))
			if err != nil {
				return err
			}
			page, err := s.TopCourses(c.Context, aspectscore.TopQuery{
				RunID:     c.String("run"),
				Aspect:    c.String("aspect"),
				MinScores: mins,
				Limit:     c.Int("limit"),
				Offset:    c.Int("offset"),
			})
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, page)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "COURSE\t%s\n", strings.ToUpper(strings.Join(page.Run.Aspects, "\t")))
			for _, cs := range page.Courses {
				fmt.Fprint(w, cs.CourseID)
				for _, a := range page.Run.Aspects {
					fmt.Fprintf(w, "\t%.4f", cs.Scores[a])
				}
				fmt.Fprintln(w)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%d of %d courses (run %s, by %s)\n",
				len(page.Courses), page.Total, page.Run.ID, page.Aspect)
			return nil
		},
	}
}

func courseCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "course",
		Usage:     "show every score of one course in the latest run",
		ArgsUsage: "<course-id>",
		Flags:     []cli.Flag{jsonFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("course: expected exactly one course id", 2)
			}
			s, err := e.open(false)
			if err != nil {
				return err
			}
			recs, run, err := s.CourseScores(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, recs)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ASPECT\tDOT\tCOS\tSCORE")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\n", r.Aspect, r.Dot, r.Cos, r.Score)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "run %s, %s\n", run.ID, run.Params)
			return nil
		},
	}
}

func statsCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "show column statistics and score distributions of a run",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run", Usage: "run id (default: latest)"},
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			s, err := e.open(false)
			if err != nil {
				return err
			}
			stats, run, err := s.RunStats(c.Context, c.String("run"))
			if err != nil {
				return err
			}
			recs, _, err := s.RunRecords(c.Context, run.ID)
			if err != nil {
				return err
			}
			sums := aspectscore.SummarizeRecords(run.Aspects, recs, run.Params)
			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]any{
					"run":     run,
					"columns": stats,
					"scores":  sums,
				})
			}

			fmt.Fprintf(c.App.Writer, "run %s at %s: %d courses, %s\n",
				run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"), run.Courses, run.Params)
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ASPECT\tN\tMEAN\tSTD\tMIN\tMAX\tNOTE")
			for _, st := range stats {
				var notes []string
				if st.Trimmed {
					notes = append(notes, "trimmed")
				}
				if st.Floored {
					notes = append(notes, "std floored")
				}
				fmt.Fprintf(w, "%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%s\n",
					st.Aspect, st.N, st.Mean, st.Std, st.Min, st.Max, strings.Join(notes, ","))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer)
			return printSummaries(c.App.Writer, sums)
		},
	}
}

func printSummaries(out io.Writer, sums []aspectscore.Summary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tN\tMEAN\tMEDIAN\tSTD\tMIN\tMAX")
	for _, s := range sums {
		fmt.Fprintf(w, "%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\n",
			s.Column, s.N, s.Mean, s.Median, s.Std, s.Min, s.Max)
	}
	return w.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
