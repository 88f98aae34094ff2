package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/wizenheimer/linkknn"
	"github.com/wizenheimer/linkknn/embedder"
	"github.com/wizenheimer/linkknn/internal/config"
	"github.com/wizenheimer/linkknn/internal/logger"
	"github.com/wizenheimer/linkknn/tabular"
)

// Flags shared by every command that reads the dataset.
var datasetFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "dataset",
		Aliases: []string{"d"},
		Usage:   "Link dataset (CSV, TSV or Parquet)",
	},
	&cli.IntFlag{
		Name:  "limit",
		Usage: "Keep only the first N rows",
	},
	&cli.StringFlag{
		Name:  "policy",
		Usage: "Candidate policy: descending, ascending, insertion or heap",
	},
	&cli.StringFlag{
		Name:  "count-mode",
		Usage: "Occurrence counting: substring or token",
	},
}

var gridFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "ks",
		Usage: "Comma separated top-k cutoffs, e.g. 1,5,10",
	},
	&cli.StringFlag{
		Name:  "ts",
		Usage: "Comma separated filter widths, e.g. 10,50",
	},
	&cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Result table (CSV, TSV or Parquet)",
	},
}

var indexCommand = &cli.Command{
	Name:  "index",
	Usage: "Build the frequency index and print its statistics",
	Description: `Builds the frequency index for a dataset and reports how many links it holds
and how often the truth document contains its own link.

Examples:
  linkknn index --dataset links.csv
  linkknn index --dataset links.csv --link "apple" --t 5`,
	Flags: append([]cli.Flag{
		&cli.StringSliceFlag{
			Name:  "link",
			Usage: "Print the first T candidates of a link (can be repeated)",
		},
		&cli.IntFlag{
			Name:  "t",
			Usage: "Number of candidates to print per link",
			Value: 10,
		},
	}, datasetFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		log := logger.WithComponent("index")

		t := c.Int("t")
		if t < 1 {
			return fmt.Errorf("%w: --t must be positive, got %d", linkknn.ErrInvalidParameters, t)
		}
		_, index, err := buildIndex(cfg, log)
		if err != nil {
			return err
		}
		for _, link := range c.StringSlice("link") {
			entries, err := index.Entries(link)
			if err != nil {
				return err
			}
			for pos, e := range entries[:min(t, len(entries))] {
				fmt.Fprintf(c.App.Writer, "%s\t%d\tdoc=%d\tcount=%d\ttruth=%t\n",
					link, pos+1, e.DocIndex, e.Count, e.DocIndex == e.LinkIndex)
			}
		}
		return nil
	},
}

var baselineCommand = &cli.Command{
	Name:  "baseline",
	Usage: "Score the frequency filter alone (no embeddings)",
	Description: `Computes the raw term-frequency accuracy for every (k, T) cell: a hit is the
truth document among the first min(k, T) frequency candidates.

Examples:
  linkknn baseline --dataset links.csv --ks 1,5 --ts 5,10 -o raw_tf.csv`,
	Flags: append(append([]cli.Flag{}, datasetFlags...), gridFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		log := logger.WithComponent("baseline")

		rows, index, err := buildIndex(cfg, log)
		if err != nil {
			return err
		}
		eval, err := linkknn.NewEvaluator(index)
		if err != nil {
			return err
		}
		results, err := linkknn.RunGrid(eval, nil, cfg.Evaluation.Ks, cfg.Evaluation.Ts,
			linkknn.Links(rows), nil, nil, linkknn.WithRawTFBaseline())
		if err != nil {
			return err
		}
		return reportResults(c, cfg, log, results)
	},
}

var evaluateCommand = &cli.Command{
	Name:  "evaluate",
	Usage: "Score query/document embeddings with the filtered KNN metric",
	Description: `Loads the dataset and the query (EQ) and document (ED) embedding matrices,
fits every configured model and reports accuracy and MRR for every (k, T) cell.

Matrices come from files (--queries/--documents) or from Postgres tables
configured under embeddings.*.table.

Examples:
  linkknn evaluate -d links.csv --queries eq.csv --documents ed.csv --index-column
  linkknn -c eval.yaml evaluate --raw-tf --full-space`,
	Flags: append(append([]cli.Flag{
		&cli.StringFlag{
			Name:  "queries",
			Usage: "Query embedding matrix (EQ)",
		},
		&cli.StringFlag{
			Name:  "documents",
			Usage: "Document embedding matrix (ED)",
		},
		&cli.BoolFlag{
			Name:  "index-column",
			Usage: "Matrix files carry a leading row-label column",
		},
		&cli.StringFlag{
			Name:  "distance",
			Usage: "Re-ranking metric: l2_squared, l2 or cosine",
		},
		&cli.BoolFlag{
			Name:  "raw-tf",
			Usage: "Add the raw term-frequency baseline to the results",
		},
		&cli.BoolFlag{
			Name:  "full-space",
			Usage: "Also log unfiltered KNN accuracy for each k",
		},
	}, datasetFlags...), gridFlags...),
	Action: runEvaluate,
}

var embedCommand = &cli.Command{
	Name:  "embed",
	Usage: "Embed dataset contexts and documents through an OpenAI-compatible API",
	Description: `Embeds each row's context (queries) and target text (documents) and writes
the two matrices to files or Postgres tables.

Examples:
  linkknn embed -d links.csv --queries eq.parquet --documents ed.parquet
  LINKKNN_EMBEDDER_API_KEY=... linkknn -c eval.yaml embed`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "queries",
			Usage: "Where to write the query embedding matrix",
		},
		&cli.StringFlag{
			Name:  "documents",
			Usage: "Where to write the document embedding matrix",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Embedding model name (overrides config)",
		},
		&cli.StringFlag{
			Name:  "base-url",
			Usage: "Embeddings API base URL (overrides config)",
		},
		&cli.BoolFlag{
			Name:  "link-only",
			Usage: "Embed the link text instead of its context",
		},
	}, datasetFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if v := c.String("model"); v != "" {
			cfg.Embedder.Model = v
		}
		if v := c.String("base-url"); v != "" {
			cfg.Embedder.BaseURL = v
		}
		log := logger.WithComponent("embed")

		rows, err := loadRows(cfg)
		if err != nil {
			return err
		}
		e, err := embedder.NewOpenAICompatible(embedder.OpenAICompatibleConfig{
			BaseURL:    cfg.Embedder.BaseURL,
			APIKey:     cfg.Embedder.APIKey,
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Embedder.Dimensions,
			Timeout:    cfg.Embedder.Timeout,
		})
		if err != nil {
			return err
		}

		queryTexts := linkknn.Contexts(rows)
		if c.Bool("link-only") {
			queryTexts = linkknn.Links(rows)
		}
		progress := logger.Progress(log, "embedded", cfg.Embedder.BatchSize*10)

		log.Info("embedding queries", "rows", len(rows), "model", e.Model())
		eq, err := embedder.EmbedMatrix(c.Context, e, queryTexts, cfg.Embedder.BatchSize, progress)
		if err != nil {
			return fmt.Errorf("queries: %w", err)
		}
		log.Info("embedding documents", "rows", len(rows), "model", e.Model())
		ed, err := embedder.EmbedMatrix(c.Context, e, linkknn.Targets(rows), cfg.Embedder.BatchSize, progress)
		if err != nil {
			return fmt.Errorf("documents: %w", err)
		}

		if err := saveMatrix(c, cfg, cfg.Embeddings.Queries, eq); err != nil {
			return fmt.Errorf("queries: %w", err)
		}
		if err := saveMatrix(c, cfg, cfg.Embeddings.Documents, ed); err != nil {
			return fmt.Errorf("documents: %w", err)
		}
		log.Info("embeddings written", "queries", eq.Rows(), "documents", ed.Rows(), "dimensions", eq.Dim())
		return nil
	},
}

func runEvaluate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logger.WithComponent("evaluate")

	rows, index, err := buildIndex(cfg, log)
	if err != nil {
		return err
	}
	eq, err := loadMatrix(c, cfg, cfg.Embeddings.Queries)
	if err != nil {
		return fmt.Errorf("queries: %w", err)
	}
	ed, err := loadMatrix(c, cfg, cfg.Embeddings.Documents)
	if err != nil {
		return fmt.Errorf("documents: %w", err)
	}
	if cfg.Dataset.Limit > 0 && eq.Rows() > len(rows) {
		// Query row i belongs to dataset row i; drop the rows cut by the limit.
		eq = eq[:len(rows)]
	}
	log.Info("embeddings loaded",
		"queries", eq.Rows(), "documents", ed.Rows(), "dimensions", eq.Dim())

	eval, err := linkknn.NewEvaluator(index,
		linkknn.WithDistance(linkknn.DistanceKind(cfg.Evaluation.Distance)))
	if err != nil {
		return err
	}

	fitters := make([]linkknn.Fitter, 0, len(cfg.Fitters))
	for _, spec := range cfg.Fitters {
		f, err := linkknn.NewFitter(spec)
		if err != nil {
			return err
		}
		fitters = append(fitters, f)
	}

	links := linkknn.Links(rows)
	opts := []linkknn.GridOption{
		linkknn.WithGridProgress(logger.Progress(log, "grid cell scored", 1)),
	}
	if cfg.Evaluation.RawTF {
		opts = append(opts, linkknn.WithRawTFBaseline())
	}
	results, err := linkknn.RunGrid(eval, fitters, cfg.Evaluation.Ks, cfg.Evaluation.Ts, links, eq, ed, opts...)
	if err != nil {
		return err
	}

	if kind := cfg.Evaluation.Fusion.Kind; kind != "" {
		fused, err := fusedResults(eval, cfg, links, eq, ed)
		if err != nil {
			return err
		}
		results = append(results, fused...)
	}

	if c.Bool("full-space") {
		for _, k := range cfg.Evaluation.Ks {
			acc, err := eval.FullSpaceAccuracy(k, eq, ed)
			if err != nil {
				return fmt.Errorf("full space k=%d: %w", k, err)
			}
			log.Info("full space accuracy", "k", k, "accuracy", acc)
		}
	}

	return reportResults(c, cfg, log, results)
}

func fusedResults(eval *linkknn.Evaluator, cfg *config.Config, links []string, eq, ed linkknn.Matrix) ([]linkknn.GridResult, error) {
	fcfg := cfg.Evaluation.Fusion
	fusion, err := linkknn.NewFusion(linkknn.FusionKind(fcfg.Kind), fcfg.FusionSettings())
	if err != nil {
		return nil, err
	}
	model := "fused(" + string(fusion.Kind()) + ")"
	var out []linkknn.GridResult
	for _, t := range cfg.Evaluation.Ts {
		for _, k := range cfg.Evaluation.Ks {
			if k > t {
				continue
			}
			r, err := eval.MeasureFusedAccuracy(t, k, links, eq, ed, fusion)
			if err != nil {
				return nil, fmt.Errorf("%s k=%d t=%d: %w", model, k, t, err)
			}
			out = append(out, linkknn.GridResult{
				Model: model, K: k, T: t, Accuracy: r.Accuracy, MRR: r.MRR, Queries: r.Queries,
			})
		}
	}
	return out, nil
}

func reportResults(c *cli.Context, cfg *config.Config, log *slog.Logger, results []linkknn.GridResult) error {
	for _, r := range results {
		log.Info("result",
			"model", r.Model, "k", r.K, "t", r.T,
			"accuracy", r.Accuracy, "mrr", r.MRR, "queries", r.Queries)
	}
	if cfg.Output.Path == "" {
		return nil
	}
	if err := tabular.WriteResults(cfg.Output.Path, tabular.Format(cfg.Output.Format), results); err != nil {
		return err
	}
	log.Info("results written", "path", cfg.Output.Path, "rows", len(results))
	return nil
}
