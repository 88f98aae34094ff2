package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/wizenheimer/linkknn"
	"github.com/wizenheimer/linkknn/internal/config"
	"github.com/wizenheimer/linkknn/internal/logger"
	"github.com/wizenheimer/linkknn/pgstore"
	"github.com/wizenheimer/linkknn/tabular"
)

// loadConfig reads the config file, applies command line overrides, sets up
// logging and validates the result.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFlags(c, cfg); err != nil {
		return nil, err
	}
	logger.SetupWriter(c.App.ErrWriter, cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyFlags copies every flag the user set onto cfg. Flags a command does
// not define are never set, so the lookup is safe for all commands.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	if c.IsSet("dataset") {
		cfg.Dataset.Path = c.String("dataset")
	}
	if c.IsSet("limit") {
		cfg.Dataset.Limit = c.Int("limit")
	}
	if c.IsSet("policy") {
		cfg.Index.Policy = c.String("policy")
	}
	if c.IsSet("count-mode") {
		cfg.Index.CountMode = c.String("count-mode")
	}
	if c.IsSet("ks") {
		ks, err := config.ParseInts(c.String("ks"))
		if err != nil {
			return fmt.Errorf("--ks: %w", err)
		}
		cfg.Evaluation.Ks = ks
	}
	if c.IsSet("ts") {
		ts, err := config.ParseInts(c.String("ts"))
		if err != nil {
			return fmt.Errorf("--ts: %w", err)
		}
		cfg.Evaluation.Ts = ts
	}
	if c.IsSet("output") {
		cfg.Output.Path = c.String("output")
	}
	if c.IsSet("distance") {
		cfg.Evaluation.Distance = c.String("distance")
	}
	if c.IsSet("raw-tf") {
		cfg.Evaluation.RawTF = c.Bool("raw-tf")
	}
	if c.IsSet("queries") {
		cfg.Embeddings.Queries = config.MatrixSource{Path: c.String("queries")}
	}
	if c.IsSet("documents") {
		cfg.Embeddings.Documents = config.MatrixSource{Path: c.String("documents")}
	}
	if c.IsSet("index-column") {
		cfg.Embeddings.Queries.IndexColumn = c.Bool("index-column")
		cfg.Embeddings.Documents.IndexColumn = c.Bool("index-column")
		cfg.Embeddings.Queries.Header = c.Bool("index-column")
		cfg.Embeddings.Documents.Header = c.Bool("index-column")
	}
	return nil
}

func loadRows(cfg *config.Config) ([]linkknn.Row, error) {
	d := cfg.Dataset
	if d.Path == "" {
		return nil, fmt.Errorf("no dataset: set dataset.path or --dataset")
	}
	return tabular.LoadRows(d.Path, tabular.RowOptions{
		Format:        tabular.Format(d.Format),
		LinkColumn:    d.LinkColumn,
		ContextColumn: d.ContextColumn,
		TargetColumn:  d.TargetColumn,
		Header:        d.Header,
		Limit:         d.Limit,
	})
}

// buildIndex loads the dataset and builds its frequency index.
func buildIndex(cfg *config.Config, log *slog.Logger) ([]linkknn.Row, *linkknn.FrequencyIndex, error) {
	rows, err := loadRows(cfg)
	if err != nil {
		return nil, nil, err
	}
	policy, err := linkknn.ParseCandidatePolicy(cfg.Index.Policy)
	if err != nil {
		return nil, nil, err
	}
	mode, err := linkknn.ParseCountMode(cfg.Index.CountMode)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	index, err := linkknn.NewFrequencyIndex(rows,
		linkknn.WithCandidatePolicy(policy),
		linkknn.WithCountMode(mode),
		linkknn.WithBuildProgress(logger.Progress(log, "indexing", 1000)),
	)
	if err != nil {
		return nil, nil, err
	}
	s := index.Stats()
	log.Info("frequency index built",
		"rows", s.Rows,
		"links", s.Links,
		"duplicate_links", s.DuplicateLinks,
		"coverage", s.Coverage,
		"mean_containing", s.MeanContaining,
		"policy", index.Policy(),
		"count_mode", index.CountMode(),
		"elapsed", time.Since(start),
	)
	return rows, index, nil
}

func loadMatrix(c *cli.Context, cfg *config.Config, src config.MatrixSource) (linkknn.Matrix, error) {
	if src.IsPostgres() {
		store, closeFn, err := openStore(c, cfg)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		return store.LoadMatrix(c.Context, src.Table)
	}
	if src.Path == "" {
		return nil, fmt.Errorf("no matrix source configured")
	}
	return tabular.LoadMatrix(src.Path, tabular.MatrixOptions{
		Format:      tabular.Format(src.Format),
		IndexColumn: src.IndexColumn,
		Header:      src.Header,
	})
}

func saveMatrix(c *cli.Context, cfg *config.Config, dst config.MatrixSource, m linkknn.Matrix) error {
	if dst.IsPostgres() {
		store, closeFn, err := openStore(c, cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := store.EnsureTable(c.Context, dst.Table); err != nil {
			return err
		}
		return store.SaveMatrix(c.Context, dst.Table, m)
	}
	if dst.Path == "" {
		return fmt.Errorf("no matrix destination configured")
	}
	return tabular.SaveMatrix(dst.Path, m, tabular.MatrixOptions{
		Format:      tabular.Format(dst.Format),
		IndexColumn: dst.IndexColumn,
		Header:      dst.Header,
	})
}

func openStore(c *cli.Context, cfg *config.Config) (*pgstore.Store, func(), error) {
	pool, err := pgstore.Connect(c.Context, cfg.Postgres.DSN())
	if err != nil {
		return nil, nil, err
	}
	store, err := pgstore.New(pool, cfg.Postgres.Schema)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
