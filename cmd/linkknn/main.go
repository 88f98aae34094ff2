package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "linkknn",
		Version: "v0.1.0",
		Usage:   "Score text embeddings on link resolution with the filtered KNN metric",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				EnvVars: []string{"LINKKNN_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json (overrides config)",
			},
		},
		Commands: []*cli.Command{
			indexCommand,
			baselineCommand,
			evaluateCommand,
			embedCommand,
		},
	}
}
