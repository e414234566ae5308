// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "conductor",
		Usage: "Index documents and answer requests over them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"CONDUCTOR_CONFIG"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Index files and directories into the knowledge store",
				ArgsUsage: "PATH...",
				Action:    ingestCommand,
			},
			{
				Name:      "ask",
				Usage:     "Answer a request",
				ArgsUsage: "MESSAGE",
				Action:    askCommand,
				Flags: []cli.Flag{
					filterFlag(),
					&cli.BoolFlag{
						Name:  "show-plan",
						Usage: "Print the execution plan and node outcomes",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Run a hybrid retrieval without planning",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					filterFlag(),
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"k"},
						Usage:   "Number of results (defaults to retrieval.top_k)",
					},
				},
			},
			{
				Name:   "redrive",
				Usage:  "Replay dead-lettered embedding batches",
				Action: redriveCommand,
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed every stored chunk under a new embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "embedding-model",
						Usage:    "Embedding model name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL (defaults to ai.embedding_host)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks in each embedding request",
						Value: 32,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts for a failed embedding request",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Ingest files as they appear in a directory",
				Action: watchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Directory to watch (defaults to watch.dir)",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve Prometheus metrics on this address (defaults to watch.metrics_addr)",
					},
					&cli.BoolFlag{
						Name:  "initial",
						Usage: "Ingest files already in the directory before watching",
					},
				},
			},
		},
	}
}

func filterFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "filter",
		Aliases: []string{"f"},
		Usage:   "Metadata filter as key=value (repeatable)",
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", strings.ToLower(s))
	}
}

func setupLogger(c *cli.Context) error {
	level, err := parseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	setDefaultLogger(level)
	return nil
}

func setDefaultLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
