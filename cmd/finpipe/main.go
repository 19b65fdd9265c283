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
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/finpipe"
	"github.com/poiesic/finpipe/ai"
	"github.com/poiesic/finpipe/pipeline"
	"github.com/poiesic/finpipe/repair"
)

func main() {
	app := &cli.App{
		Name:  "finpipe",
		Usage: "Financial document pipeline: extract, map, vectorize, dual-store load",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start a new pipeline run over the source catalog",
				Action: runCommand,
				Flags: append(engineFlags(),
					&cli.BoolFlag{
						Name:  "simulate",
						Usage: "Run against in-memory stores and a mock AI provider",
					},
					&cli.Float64Flag{
						Name:  "failure-threshold",
						Usage: "Stage failure rate above which the run pauses",
						Value: pipeline.DefaultFailureThreshold,
					},
					&cli.IntFlag{
						Name:  "pool-size",
						Usage: "Worker pool size per stage (0 = half the CPUs)",
					},
				),
			},
			{
				Name:      "resume",
				Usage:     "Resume a paused run from its checkpoint",
				ArgsUsage: "<run-id>",
				Action:    resumeCommand,
				Flags: append(engineFlags(),
					&cli.Float64Flag{
						Name:  "failure-threshold",
						Usage: "Stage failure rate above which the run pauses",
						Value: pipeline.DefaultFailureThreshold,
					},
				),
			},
			{
				Name:      "status",
				Usage:     "Show the state, checkpoint, and outcome tallies of a run",
				ArgsUsage: "<run-id>",
				Action:    statusCommand,
				Flags:     engineFlags(),
			},
			{
				Name:   "list",
				Usage:  "List recorded runs, most recently updated first",
				Action: listCommand,
				Flags:  engineFlags(),
			},
			{
				Name:      "repair",
				Usage:     "Repair the partial dual-store writes of a run",
				ArgsUsage: "<run-id>",
				Action:    repairCommand,
				Flags: append(engineFlags(),
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Aliases: []string{"d"},
			Usage:   "Postgres connection URL",
			EnvVars: []string{"FINPIPE_DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:  "run-db",
			Usage: "Path to the embedded run store directory",
			Value: "finpipe-runs",
		},
		&cli.StringFlag{
			Name:  "host",
			Usage: "OpenAI-compatible service host URL for embeddings and extraction",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: "all-minilm",
		},
		&cli.StringFlag{
			Name:  "extractor-model",
			Usage: "Field-extraction model name",
			Value: "qwen2.5:3b",
		},
		&cli.IntFlag{
			Name:  "dimension",
			Usage: "Embedding dimensionality fixed for the deployment",
			Value: ai.DefaultDimension,
		},
	}
}

func openEngine(c *cli.Context, simulate bool) (*finpipe.Engine, error) {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithExtractorModel(c.String("extractor-model")),
		ai.WithDimension(c.Int("dimension")),
	)

	opts := []finpipe.EngineOption{
		finpipe.WithAIConfig(aiConfig),
		finpipe.WithMonitor(newStderrMonitor(os.Stderr)),
	}
	if c.IsSet("failure-threshold") {
		opts = append(opts, finpipe.WithFailureThreshold(c.Float64("failure-threshold")))
	}
	if c.Int("pool-size") > 0 {
		opts = append(opts, finpipe.WithPoolSize(c.Int("pool-size")))
	}

	if simulate {
		return finpipe.OpenSimulated(opts...)
	}

	databaseURL := c.String("database-url")
	if databaseURL == "" {
		return nil, fmt.Errorf("database-url is required (or set FINPIPE_DATABASE_URL)")
	}
	return finpipe.Open(context.Background(), databaseURL, c.String("run-db"), opts...)
}

func runCommand(c *cli.Context) error {
	engine, err := openEngine(c, c.Bool("simulate"))
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.Start(context.Background())
	if result != nil {
		printResult(result)
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func resumeCommand(c *cli.Context) error {
	runID := c.Args().First()
	if runID == "" {
		return fmt.Errorf("run id is required")
	}

	engine, err := openEngine(c, false)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.Resume(context.Background(), runID)
	if result != nil {
		printResult(result)
	}
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	runID := c.Args().First()
	if runID == "" {
		return fmt.Errorf("run id is required")
	}

	engine, err := openEngine(c, false)
	if err != nil {
		return err
	}
	defer engine.Close()

	status, err := engine.Status(context.Background(), runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run:        %s\n", status.Run.RunID)
	fmt.Printf("State:      %s\n", status.Run.State)
	if status.Run.Reason != "" {
		fmt.Printf("Reason:     %s\n", status.Run.Reason)
	}
	if status.Checkpoint != nil {
		fmt.Printf("Stage:      %s (attempt %d)\n", status.Checkpoint.Stage, status.Checkpoint.Attempts)
	}
	fmt.Printf("Committed:  %d\n", status.Committed)
	fmt.Printf("Partial:    %d\n", status.Partial)
	fmt.Printf("RolledBack: %d\n", status.RolledBack)
	return nil
}

func listCommand(c *cli.Context) error {
	engine, err := openEngine(c, false)
	if err != nil {
		return err
	}
	defer engine.Close()

	runs, err := engine.Runs(context.Background())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	for _, run := range runs {
		mode := ""
		if run.Simulate {
			mode = " (simulated)"
		}
		fmt.Printf("%s  %-11s  %s%s\n",
			run.UpdatedAt.Format(time.RFC3339), run.State, run.RunID, mode)
	}
	return nil
}

func repairCommand(c *cli.Context) error {
	runID := c.Args().First()
	if runID == "" {
		return fmt.Errorf("run id is required")
	}

	config := &repair.Config{
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if config.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	engine, err := openEngine(c, false)
	if err != nil {
		return err
	}
	defer engine.Close()

	report, err := engine.Repair(context.Background(), runID, config, os.Stderr)
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}
	if report.Remaining > 0 {
		return fmt.Errorf("%d partial writes could not be repaired", report.Remaining)
	}
	return nil
}

func printResult(result *pipeline.RunResult) {
	fmt.Printf("Run %s finished in state %s\n", result.RunID, result.State)
	for _, report := range result.Reports {
		fmt.Printf("  %-13s succeeded=%d failed=%d skipped=%d\n",
			report.Stage, len(report.Succeeded), len(report.Failed), len(report.Skipped))
		for _, failure := range report.Failed {
			source := failure.SourceID
			if source == "" {
				source = string(failure.Fingerprint)
			}
			fmt.Printf("    %s: %s\n", source, failure.Reason())
		}
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
