// Command comovement runs the disclosure similarity versus return
// comovement analysis end to end: it selects one vector per firm and
// period from document embeddings, computes all-pairs cosine
// similarity, computes rolling-window return correlations from daily
// prices, aligns the two panels and writes the statistical comparison
// to the output directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"comovecli/internal/config"
	"comovecli/internal/operations"
	"comovecli/internal/sources"
	"comovecli/pkg/contracts"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	embeddingsPath := flag.String("embeddings", "", "path to the document embeddings CSV")
	pricesDir := flag.String("prices", "", "directory of per-firm daily price CSVs")
	outDir := flag.String("out", "", "output directory (overrides configuration)")
	fromPeriod := flag.String("from", "", "first analysis period, e.g. 2019Q1 (overrides configuration)")
	toPeriod := flag.String("to", "", "last analysis period, e.g. 2021Q4 (overrides configuration)")
	trace := flag.Bool("trace", false, "emit OpenTelemetry spans to stdout")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString())
		return
	}

	if *embeddingsPath == "" || *pricesDir == "" {
		fmt.Fprintln(os.Stderr, "usage: comovement -embeddings <csv> -prices <dir> [-config <yaml>] [-out <dir>] [-from <period>] [-to <period>] [-trace]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Run.OutputDir = *outDir
	}
	if *fromPeriod != "" {
		cfg.Run.FromPeriod = *fromPeriod
	}
	if *toPeriod != "" {
		cfg.Run.ToPeriod = *toPeriod
	}
	if *trace {
		cfg.Run.EnableTracing = true
	}

	logger := newLogger(cfg.Run.LogLevel)
	slog.SetDefault(logger)

	// os.Exit skips deferred calls, so the deferred tracer shutdown
	// must live inside run, not main.
	if err := run(cfg, *embeddingsPath, *pricesDir, logger); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, embeddingsPath, pricesDir string, logger *slog.Logger) error {
	shutdown, err := operations.InitTracing(cfg.Run.EnableTracing)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("trace shutdown failed", "error", err)
		}
	}()

	embeddings, err := sources.NewCSVEmbeddingSource(embeddingsPath, logger)
	if err != nil {
		logger.Error("failed to open embedding source", "path", embeddingsPath, "error", err)
		return err
	}
	prices, err := sources.NewCSVPriceSource(pricesDir, logger)
	if err != nil {
		logger.Error("failed to open price source", "dir", pricesDir, "error", err)
		return err
	}

	manager, err := operations.NewManager(cfg, logger)
	if err != nil {
		logger.Error("failed to build run manager", "error", err)
		return err
	}

	state, err := manager.Run(context.Background(), embeddings, prices, nil)
	if err != nil {
		logger.Error("run failed", "error", err)
		return err
	}

	result := state.Result()
	fmt.Printf("run %s completed in %s\n", state.ID, state.Duration().Round(time.Millisecond))
	fmt.Printf("  periods:      %d\n", len(state.Periods()))
	fmt.Printf("  similarities: %d\n", len(state.Similarities()))
	fmt.Printf("  correlations: %d\n", len(state.Correlations()))
	fmt.Printf("  aligned:      %d\n", len(state.Aligned()))
	fmt.Printf("  exclusions:   %d\n", state.Exclusions().Total())
	if result != nil && len(result.Errors) > 0 {
		for analysis, msg := range result.Errors {
			fmt.Printf("  %s analysis not produced: %s\n", analysis, msg)
		}
	}
	fmt.Printf("  output:       %s\n", cfg.Run.OutputDir)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
