// Package main provides segport, which converts the SegFormer wall
// segmentation model from the Hugging Face Hub into an ONNX file for Unity
// Sentis.
//
// The command takes no arguments. Settings come from SEGPORT_* environment
// variables (see internal/config); HF_TOKEN authenticates against private
// repositories.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/born-ml/segport/internal/config"
	"github.com/born-ml/segport/internal/export"
	"github.com/born-ml/segport/internal/fetch"
	"github.com/born-ml/segport/internal/hub"
	"github.com/born-ml/segport/internal/logger"
	"github.com/born-ml/segport/internal/parallel"
	"github.com/born-ml/segport/internal/pipeline"
	"github.com/born-ml/segport/internal/report"
)

var version = "v0.1.0-dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "segport: %v\n", err)
		return 1
	}
	level, _ := cfg.Log.SlogLevel()
	lang, _ := report.ParseLanguage(cfg.Language)

	runID := logger.NewRunID()
	log := logger.New(logger.Options{Level: level, File: cfg.Log.File, RunID: runID})
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log.Logger)

	log.Info("Starting conversion",
		"version", version,
		"model", cfg.ModelID,
		"revision", cfg.Revision,
		"output", cfg.OutputPath,
		"cache", cfg.Hub.CacheDir)

	client := hub.NewClient(hub.Options{
		Endpoint:  cfg.Hub.Endpoint,
		Token:     cfg.Hub.Token,
		CacheDir:  cfg.Hub.CacheDir,
		UserAgent: "segport/" + version,
		Logger:    log.Logger,
	})
	p := pipeline.New(pipeline.Options{
		ModelID:    cfg.ModelID,
		OutputPath: cfg.OutputPath,
		Fetcher: fetch.New(client, fetch.Options{
			Revision: cfg.Revision,
			Timeout:  cfg.FetchTimeout,
			Parallel: parallel.DefaultConfig(),
			Logger:   log.Logger,
		}),
		Exporter: export.New(export.Options{
			OutputPath:      cfg.OutputPath,
			ModelID:         cfg.ModelID,
			Seed:            cfg.Seed,
			ProducerVersion: version,
			RunID:           runID,
			Logger:          log.Logger,
		}),
		Observer: report.New(os.Stdout, lang),
	})

	_, err = p.Run(ctx)
	return pipeline.ExitCode(err)
}
