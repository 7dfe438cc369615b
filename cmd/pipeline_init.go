package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseworks/docpipe/internal/fetcher"
	"github.com/caseworks/docpipe/internal/monitoring"
	"github.com/caseworks/docpipe/internal/ocr"
	"github.com/caseworks/docpipe/internal/pipeline"
	"github.com/caseworks/docpipe/internal/store"
	"github.com/caseworks/docpipe/internal/trigger"
	"github.com/caseworks/docpipe/pkg/aiclient"
	"github.com/caseworks/docpipe/pkg/notion"
)

// pipelineEnv holds the initialized store, clients, and orchestrator needed
// by the process/worker/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
	Triggers     []trigger.Trigger
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "docpipe.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, model client, fetcher, OCR extractor,
// trigger packs, and sinks, and builds the Orchestrator. Callers should
// defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	limiter := aiclient.NewLimiter(cfg.Model.MaxConcurrent)
	aiClient, err := aiclient.NewAnthropic(cfg.Anthropic.Key, limiter, aiclient.Options{
		RequestsPerSecond: cfg.Model.RequestsPerSecond,
		TimeoutMs:         cfg.Model.TimeoutMs,
		MaxRetries:        cfg.Model.MaxRetries,
		RetryDelayMs:      cfg.Model.RetryDelayMs,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	docFetcher := fetcher.NewResolver(
		fetcher.NewFileFetcher(),
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
		}),
		fetcher.NewFTPFetcher(fetcher.FTPOptions{
			Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		}),
	)

	extractor, err := ocr.NewExtractor(cfg.OCR, aiClient, cfg.Anthropic.OCRModel)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var triggers []trigger.Trigger
	if _, statErr := os.Stat(cfg.Triggers.PackDir); statErr != nil {
		zap.L().Warn("trigger pack dir not found, actions stage will be skipped",
			zap.String("dir", cfg.Triggers.PackDir))
	} else {
		triggers, err = trigger.LoadPackDir(cfg.Triggers.PackDir)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load trigger packs")
		}
		zap.L().Info("trigger packs loaded", zap.Int("triggers", len(triggers)))
	}

	var sinks []pipeline.ActionSink
	if cfg.Notion.Token != "" && cfg.Notion.TasksDB != "" {
		notionClient := notion.NewClient(cfg.Notion.Token)
		sinks = append(sinks, notion.NewTaskSink(notionClient, cfg.Notion.TasksDB))
		zap.L().Info("notion task sink enabled")
	}

	alerter := monitoring.NewAlerter(cfg.Monitoring)

	orch := pipeline.New(cfg, st, docFetcher, extractor, aiClient, triggers, sinks, alerter)

	return &pipelineEnv{
		Store:        st,
		Orchestrator: orch,
		Triggers:     triggers,
	}, nil
}
