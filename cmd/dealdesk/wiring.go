package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dealdesk/internal/config"
	"dealdesk/internal/evidence"
	"dealdesk/internal/notify"
	"dealdesk/internal/pipeline"
	"dealdesk/internal/reasoning"
	"dealdesk/internal/store"
	"dealdesk/internal/stream"
	"dealdesk/internal/types"
)

// loadConfig resolves the config file path and loads it.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".dealdesk", "config.yaml")
		}
	}
	return config.Load(path)
}

// buildStore wires the persistence manager with its optional SQLite
// projection. A projection that fails to open degrades to log-only
// operation; the relational index is never a correctness dependency.
func buildStore(cfg config.Config) (*store.Manager, error) {
	var proj *store.Projection
	if !cfg.Store.DisableProjection && cfg.Store.ProjectionPath != "" {
		p, err := store.NewProjection(cfg.Store.ProjectionPath, logger)
		if err != nil {
			logger.Warn("projection unavailable, continuing with log-only store")
		} else {
			proj = p
		}
	}
	return store.NewManager(store.ManagerConfig{
		Root:       cfg.Store.Root,
		Projection: proj,
		Logger:     logger,
	})
}

// buildOrchestrator wires the full pipeline: store, reasoning runner,
// resilient evidence provider, broadcaster, notifier.
func buildOrchestrator(ctx context.Context, cfg config.Config, b *stream.Broadcaster) (*pipeline.Orchestrator, *store.Manager, error) {
	mgr, err := buildStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.LLM.APIKey == "" {
		return nil, nil, fmt.Errorf("no Gemini API key configured (set DEALDESK_GEMINI_API_KEY)")
	}
	runner, err := reasoning.NewGenAIRunner(ctx, cfg.LLM.APIKey, cfg.LLM.Model, logger)
	if err != nil {
		return nil, nil, err
	}

	searchTimeout, err := cfg.SearchTimeout()
	if err != nil {
		return nil, nil, err
	}
	reasonTimeout, err := cfg.LLMTimeout()
	if err != nil {
		return nil, nil, err
	}

	var search types.SearchProvider
	if cfg.Search.APIKey != "" {
		search = evidence.NewResilient(
			evidence.NewHTTPProvider(cfg.Search.BaseURL, cfg.Search.APIKey),
			searchTimeout, logger)
	} else {
		logger.Warn("no search API key configured, evidence gathering will be empty")
	}

	var broadcaster types.Broadcaster
	if b != nil {
		broadcaster = b
	}

	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Store:       mgr,
		Runner:      runner,
		Search:      search,
		Broadcaster: broadcaster,
		Notifier:    notify.NewWebhook(cfg.Notify.WebhookURL, logger),
		Logger:      logger,
		Pipeline: pipeline.Config{
			SearchTimeout:       searchTimeout,
			ReasonTimeout:       reasonTimeout,
			ProviderConcurrency: int64(cfg.Pipeline.ProviderConcurrency),
			MaxRetries:          cfg.Pipeline.MaxRetries,
		},
	})
	return orch, mgr, nil
}
