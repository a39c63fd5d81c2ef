package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/concept"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/db"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/fetcher"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/resilience"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/sink"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/pkg/reddit"
)

// initConceptStore builds the concept store named by concepts.driver. The
// memory backend is an explicit configuration choice, never a fallback.
func initConceptStore(ctx context.Context) (concept.Store, error) {
	switch cfg.Concepts.Driver {
	case "postgres":
		return concept.NewPostgres(ctx, cfg.Concepts.DatabaseURL, cfg.Sink.MaxConns, cfg.Sink.MinConns)
	case "sqlite":
		return concept.NewSQLite(cfg.Concepts.SQLitePath)
	case "memory":
		return concept.NewMemory(), nil
	default:
		return nil, eris.Errorf("unknown concepts driver %q", cfg.Concepts.Driver)
	}
}

// initSource builds the submission source named by source.kind.
func initSource(ctx context.Context) (fetcher.Source, func(), error) {
	switch cfg.Source.Kind {
	case "postgres":
		pool, err := connectSourcePool(ctx)
		if err != nil {
			return nil, nil, err
		}
		src, err := fetcher.NewPostgresSource(pool, cfg.Source.Table)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return src, pool.Close, nil
	case "reddit":
		client := reddit.NewClient(reddit.Options{
			BaseURL:           cfg.Reddit.BaseURL,
			UserAgent:         cfg.Reddit.UserAgent,
			Timeout:           time.Duration(cfg.Reddit.TimeoutSecs) * time.Second,
			RequestsPerSecond: float64(cfg.Reddit.RequestsPerMinute) / 60,
		})
		src, err := fetcher.NewRedditSource(client, cfg.Reddit.Subreddits, cfg.Reddit.Sort, retryConfig())
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	case "csv":
		f, err := os.Open(cfg.Source.Path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "open csv export")
		}
		src, err := fetcher.NewCSVSource(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return src, func() { f.Close() }, nil
	default:
		return nil, nil, eris.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

// initSink connects the enriched-batch sink.
func initSink(ctx context.Context) (*sink.PostgresSink, error) {
	return sink.Connect(ctx, cfg.Sink.DatabaseURL, cfg.Sink.MaxConns, cfg.Sink.MinConns)
}

func connectSourcePool(ctx context.Context) (*pgxpool.Pool, error) {
	url := cfg.Source.DatabaseURL
	if url == "" {
		url = cfg.Sink.DatabaseURL
	}
	return db.Connect(ctx, url, cfg.Sink.MaxConns, cfg.Sink.MinConns)
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
}
