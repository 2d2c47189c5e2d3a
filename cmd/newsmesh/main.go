// Package main runs a newsmesh node.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"newsmesh/internal/api"
	"newsmesh/internal/blob/gcs"
	localblob "newsmesh/internal/blob/local"
	memoryblob "newsmesh/internal/blob/memory"
	"newsmesh/internal/clock/system"
	"newsmesh/internal/config"
	"newsmesh/internal/enrich"
	"newsmesh/internal/fetch"
	collyfetcher "newsmesh/internal/fetch/colly"
	"newsmesh/internal/fetch/detector"
	headlessfetcher "newsmesh/internal/fetch/headless"
	"newsmesh/internal/id/uuid"
	"newsmesh/internal/lifecycle"
	"newsmesh/internal/logging"
	"newsmesh/internal/news"
	"newsmesh/internal/parser"
	pubsubpublisher "newsmesh/internal/publisher/pubsub"
	"newsmesh/internal/resolve"
	"newsmesh/internal/store/memory"
	"newsmesh/internal/store/postgres"
	"newsmesh/internal/telemetry"
)

const version = "0.1.0"

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("node failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "newsmesh",
		Version:     version,
		ProjectID:   cfg.PubSub.ProjectID,
	})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	clock := system.New()
	idGen := uuid.New()

	engine, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	blobStore, err := buildBlob(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var normalizer news.Normalizer
	var analyzer news.Analyzer
	if cfg.Enrichment.BaseURL != "" {
		client, err := enrich.NewClient(enrich.Config{
			BaseURL:       cfg.Enrichment.BaseURL,
			APIKey:        cfg.Enrichment.APIKey,
			Timeout:       time.Duration(cfg.Enrichment.TimeoutSeconds) * time.Second,
			MaxInputBytes: cfg.Enrichment.MaxInputBytes,
		}, logger)
		if err != nil {
			return err
		}
		normalizer, analyzer = client, client
	} else {
		logger.Warn("no analysis service configured, running offline enrichment")
		normalizer, analyzer = enrich.Offline{}, enrich.Offline{}
	}

	plainFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: !cfg.Fetch.IgnoreRobots,
		Timeout:       cfg.FetchTimeout(),
		Delay:         cfg.FetchDelay(),
	})
	var headless news.Fetcher
	var detect news.HeadlessDetector
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
			detect = detector.NewHeuristic(0)
		}
	}

	var publisher news.Publisher
	if cfg.PubSub.Enabled {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub init: %w", err)
		}
		defer pub.Close()
		publisher = pub
	}

	fetchOpts := fetch.Options{
		TargetLanguage:  cfg.Fetch.TargetLanguage,
		SkipTranslation: cfg.Fetch.SkipTranslation,
	}

	node, err := lifecycle.NewNode(lifecycle.Config{
		DataDir:      cfg.Node.DataDir,
		StatusPath:   cfg.Node.StatusPath,
		PathRefsPath: cfg.Node.PathRefsPath,
		HTTPAddr:     fmt.Sprintf(":%d", cfg.Server.Port),
		Stagger:      cfg.ShutdownStagger(),
		Version:      version,
	}, lifecycle.Deps{
		Engine: engine,
		Blob:   blobStore,
		Clock:  clock,
		Logger: logger,
		Handler: func(n *lifecycle.Node) http.Handler {
			orchestrator := fetch.NewOrchestrator(
				plainFetcher, headless, detect, normalizer, idGen, clock, n.Audit(), logger)
			resolver, err := resolve.New(resolve.Config{
				Local:      n.Local(),
				Analyzed:   n.Analyzed(),
				Federated:  n.Federated(),
				Blob:       blobStore,
				Fetcher:    plainFetcher,
				Parsers:    parser.NewRegistry(),
				Normalizer: normalizer,
				Analyzer:   analyzer,
				Publisher:  publisher,
				Topic:      cfg.PubSub.TopicName,
				IDs:        idGen,
				Clock:      clock,
				TargetLang: cfg.Fetch.TargetLanguage,
				Logger:     logger,
			})
			if err != nil {
				// Collaborators are checked above; reaching this means a
				// wiring bug, and routes answer 500 instead of crashing.
				logger.Error("resolver init failed", zap.Error(err))
			}
			deps := api.Deps{
				Local:     n.Local(),
				Analyzed:  n.Analyzed(),
				Federated: n.Federated(),
				Ingester:  orchestrator,
				Sources:   cfg.Sources,
				FetchOpts: fetchOpts,
				Status:    func() any { return n.Status() },
				Logger:    logger,
			}
			if resolver != nil {
				deps.Resolver = resolver
			}
			return api.NewServer(deps, api.Options{
				AuthEnabled: cfg.Auth.Enabled,
				APIKey:      cfg.Auth.APIKey,
			}).Handler()
		},
	})
	if err != nil {
		return err
	}

	if err := node.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := node.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

type memoryEngine struct{ *memory.Engine }

func (e memoryEngine) Open(name string) news.Collection { return e.Engine.Open(name) }

type postgresEngine struct{ *postgres.Engine }

func (e postgresEngine) Start(ctx context.Context) error { return e.Engine.Migrate(ctx) }

func (e postgresEngine) Open(name string) news.Collection { return e.Engine.Open(name) }

func (e postgresEngine) Stop(_ context.Context) error {
	e.Engine.Close()
	return nil
}

func buildEngine(ctx context.Context, cfg config.Config) (lifecycle.Engine, error) {
	switch cfg.Store.Engine {
	case "postgres":
		eng, err := postgres.NewEngine(ctx, postgres.Config{
			DSN:             cfg.Store.DSN,
			Table:           cfg.Store.Table,
			MaxConns:        int32(cfg.Store.MaxConns),
			MinConns:        int32(cfg.Store.MinConns),
			MaxConnLifetime: time.Duration(cfg.Store.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres engine: %w", err)
		}
		return postgresEngine{eng}, nil
	default:
		return memoryEngine{memory.NewEngine()}, nil
	}
}

func buildBlob(ctx context.Context, cfg config.Config, logger *zap.Logger) (news.BlobStore, error) {
	switch cfg.Blob.Backend {
	case "local":
		return localblob.New(localblob.Config{BaseDir: cfg.Blob.BaseDir})
	case "gcs":
		return gcs.New(ctx, gcs.Config{Bucket: cfg.Blob.GCSBucket, Prefix: cfg.Blob.Prefix}, logger)
	default:
		return memoryblob.NewStore(), nil
	}
}
