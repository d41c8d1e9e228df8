// Package app assembles the pipeline from a resolved configuration. Every
// binary (CLI, Lambda, MCP server) builds its dependencies here so they run
// the same stages with the same policies.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/audiomatch"
	"github.com/fpang/vr-panorama/internal/chapters"
	"github.com/fpang/vr-panorama/internal/config"
	"github.com/fpang/vr-panorama/internal/enhance"
	"github.com/fpang/vr-panorama/internal/events"
	"github.com/fpang/vr-panorama/internal/httpapi"
	"github.com/fpang/vr-panorama/internal/imagegen"
	"github.com/fpang/vr-panorama/internal/llm"
	"github.com/fpang/vr-panorama/internal/mask"
	"github.com/fpang/vr-panorama/internal/pipeline"
	"github.com/fpang/vr-panorama/internal/publish"
	"github.com/fpang/vr-panorama/internal/replicate"
	"github.com/fpang/vr-panorama/internal/retry"
	"github.com/fpang/vr-panorama/internal/s3util"
	"github.com/fpang/vr-panorama/internal/store"
)

// AWS holds the optional AWS-backed clients. A nil field disables the
// component that needs it; lambdaboot.Services fills every field.
type AWS struct {
	S3          s3util.PutObjectAPI
	Presigner   s3util.PresignGetAPI
	Objects     mask.ObjectGetter
	DynamoDB    store.DynamoAPI
	EventBridge events.PutEventsAPI
	RDSData     audiomatch.StatementExecutor
}

// App is a fully wired pipeline.
type App struct {
	Config       config.Config
	Orchestrator *pipeline.Orchestrator
	Describer    *chapters.Describer
	Runs         store.RunStore
	Publisher    pipeline.Publisher
}

// Build validates cfg and wires every stage. The inpainting mask is loaded
// here so a bad mask source fails at startup rather than on the first run.
func Build(ctx context.Context, cfg config.Config, clients AWS) (*App, error) {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy := retry.Policy{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}

	rc := replicate.NewClient(cfg.ReplicateToken,
		replicate.WithBaseURL(cfg.ReplicateBaseURL),
		replicate.WithRateLimit(cfg.ReplicateRPS),
		replicate.WithPollInterval(cfg.PollInterval),
	)

	seamMask, err := mask.NewProvider(mask.Source{
		Location: cfg.Inpaint.MaskSource,
		Width:    cfg.Generation.Width,
		Height:   cfg.Generation.Height,
		Band:     cfg.Inpaint.SeamBand,
	}, clients.Objects).Mask(ctx)
	if err != nil {
		return nil, fmt.Errorf("load inpainting mask: %w", err)
	}

	oc := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL)

	enhancer, err := buildEnhancer(ctx, cfg, oc, policy)
	if err != nil {
		return nil, err
	}
	index, err := buildIndex(cfg, clients, policy)
	if err != nil {
		return nil, err
	}
	publisher, err := buildPublisher(cfg, clients)
	if err != nil {
		return nil, err
	}
	runs := buildRunStore(cfg, clients)

	var emitter pipeline.EventEmitter
	if clients.EventBridge != nil && cfg.EventBus != "" {
		emitter = events.NewEmitter(clients.EventBridge, cfg.EventBus)
	}

	orch, err := pipeline.New(pipeline.Deps{
		Enhancer:  enhancer,
		Generator: imagegen.NewPanoramaGenerator(rc, cfg.PanoramaModel, cfg.Generation, policy),
		Inpainter: imagegen.NewInpainter(rc, cfg.InpaintModel, seamMask, cfg.Inpaint, policy),
		Upscaler:  imagegen.NewUpscaler(rc, cfg.UpscaleModel, cfg.Upscale, policy),
		Matcher:   audiomatch.NewMatcher(audiomatch.NewEmbedder(oc, cfg.EmbeddingModel, cfg.EmbeddingTTL, policy), index),
		Publisher: publisher,
		Observer:  pipeline.NewRecorder(runs, emitter),
	}, cfg.Timeouts)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("enhancer", cfg.Enhancer).
		Str("catalog", cfg.Catalog).
		Str("outputMode", cfg.OutputMode).
		Bool("events", emitter != nil).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline assembled")

	return &App{
		Config:       cfg,
		Orchestrator: orch,
		Describer:    chapters.NewDescriber(oc, cfg.ChapterModel, policy),
		Runs:         runs,
		Publisher:    publisher,
	}, nil
}

// Server returns the HTTP API for a.
func (a *App) Server() *httpapi.Server {
	return httpapi.NewServer(httpapi.Options{
		Runner:           a.Orchestrator,
		Describer:        a.Describer,
		Runs:             a.Runs,
		OriginSecret:     a.Config.OriginSecret,
		BatchConcurrency: a.Config.BatchConcurrency,
	})
}

func buildEnhancer(ctx context.Context, cfg config.Config, oc enhance.ChatCompleter, policy retry.Policy) (pipeline.Enhancer, error) {
	switch cfg.Enhancer {
	case config.EnhancerOpenAI:
		return enhance.NewOpenAIEnhancer(oc, cfg.EnhanceModel, policy), nil
	case config.EnhancerGemini:
		gc, err := llm.NewGeminiClient(ctx, cfg.GeminiKey)
		if err != nil {
			return nil, fmt.Errorf("create Gemini client: %w", err)
		}
		model := cfg.EnhanceModel
		if model == config.DefaultEnhanceModel {
			model = config.DefaultGeminiModel
		}
		return enhance.NewGeminiEnhancer(gc.Models, model, policy), nil
	default:
		return nil, fmt.Errorf("unknown enhancer %q", cfg.Enhancer)
	}
}

func buildIndex(cfg config.Config, clients AWS, policy retry.Policy) (audiomatch.Index, error) {
	if cfg.Catalog == config.CatalogPgvector {
		if clients.RDSData == nil {
			return nil, fmt.Errorf("pgvector catalog requires AWS credentials for the RDS Data API")
		}
		return audiomatch.NewPgvector(clients.RDSData, cfg.AuroraClusterARN, cfg.AuroraSecretARN, cfg.AuroraDatabase, cfg.CatalogTable, policy)
	}
	return audiomatch.NewPinecone(cfg.PineconeHost, cfg.PineconeKey, cfg.PineconeNS, policy), nil
}

// buildPublisher picks the finalImage form. url mode uploads to S3 when a
// bucket is configured and otherwise writes to the local output directory.
func buildPublisher(cfg config.Config, clients AWS) (pipeline.Publisher, error) {
	if cfg.OutputMode == config.OutputInline {
		return publish.InlinePublisher{}, nil
	}
	if cfg.OutputBucket == "" {
		return publish.NewLocalPublisher(cfg.OutputDir), nil
	}
	if clients.S3 == nil || clients.Presigner == nil {
		return nil, fmt.Errorf("output bucket %s requires an S3 client", cfg.OutputBucket)
	}
	return publish.NewS3Publisher(clients.S3, clients.Presigner, cfg.OutputBucket, cfg.OutputPrefix, cfg.PresignExpiry), nil
}

func buildRunStore(cfg config.Config, clients AWS) store.RunStore {
	if clients.DynamoDB != nil && cfg.RunTable != "" {
		return store.NewDynamoStore(clients.DynamoDB, cfg.RunTable)
	}
	return store.NewMemoryStore()
}

// NeedsAWS reports whether cfg enables a component backed by AWS, so local
// binaries only load AWS credentials when something will use them.
func NeedsAWS(cfg config.Config) bool {
	return (cfg.OutputMode == config.OutputURL && cfg.OutputBucket != "") ||
		cfg.RunTable != "" ||
		cfg.EventBus != "" ||
		cfg.Catalog == config.CatalogPgvector ||
		strings.HasPrefix(cfg.Inpaint.MaskSource, "s3://")
}
