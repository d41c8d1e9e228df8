// Package main is the API Gateway (HTTP API v2) entry point for the panorama
// pipeline. It serves the same router as `panorama-cli serve` through
// httpadapter.
//
// Provider keys are read from the environment, falling back to SSM
// Parameter Store SecureStrings at cold start.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/app"
	"github.com/fpang/vr-panorama/internal/config"
	"github.com/fpang/vr-panorama/internal/lambdaboot"
	"github.com/fpang/vr-panorama/internal/logging"
)

var pipelineApp *app.App

func init() {
	initStart := time.Now()
	logging.Init()

	aws := lambdaboot.InitAWS()
	if err := lambdaboot.LoadSecrets(context.Background(), aws.SSM, lambdaboot.ProviderSecrets); err != nil {
		log.Fatal().Err(err).Msg("Failed to load provider secrets")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	pipelineApp, err = app.Build(context.Background(), cfg, lambdaboot.Services(aws.Config))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble pipeline")
	}

	if cfg.OriginSecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set, origin verification disabled")
	}
	lambdaboot.StartupLog("prediction-lambda", initStart).
		Resource("outputBucket", cfg.OutputBucket).
		Resource("runTable", cfg.RunTable).
		Resource("eventBus", cfg.EventBus).
		Resource("auroraCluster", cfg.AuroraClusterARN).
		Config("enhancer", cfg.Enhancer).
		Config("catalog", cfg.Catalog).
		Config("outputMode", cfg.OutputMode).
		Config("panoramaModel", cfg.PanoramaModel).
		Feature("originVerify", cfg.OriginSecret != "").
		Log()
}

func main() {
	adapter := httpadapter.NewV2(pipelineApp.Server().Routes())
	lambda.Start(adapter.ProxyWithContext)
}
