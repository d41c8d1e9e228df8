// Package main reports the state of the Aurora cluster that backs the pgvector
// audio catalog and starts it when it is stopped. The web client polls it
// before the first prediction so the catalog has time to wake.
package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/logging"
)

// ClusterAPI is the subset of *rds.Client the handler uses.
type ClusterAPI interface {
	DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
	StartDBCluster(ctx context.Context, params *rds.StartDBClusterInput, optFns ...func(*rds.Options)) (*rds.StartDBClusterOutput, error)
}

type statusHandler struct {
	rds        ClusterAPI
	clusterARN string
}

// clusterID accepts a full ARN or a bare identifier.
func clusterID(arn string) string {
	if idx := strings.LastIndex(arn, ":"); idx >= 0 && idx < len(arn)-1 {
		return arn[idx+1:]
	}
	return arn
}

func (h *statusHandler) handle(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if h.clusterARN == "" {
		log.Error().Msg("AURORA_CLUSTER_ARN not configured")
		return jsonResponse(500, map[string]string{"status": "unknown", "error": "AURORA_CLUSTER_ARN not configured"})
	}
	id := clusterID(h.clusterARN)

	out, err := h.rds.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(id),
	})
	if err != nil {
		log.Error().Err(err).Str("clusterId", id).Msg("DescribeDBClusters failed")
		return jsonResponse(500, map[string]string{"status": "unknown", "error": "cluster status unavailable"})
	}
	if len(out.DBClusters) == 0 {
		log.Warn().Str("clusterId", id).Msg("DB cluster not found")
		return jsonResponse(200, map[string]string{"status": "not-found"})
	}

	status := aws.ToString(out.DBClusters[0].Status)
	switch status {
	case "stopped":
		if _, err := h.rds.StartDBCluster(ctx, &rds.StartDBClusterInput{
			DBClusterIdentifier: aws.String(id),
		}); err != nil {
			log.Error().Err(err).Str("clusterId", id).Msg("StartDBCluster failed")
			return jsonResponse(500, map[string]string{"status": "unknown", "error": "failed to start cluster"})
		}
		log.Info().Str("clusterId", id).Msg("Started Aurora catalog cluster")
		return jsonResponse(200, map[string]string{"status": "starting"})
	case "starting", "configuring-enhanced-monitoring":
		return jsonResponse(200, map[string]string{"status": "starting"})
	default:
		return jsonResponse(200, map[string]string{"status": status})
	}
}

func jsonResponse(statusCode int, body map[string]string) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: statusCode,
		Body:       string(b),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}, nil
}

func main() {
	logging.Init()

	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}

	arn := os.Getenv("AURORA_CLUSTER_ARN")
	if arn == "" {
		arn = os.Getenv("AURORA_CLUSTER_IDENTIFIER")
	}
	logging.NewStartupLogger("catalog-status-lambda").
		Resource("auroraCluster", arn).
		Log()

	h := &statusHandler{rds: rds.NewFromConfig(cfg), clusterARN: arn}
	lambda.Start(h.handle)
}
