// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the project needs some subset of: AWS config, provider
// secrets from SSM, the AWS clients the pipeline persists through, and
// startup logging. Each Lambda's init() is a short composition of helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/app"
	"github.com/fpang/vr-panorama/internal/logging"
	"github.com/fpang/vr-panorama/internal/s3util"
)

// AWSClients holds the AWS config and the SSM client used for secrets.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with the SSM client.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// Services builds the AWS-backed dependencies the pipeline can use. Every
// client is created; app.Build decides which ones the configuration enables.
func Services(cfg aws.Config) app.AWS {
	s3Client := s3.NewFromConfig(cfg)
	return app.AWS{
		S3:          s3Client,
		Objects:     s3util.Getter{Client: s3Client},
		Presigner:   s3.NewPresignClient(s3Client),
		DynamoDB:    dynamodb.NewFromConfig(cfg),
		EventBridge: eventbridge.NewFromConfig(cfg),
		RDSData:     rdsdata.NewFromConfig(cfg),
	}
}

// ParameterGetter is the subset of *ssm.Client used to read secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Secret names an environment variable that may instead be loaded from an
// SSM SecureString parameter.
type Secret struct {
	EnvVar string
	// ParamEnvVar overrides the parameter name when set in the environment.
	ParamEnvVar  string
	DefaultParam string
	// Optional secrets log a warning instead of failing when unreadable.
	Optional bool
}

// ProviderSecrets are the keys the prediction Lambda resolves at cold start.
var ProviderSecrets = []Secret{
	{EnvVar: "REPLICATE_API_TOKEN", ParamEnvVar: "SSM_REPLICATE_TOKEN_PARAM", DefaultParam: "/vr-panorama/prod/replicate-api-token"},
	{EnvVar: "OPENAI_API_KEY", ParamEnvVar: "SSM_OPENAI_KEY_PARAM", DefaultParam: "/vr-panorama/prod/openai-api-key"},
	{EnvVar: "PINECONE_API_KEY", ParamEnvVar: "SSM_PINECONE_KEY_PARAM", DefaultParam: "/vr-panorama/prod/pinecone-api-key", Optional: true},
	{EnvVar: "GEMINI_API_KEY", ParamEnvVar: "SSM_GEMINI_KEY_PARAM", DefaultParam: "/vr-panorama/prod/gemini-api-key", Optional: true},
	{EnvVar: "ORIGIN_VERIFY_SECRET", ParamEnvVar: "SSM_ORIGIN_SECRET_PARAM", DefaultParam: "/vr-panorama/prod/origin-verify-secret", Optional: true},
}

// LoadSecrets fills each secret's env var from SSM when it is not already
// set. The first required secret that cannot be read is returned as an error.
func LoadSecrets(ctx context.Context, client ParameterGetter, secrets []Secret) error {
	for _, s := range secrets {
		if os.Getenv(s.EnvVar) != "" {
			continue
		}
		paramName := os.Getenv(s.ParamEnvVar)
		if paramName == "" {
			paramName = s.DefaultParam
		}
		ssmStart := time.Now()
		result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           &paramName,
			WithDecryption: aws.Bool(true),
		})
		if err == nil && (result.Parameter == nil || result.Parameter.Value == nil) {
			err = fmt.Errorf("parameter has no value")
		}
		if err != nil {
			if s.Optional {
				log.Warn().Err(err).Str("param", paramName).Str("envVar", s.EnvVar).Msg("Optional secret not found in SSM")
				continue
			}
			return fmt.Errorf("read %s from SSM parameter %s: %w", s.EnvVar, paramName, err)
		}
		os.Setenv(s.EnvVar, *result.Parameter.Value)
		log.Debug().Str("param", paramName).Str("envVar", s.EnvVar).Dur("elapsed", time.Since(ssmStart)).Msg("Secret loaded from SSM")
	}
	return nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
