// Package main is an MCP stdio server that exposes the panorama pipeline to
// agents as tools. Logs go to stderr; stdout carries the protocol.
//
// Tools:
//
//	generate_panorama   run one prompt through the pipeline
//	describe_chapters   one environment description per chapter of a book
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/app"
	"github.com/fpang/vr-panorama/internal/config"
	"github.com/fpang/vr-panorama/internal/enhance"
	"github.com/fpang/vr-panorama/internal/lambdaboot"
	"github.com/fpang/vr-panorama/internal/logging"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/pipeline"
)

var version = "dev"

// Runner executes one pipeline request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Describer produces chapter environment descriptions.
type Describer interface {
	Describe(ctx context.Context, bookText string) ([]string, error)
}

type tools struct {
	runner    Runner
	describer Describer
}

type generateInput struct {
	Prompt        string   `json:"prompt" jsonschema:"scene to render as a 360 degree panorama"`
	Style         string   `json:"style,omitempty" jsonschema:"rendering style used when improve_prompt is set, e.g. Animated, Cartoon, Realistic, Abstract"`
	Avoid         []string `json:"avoid,omitempty" jsonschema:"content to keep out of the scene, e.g. Monsters, Violence"`
	ImprovePrompt bool     `json:"improve_prompt,omitempty" jsonschema:"rewrite the prompt with the enhancement model first"`
}

type generateOutput struct {
	RunID          string  `json:"run_id"`
	Image          string  `json:"image" jsonschema:"URL or data URI of the final panorama"`
	AudioID        *string `json:"audio_id" jsonschema:"YouTube id of the matched ambient clip, null when nothing matched"`
	AudioTitle     string  `json:"audio_title,omitempty"`
	EnhancedPrompt string  `json:"enhanced_prompt"`
}

type chaptersInput struct {
	Text string `json:"text" jsonschema:"full plain text of the book"`
}

type chaptersOutput struct {
	Descriptions []string `json:"descriptions"`
}

func (t *tools) generate(ctx context.Context, _ *mcp.CallToolRequest, in generateInput) (*mcp.CallToolResult, generateOutput, error) {
	res, err := t.runner.Run(ctx, pipeline.Request{
		RawPrompt:   in.Prompt,
		Preferences: enhance.Preferences{Style: in.Style, AvoidTerms: in.Avoid},
		Enhance:     in.ImprovePrompt,
	})
	if err != nil {
		return nil, generateOutput{}, toolError(err)
	}
	out := generateOutput{
		RunID:          res.RunID,
		Image:          res.FinalImage,
		AudioID:        res.AudioID,
		EnhancedPrompt: res.EnhancedPrompt,
	}
	if res.Audio != nil {
		out.AudioTitle = res.Audio.Title
	}
	return nil, out, nil
}

func (t *tools) describeChapters(ctx context.Context, _ *mcp.CallToolRequest, in chaptersInput) (*mcp.CallToolResult, chaptersOutput, error) {
	d, err := t.describer.Describe(ctx, in.Text)
	if err != nil {
		return nil, chaptersOutput{}, toolError(err)
	}
	return nil, chaptersOutput{Descriptions: d}, nil
}

// toolError keeps the kind and stage, which tell an agent whether retrying
// makes sense, and drops provider detail.
func toolError(err error) error {
	var fail *pipeline.Failure
	if errors.As(err, &fail) {
		return errors.New(string(fail.Stage) + ": " + fail.Kind().String())
	}
	kind := pipeerr.KindOf(err)
	if kind == pipeerr.KindValidation {
		return err
	}
	return errors.New(kind.String())
}

func newServer(t *tools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "vr-panorama", Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_panorama",
		Description: "Generate a seamless equirectangular 360° panorama from a text prompt and match an ambient audio clip to it.",
	}, t.generate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "describe_chapters",
		Description: "Describe the environment of each chapter of a book in one sentence, ready to use as panorama prompts.",
	}, t.describeChapters)
	return server
}

func main() {
	initStart := time.Now()
	logging.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	var clients app.AWS
	if app.NeedsAWS(cfg) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load AWS config")
		}
		clients = lambdaboot.Services(awsCfg)
	}
	a, err := app.Build(ctx, cfg, clients)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble pipeline")
	}
	lambdaboot.StartupLog("panorama-mcp", initStart).
		Config("version", version).
		Config("outputMode", cfg.OutputMode).
		Config("catalog", cfg.Catalog).
		Log()

	server := newServer(&tools{runner: a.Orchestrator, describer: a.Describer})
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("MCP server stopped")
	}
}
