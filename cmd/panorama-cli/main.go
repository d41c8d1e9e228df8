package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/vr-panorama/internal/app"
	"github.com/fpang/vr-panorama/internal/config"
	"github.com/fpang/vr-panorama/internal/lambdaboot"
	"github.com/fpang/vr-panorama/internal/logging"
)

// Persistent flags
var (
	configFlag     string
	outputModeFlag string
	outputDirFlag  string
)

// rootCmd is the main Cobra command for the panorama CLI.
var rootCmd = &cobra.Command{
	Use:   "panorama-cli",
	Short: "Generate seamless 360° panoramas with matching ambient audio",
	Long: `panorama-cli turns a text prompt into an equirectangular 360° panorama.

Each run generates a wide image, rotates it so the wrap-around seam sits in
the middle, inpaints the seam, upscales the result, and matches the prompt to
an ambient audio clip from the catalog.

Configuration comes from defaults, an optional YAML file (--config or
PANORAMA_CONFIG), and environment variables. A .env file in the working
directory is loaded first.

Examples:
  panorama-cli generate "a misty pine forest at dawn"
  panorama-cli generate --improve --style Cartoon --avoid Monsters "a haunted castle"
  panorama-cli chapters --file book.txt
  panorama-cli batch --file prompts.txt --concurrency 2
  panorama-cli serve --addr :8080`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML configuration file (overrides PANORAMA_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&outputModeFlag, "output-mode", "", "Final image form: url or inline (overrides OUTPUT_MODE)")
	rootCmd.PersistentFlags().StringVar(&outputDirFlag, "output-dir", "", "Directory for local url-mode output (overrides OUTPUT_DIR)")

	rootCmd.AddCommand(generateCmd, chaptersCmd, batchCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration and applies the persistent flags.
func loadConfig() (config.Config, error) {
	if configFlag != "" {
		os.Setenv("PANORAMA_CONFIG", configFlag)
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if outputModeFlag != "" {
		cfg.OutputMode = outputModeFlag
	}
	if outputDirFlag != "" {
		cfg.OutputDir = outputDirFlag
	}
	return cfg, nil
}

// buildApp wires the pipeline. AWS credentials are only loaded when the
// configuration enables an AWS-backed component.
func buildApp(ctx context.Context, command string) (*app.App, error) {
	initStart := time.Now()
	logging.Init()

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var clients app.AWS
	if app.NeedsAWS(cfg) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		clients = lambdaboot.Services(awsCfg)
	}
	a, err := app.Build(ctx, cfg, clients)
	if err != nil {
		return nil, err
	}

	logging.NewStartupLogger("panorama-cli "+command).
		InitDuration(time.Since(initStart)).
		Resource("outputBucket", cfg.OutputBucket).
		Resource("runTable", cfg.RunTable).
		Config("enhancer", cfg.Enhancer).
		Config("catalog", cfg.Catalog).
		Config("outputMode", cfg.OutputMode).
		Feature("aws", app.NeedsAWS(cfg)).
		Log()
	return a, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write output")
	}
}
