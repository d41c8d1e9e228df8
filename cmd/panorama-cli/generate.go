package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/vr-panorama/internal/enhance"
	"github.com/fpang/vr-panorama/internal/pipeline"
)

var (
	styleFlag   string
	avoidFlag   []string
	improveFlag bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Generate one panorama and match its ambient audio",
	Long: `Runs the full pipeline for one prompt and prints the result as JSON.

With --improve the prompt is rewritten by the configured chat model before
generation, honouring --style and --avoid. Without it the prompt is used
verbatim. The seam inpainting pass always uses the prompt as written.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	addRequestFlags(generateCmd)
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&styleFlag, "style", "", "Rendering style for prompt enhancement ("+strings.Join(enhance.KnownStyles, ", ")+")")
	cmd.Flags().StringSliceVar(&avoidFlag, "avoid", nil, "Content to keep out of the scene ("+strings.Join(enhance.KnownAvoid, ", ")+")")
	cmd.Flags().BoolVar(&improveFlag, "improve", false, "Rewrite the prompt with the enhancement model first")
}

func requestPreferences() enhance.Preferences {
	return enhance.Preferences{Style: styleFlag, AvoidTerms: avoidFlag}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := buildApp(ctx, "generate")
	if err != nil {
		return err
	}
	req := pipeline.Request{
		RawPrompt:   strings.Join(args, " "),
		Preferences: requestPreferences(),
		Enhance:     improveFlag,
	}
	res, err := a.Orchestrator.Run(ctx, req)
	if err != nil {
		var fail *pipeline.Failure
		if errors.As(err, &fail) && fail.AudioID != nil {
			log.Info().Str("audioId", *fail.AudioID).Msg("Audio matched before the image track failed")
		}
		return fmt.Errorf("generate: %w", err)
	}
	printJSON(res)
	return nil
}
