package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/pipeline"
)

var (
	promptsFileFlag string
	concurrencyFlag int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Generate one panorama per line of a prompts file",
	Long: `Reads prompts from --file (one per line, blank lines and lines starting
with # are skipped), runs them with bounded concurrency, and prints the
results in input order. A failed prompt does not stop the others.`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&promptsFileFlag, "file", "f", "", "File with one prompt per line")
	batchCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "Runs in flight at once (overrides BATCH_CONCURRENCY)")
	batchCmd.MarkFlagRequired("file")
	addRequestFlags(batchCmd)
}

// readPrompts returns the non-empty, non-comment lines of path.
func readPrompts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var prompts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	return prompts, scanner.Err()
}

type batchLine struct {
	Prompt string           `json:"prompt"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
	Kind   string           `json:"kind,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	prompts, err := readPrompts(promptsFileFlag)
	if err != nil {
		return fmt.Errorf("read prompts: %w", err)
	}
	if len(prompts) == 0 {
		return fmt.Errorf("no prompts in %s", promptsFileFlag)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	a, err := buildApp(ctx, "batch")
	if err != nil {
		return err
	}
	limit := a.Config.BatchConcurrency
	if concurrencyFlag > 0 {
		limit = concurrencyFlag
	}

	reqs := make([]pipeline.Request, len(prompts))
	for i, p := range prompts {
		reqs[i] = pipeline.Request{RawPrompt: p, Preferences: requestPreferences(), Enhance: improveFlag}
	}
	items := a.Orchestrator.RunBatch(ctx, reqs, limit)

	out := make([]batchLine, len(items))
	failed := 0
	for i, item := range items {
		out[i] = batchLine{Prompt: prompts[i], Result: item.Result}
		if item.Err != nil {
			failed++
			out[i].Error = item.Err.Error()
			out[i].Kind = pipeerr.KindOf(item.Err).String()
		}
	}
	printJSON(out)
	if failed > 0 {
		return fmt.Errorf("%d of %d prompts failed", failed, len(prompts))
	}
	return nil
}
