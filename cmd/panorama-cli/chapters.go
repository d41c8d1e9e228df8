package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var bookFileFlag string

var chaptersCmd = &cobra.Command{
	Use:   "chapters",
	Short: "Describe the environment of each chapter in a book",
	Long: `Sends the text of a book (English or Spanish) to the chapter model and
prints one English environment description per chapter. Each description can
be passed straight to "panorama-cli generate" or "panorama-cli batch".`,
	RunE: runChapters,
}

func init() {
	chaptersCmd.Flags().StringVarP(&bookFileFlag, "file", "f", "", "Plain-text book file")
	chaptersCmd.MarkFlagRequired("file")
}

func runChapters(cmd *cobra.Command, args []string) error {
	text, err := os.ReadFile(bookFileFlag)
	if err != nil {
		return fmt.Errorf("read book: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	a, err := buildApp(ctx, "chapters")
	if err != nil {
		return err
	}
	descriptions, err := a.Describer.Describe(ctx, string(text))
	if err != nil {
		return fmt.Errorf("describe chapters: %w", err)
	}
	printJSON(map[string]any{"descriptions": descriptions})
	return nil
}
