package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ragchat/internal/bootstrap"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the index and print corpus statistics",
	Long: `Load and index the corpus exactly as the chat does, then print the
document and chunk counts, the corpus fingerprint and a short summary. Useful
for checking a corpus directory or a Qdrant setup before chatting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, closer, err := newLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer closer.Close()

		start := time.Now()
		app, err := bootstrap.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		st := app.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Corpus:      %s\n", cfg.Corpus.Dir)
		fmt.Fprintf(out, "Documents:   %d\n", st.Documents)
		fmt.Fprintf(out, "Chunks:      %d\n", st.Chunks)
		fmt.Fprintf(out, "Embedder:    %s\n", st.Embedder)
		fmt.Fprintf(out, "Store:       %s\n", cfg.VectorStore.Type)
		fmt.Fprintf(out, "Fingerprint: %s\n", st.Fingerprint)
		fmt.Fprintf(out, "Elapsed:     %s\n", time.Since(start).Round(time.Millisecond))
		if summary := app.Summary(); summary != "" {
			fmt.Fprintf(out, "\nSummary:\n%s\n", summary)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
