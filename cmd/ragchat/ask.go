package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ragchat/internal/bootstrap"
	"ragchat/internal/chat"
)

var showSources bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and exit",
	Long: `Index the corpus, answer a single question and stream the answer to
standard output. Interrupting the command cancels the generation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, closer, err := newLogger(cfg, io.Discard)
		if err != nil {
			return err
		}
		defer closer.Close()

		app, err := bootstrap.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		s := app.NewSession()
		if err := s.Ask(strings.Join(args, " ")); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		turn := chat.NewTurn(s, logger)
		err = turn.Run(cmd.Context(), func(tok string) {
			fmt.Fprint(out, tok)
		})
		fmt.Fprintln(out)
		if err != nil {
			if cmd.Context().Err() != nil {
				return errors.New("interrupted")
			}
			return err
		}

		if showSources {
			printSources(out, turn)
		}
		return nil
	},
}

func printSources(w io.Writer, turn *chat.Turn) {
	sources := turn.Sources()
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	seen := make(map[string]bool)
	for _, r := range sources {
		if seen[r.Chunk.Source] {
			continue
		}
		seen[r.Chunk.Source] = true
		fmt.Fprintf(w, "  - %s (score %.3f)\n", filepath.ToSlash(r.Chunk.Source), r.Score)
	}
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&showSources, "sources", true, "print the retrieved sources after the answer")
}
