package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"ragchat/internal/bootstrap"
	"ragchat/internal/config"
	"ragchat/internal/logging"
	"ragchat/internal/session"
	"ragchat/internal/tui"
)

var (
	cfgFile     string
	corpusDir   string
	modelName   string
	maxMessages int
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "Chat with an LLM grounded in a local document corpus",
	Long: `ragchat indexes the documents in the corpus directory and answers
questions about them. Follow-up questions are condensed into standalone
questions before retrieval, and answers are streamed as they are generated.

Without a subcommand an interactive chat is started.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// the alternate screen owns the terminal, so logs only go to a file
		logger, closer, err := newLogger(cfg, io.Discard)
		if err != nil {
			return err
		}
		defer closer.Close()

		fmt.Fprintf(cmd.ErrOrStderr(), "Indexing %s...\n", cfg.Corpus.Dir)
		app, err := bootstrap.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		return tui.Run(cmd.Context(), app, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.config/ragchat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&corpusDir, "corpus", "", "directory with the documents to index")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "chat completions model")
	rootCmd.PersistentFlags().IntVar(&maxMessages, "max-messages", session.DefaultMaxMessages, "number of messages kept in a session")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr when no log file is configured")
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgFile == "" {
		var path string
		cfg, path, err = config.LoadDefault()
		if err == nil && verbose {
			fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", path)
		}
	} else {
		cfg, err = config.Load(cfgFile)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("corpus") {
		cfg.Corpus.Dir = corpusDir
	}
	if flags.Changed("model") {
		cfg.LLM.Model = modelName
	}
	if flags.Changed("max-messages") {
		cfg.Chat.MaxMessages = maxMessages
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.AppConfig, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	if verbose {
		fallback = os.Stderr
	}
	logger, closer, err := logging.New(cfg.Log, fallback)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	return logger, closer, nil
}
