package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ragchat/internal/config"
)

var writePath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and command line overrides are
applied. With --write the configuration is saved to the given path instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if writePath != "" {
			if err := config.Save(writePath, cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote", writePath)
			return nil
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringVar(&writePath, "write", "", "save the effective configuration to this path")
}
