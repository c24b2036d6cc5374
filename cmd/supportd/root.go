package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"support-agent/internal/config"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "supportd",
		Short:         "Support chat service",
		Long:          "supportd runs the support chat API as a standalone HTTP server and maintains its product catalog.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().String("config", "", "TOML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	_ = v.BindPFlag(config.KeyConfigFile, rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(
		newServeCmd(v),
		newCatalogCmd(v),
	)

	return rootCmd
}
