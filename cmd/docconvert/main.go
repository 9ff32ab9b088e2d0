// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the docconvert CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/docconvert/internal/config"
	"github.com/pdiddy/docconvert/internal/failure"
	"github.com/pdiddy/docconvert/internal/logging"
	"github.com/pdiddy/docconvert/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Loaded by the root command before any subcommand runs.
var (
	cfg types.ConversionConfig
	log *logrus.Logger
)

// rootCmd is the base command for the docconvert CLI.
var rootCmd = &cobra.Command{
	Use:   "docconvert",
	Short: "Convert documents to Markdown with the MinerU service",
	Long: `docconvert sends local documents (PDF, Word, PowerPoint, images) to the
MinerU conversion service, waits for the result, and writes the Markdown next
to the source. Every job's inputs, service responses and extracted bundle are
kept in a timestamped archive directory.

Credentials come from config/.env (MINERU_API_TOKEN), the .secrets/
directory, DOCCONVERT_API_TOKEN, or docconvert.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		log, err = logging.New(os.Stderr, "")
		if err != nil {
			return err
		}

		src := config.DefaultSources()
		src.EnvFile, _ = cmd.Flags().GetString("env-file")
		cfg, err = config.Load(viper.GetViper(), src, log)
		if err != nil {
			return err
		}

		lvl, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(lvl)
		if f := viper.ConfigFileUsed(); f != "" {
			log.WithField("file", f).Info("using config file")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./docconvert.yaml or ~/.config/docconvert/docconvert.yaml)")
	rootCmd.PersistentFlags().String("env-file", config.DefaultEnvFile, "MinerU .env file")
	rootCmd.PersistentFlags().String("log-level", "", "verbosity: low, medium, high, or a logrus level")
	viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("docconvert")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "docconvert"))
		}
	}

	config.Bind(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Reading config file:", err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if hint := failure.Hint(err); hint != "" {
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}
