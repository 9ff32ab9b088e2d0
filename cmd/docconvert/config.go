// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pdiddy/docconvert/internal/config"
	"github.com/pdiddy/docconvert/internal/failure"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change docconvert settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with credentials masked",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		row := func(k string, v any) { fmt.Fprintf(tw, "%s\t%v\n", k, v) }

		token := config.Mask(cfg.API.Token)
		if config.Placeholder(cfg.API.Token) {
			token = color.RedString("not set")
		}
		row(config.KeyBaseURL, cfg.API.BaseURL)
		row(config.KeyToken, token)
		row(config.KeyUserToken, config.Mask(cfg.API.UserToken))
		row(config.KeyHTTPTimeout, cfg.API.Timeout)
		row(config.KeyOCR, cfg.Features.OCR)
		row(config.KeyTable, cfg.Features.Table)
		row(config.KeyFormula, cfg.Features.Formula)
		row(config.KeyLanguage, cfg.Language)
		row(config.KeyAllowedExts, strings.Join(cfg.Limits.AllowedExts, ","))
		row(config.KeyMaxFileMB, cfg.Limits.MaxFileBytes>>20)
		row(config.KeyMaxPages, cfg.Limits.MaxPages)
		row(config.KeyPollMax, cfg.Poll.MaxAttempts)
		row(config.KeyPollSleep, cfg.Poll.Interval)
		row("poll.deadline", cfg.Poll.Deadline())
		row(config.KeyLogLevel, cfg.LogLevel)
		row(config.KeyArchiveDir, cfg.ArchiveDir)
		row(config.KeyWorkDir, cfg.WorkDir)
		row(config.KeyOutputExt, cfg.OutputExt)
		row(config.KeyFrontmatter, cfg.Frontmatter)
		tw.Flush()
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the MinerU API token in the .env file",
	Long: `Set-token writes MINERU_API_TOKEN (and optionally MINERU_USER_TOKEN) into
the .env file, keeping its other keys. Tokens are issued at
` + failure.TokenURL + ` and are valid for 14 days.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("env-file")
		userToken, _ := cmd.Flags().GetString("user-token")
		if err := config.WriteToken(cmd.Context(), path, args[0], userToken); err != nil {
			return err
		}
		color.Green("Token saved to %s (%s)", path, config.Mask(args[0]))
		return nil
	},
}

func init() {
	configSetTokenCmd.Flags().String("user-token", "", "optional MinerU user token")

	configCmd.AddCommand(configShowCmd, configSetTokenCmd)
	rootCmd.AddCommand(configCmd)
}
