// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/docconvert/internal/config"
	"github.com/pdiddy/docconvert/internal/convert"
	"github.com/pdiddy/docconvert/internal/ledger"
)

var convertCmd = &cobra.Command{
	Use:   "convert [files...]",
	Short: "Convert documents to Markdown through MinerU",
	Long: `Convert uploads each file to MinerU, polls until the service finishes,
downloads the result bundle, and writes <name>.md next to the source. The
job workspace, with the service responses and the full bundle, is copied to
a timestamped directory under the archive root. Failed jobs leave nothing
next to the source and nothing in the archive.

Files are converted one at a time. Interrupting the command cancels the
current job and skips the rest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	f := convertCmd.Flags()
	f.Bool("ocr", false, "enable OCR (MINERU_ENABLE_OCR)")
	f.Bool("table", false, "enable table recognition (MINERU_ENABLE_TABLE)")
	f.Bool("formula", false, "enable formula recognition (MINERU_ENABLE_FORMULA)")
	f.String("language", "", "OCR language code (default ch)")
	f.Int("poll-max", 0, "maximum status polls (default 60)")
	f.String("poll-sleep", "", "wait before each poll, seconds or a duration (default 10s)")
	f.String("archive-dir", "", "archive root (default archive)")
	f.String("work-dir", "", "parent of job workspaces (default system temp)")
	f.Bool("frontmatter", false, "prepend a YAML header to the published Markdown")
	f.Bool("no-ledger", false, "do not record jobs in the archive's jobs.db")

	for key, flag := range map[string]string{
		config.KeyOCR:         "ocr",
		config.KeyTable:       "table",
		config.KeyFormula:     "formula",
		config.KeyLanguage:    "language",
		config.KeyPollMax:     "poll-max",
		config.KeyPollSleep:   "poll-sleep",
		config.KeyArchiveDir:  "archive-dir",
		config.KeyWorkDir:     "work-dir",
		config.KeyFrontmatter: "frontmatter",
	} {
		viper.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}

	var rec convert.Recorder
	if noLedger, _ := cmd.Flags().GetBool("no-ledger"); !noLedger {
		l, err := ledger.Open(cfg.ArchiveDir)
		if err != nil {
			log.WithError(err).Warn("job ledger unavailable, continuing without it")
		} else {
			defer l.Close()
			rec = l
		}
	}

	p := convert.New(cfg, nil, rec, log)
	ctx := cmd.Context()

	if len(args) == 1 {
		res, err := p.ConvertFile(ctx, args[0])
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintln(os.Stdout, res.Message)
		return nil
	}

	result := p.ConvertBatch(ctx, args, os.Stdout)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch interrupted: %w", err)
	}
	if result.HasFailures() {
		return fmt.Errorf("%d of %d file(s) failed conversion", result.Failed, result.Total())
	}
	return nil
}
