// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/docconvert/internal/failure"
	"github.com/pdiddy/docconvert/pkg/types"
)

// BatchResult holds the outcome of a batch conversion run.
type BatchResult struct {
	Converted int
	Skipped   int
	Failed    int
	Results   []types.Result
}

// Total returns the total number of documents processed.
func (r BatchResult) Total() int {
	return r.Converted + r.Skipped + r.Failed
}

// HasFailures reports whether any document failed conversion.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// ConvertBatch converts paths one after another as independent jobs,
// printing per-file status to w and returning a summary. Once ctx is
// cancelled the remaining paths are skipped.
func (p *Pipeline) ConvertBatch(ctx context.Context, paths []string, w io.Writer) BatchResult {
	var result BatchResult
	for _, path := range paths {
		name := filepath.Base(path)
		if ctx.Err() != nil {
			fmt.Fprintf(w, "skipped: %s (cancelled)\n", name)
			result.Skipped++
			continue
		}

		res, err := p.ConvertFile(ctx, path)
		if err != nil {
			fmt.Fprintf(w, "failed:  %s [%s] (%v)\n", name, failure.KindOf(err), err)
			result.Failed++
			continue
		}
		fmt.Fprintf(w, "converted: %s -> %s\n", name, res.OutputPath)
		result.Converted++
		result.Results = append(result.Results, res)
	}
	if len(paths) > 1 {
		fmt.Fprintf(w, "\nBatch summary: %d converted, %d skipped, %d failed (total: %d)\n",
			result.Converted, result.Skipped, result.Failed, result.Total())
	}
	return result
}

// frontmatter renders the YAML header prepended to a published document.
func frontmatter(job *types.ConversionJob, sourceBase string, at time.Time) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "source_file: %q\n", sourceBase)
	fmt.Fprintf(&b, "batch_id: %q\n", job.BatchID)
	fmt.Fprintf(&b, "data_id: %q\n", job.DataID)
	fmt.Fprintf(&b, "converted_at: %q\n", at.UTC().Format(time.RFC3339))
	b.WriteString("---\n\n")
	return b.String()
}
