package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"paperchat/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Upload and ingest every PDF under a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	root := args[0]
	matches, err := doublestar.Glob(os.DirFS(root), "**/*.{pdf,PDF}")
	if err != nil {
		return fmt.Errorf("scan %s: %w", root, err)
	}
	if len(matches) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no PDF files under %s\n", root)
		return nil
	}

	bar := newBar(len(matches), "Ingesting")
	var results []ingest.Result
	for _, rel := range matches {
		path := filepath.Join(root, filepath.FromSlash(rel))
		res := ingestOne(cmd, path)
		results = append(results, res)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	printResults(cmd, results)
	return nil
}

func ingestOne(cmd *cobra.Command, path string) ingest.Result {
	ctx := cmd.Context()
	f, err := os.Open(path)
	if err != nil {
		return ingest.Result{Filename: filepath.Base(path), Error: err.Error()}
	}
	defer f.Close()
	doc, err := svc.Pipeline.Save(ctx, filepath.Base(path), f)
	if err != nil {
		return ingest.Result{Filename: filepath.Base(path), Error: err.Error()}
	}
	res, err := svc.Ingester.Process(ctx, doc.ID)
	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}
	if res.Filename == "" {
		res.Filename = doc.Filename
	}
	return res
}

func newBar(total int, label string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("[cyan]"+label+"[reset]"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

func printResults(cmd *cobra.Command, results []ingest.Result) {
	out := cmd.OutOrStdout()
	ok, failed := 0, 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			fmt.Fprintf(out, "FAIL  %-40s %s\n", r.Filename, r.Error)
			continue
		}
		ok++
		fmt.Fprintf(out, "OK    %-40s %s pages=%d chunks=%d\n", r.Filename, short(r.DocumentID), r.PageCount, r.ChunkCount)
	}
	fmt.Fprintf(out, "%d processed, %d failed\n", ok, failed)
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
