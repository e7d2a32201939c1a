package cli

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"paperchat/internal/ingest"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Re-run ingestion for every stored document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var bar *progressbar.ProgressBar
		batch, err := svc.Ingester.Reprocess(cmd.Context(), func(done, total int, r ingest.Result) {
			if bar == nil {
				bar = newBar(total, "Reprocessing")
			}
			_ = bar.Set(done)
		})
		if bar != nil {
			_ = bar.Finish()
		}
		if err != nil {
			return err
		}
		printResults(cmd, batch.Results)
		fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", batch.RunID)
		return nil
	},
}
