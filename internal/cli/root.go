package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"paperchat/internal/app"
	"paperchat/internal/config"
)

var (
	cfgFile string
	svc     *app.App
)

var rootCmd = &cobra.Command{
	Use:   "paperctl",
	Short: "Ingest PDFs and ask questions about them from the command line",
	Long: `paperctl works on the same upload directory and index as the API server.

Example usage:
  paperctl ingest ./papers
  paperctl ask "How many participants were in the study?"
  paperctl summarize <document-id>
  paperctl reprocess`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		if cfgFile != "" {
			if err := os.Setenv("PAPERCHAT_CONFIG_FILE", cfgFile); err != nil {
				return err
			}
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		svc, err = app.New(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if svc == nil {
			return nil
		}
		return svc.Close()
	},
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (overrides PAPERCHAT_CONFIG_FILE)")
	rootCmd.AddCommand(ingestCmd, askCmd, summarizeCmd, listCmd, reprocessCmd, deleteCmd)
}
