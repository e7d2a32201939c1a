package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"paperchat/internal/rag"
	"paperchat/internal/util"
)

var (
	askSession string
	askDocs    []string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ans, err := svc.Answerer.Ask(cmd.Context(), rag.AskRequest{
			SessionID:   askSession,
			Question:    strings.Join(args, " "),
			DocumentIDs: askDocs,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ans.Answer)
		if len(ans.Citations) > 0 {
			fmt.Fprintln(out)
			for _, c := range ans.Citations {
				fmt.Fprintf(out, "[%s] %s p.%d: %s\n", c.Ref, c.Filename, c.Page, util.Snippet(c.Text, 120))
			}
		}
		return nil
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <document-id>",
	Short: "Summarize one ingested document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := svc.Summarizer.Summarize(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sum.Summary)
		if sum.Truncated {
			fmt.Fprintln(cmd.ErrOrStderr(), "(input was truncated to the summary budget)")
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := svc.Pipeline.Documents(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFILENAME\tSTATUS\tPAGES\tCHUNKS")
		for _, d := range docs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", d.ID, d.Filename, d.Status, d.PageCount, d.ChunkCount)
		}
		return tw.Flush()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Remove a document and its index entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := svc.Pipeline.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id for follow-up questions")
	askCmd.Flags().StringSliceVar(&askDocs, "doc", nil, "restrict retrieval to these document ids")
}
