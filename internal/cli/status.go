package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/owl/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <submission_id>",
		Short: "Show a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/submissions/"+args[0])
			if err != nil {
				return fmt.Errorf("get submission: %w", err)
			}
			var sub model.Submission
			if err := resp.decode(&sub); err != nil {
				return err
			}
			printSubmission(cmd.OutOrStdout(), &sub)
			return nil
		},
	}
}

func printSubmission(w io.Writer, sub *model.Submission) {
	fmt.Fprintf(w, "Submission: %s\n", sub.ID)
	fmt.Fprintf(w, "  Model:    %s (%s)\n", sub.DisplayName, sub.ModelType)
	fmt.Fprintf(w, "  Status:   %s\n", sub.Status)
	if sub.PriorityScore > 0 {
		fmt.Fprintf(w, "  Priority: %d\n", sub.PriorityScore)
	}
	if argv := sub.Params.Argv(); len(argv) > 0 {
		fmt.Fprintf(w, "  Args:     %s\n", strings.Join(argv, " "))
	}
	fmt.Fprintf(w, "  Created:  %s\n", sub.CreatedAt.Local().Format(time.DateTime))
	if sub.StartedAt != nil {
		fmt.Fprintf(w, "  Started:  %s\n", sub.StartedAt.Local().Format(time.DateTime))
	}
	if sub.FinishedAt != nil {
		fmt.Fprintf(w, "  Finished: %s\n", sub.FinishedAt.Local().Format(time.DateTime))
	}
	if sub.ErrorMsg != "" {
		fmt.Fprintf(w, "  Error:    %s\n", sub.ErrorMsg)
	}
}
