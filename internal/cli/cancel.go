package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/owl/pkg/model"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <submission_id>",
		Short: "Cancel a submission that has not been queued yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Put(cmd.Context(), "/api/v1/submissions/"+args[0]+"/cancel", nil)
			if err != nil {
				return fmt.Errorf("cancel submission: %w", err)
			}
			var sub model.Submission
			if err := resp.decode(&sub); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submission %s: %s\n", sub.ID, sub.Status)
			return nil
		},
	}
}
