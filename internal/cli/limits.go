package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/owl/pkg/model"
)

func newLimitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show your remaining submission allowance",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/ratelimit")
			if err != nil {
				return fmt.Errorf("get rate limit: %w", err)
			}
			var rl model.RateLimitResult
			if err := resp.decode(&rl); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rl.Allowed {
				fmt.Fprintln(out, "You can submit.")
			} else {
				fmt.Fprintf(out, "Limited: %s\n", rl.Reason)
			}
			if rl.UserSubmissions != nil {
				fmt.Fprintf(out, "  Your submissions in window: %d\n", *rl.UserSubmissions)
			}
			if rl.IPSubmissions != nil {
				fmt.Fprintf(out, "  From your network:          %d\n", *rl.IPSubmissions)
			}
			if rl.ResetAt != nil {
				fmt.Fprintf(out, "  Next slot:                  %s\n", rl.ResetAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}
