package cli

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/me/owl/pkg/model"
)

func newLeaderboardCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show published rankings",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/leaderboard?limit="+strconv.Itoa(limit))
			if err != nil {
				return fmt.Errorf("get leaderboard: %w", err)
			}
			var entries []model.LeaderboardEntry
			if err := resp.decode(&entries); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "Leaderboard is empty.")
				return nil
			}
			table := tablewriter.NewWriter(out)
			table.Header("Rank", "Model", "ELO", "Samples")
			for _, e := range entries {
				name := e.DisplayName
				if name == "" {
					name = e.ModelID
				}
				table.Append([]string{strconv.Itoa(e.Rank), name, fmt.Sprintf("%.1f", e.ELO), strconv.Itoa(e.SampleCount)})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of rows")
	return cmd
}
