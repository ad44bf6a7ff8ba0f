package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/me/owl/pkg/model"
)

func newListCmd() *cobra.Command {
	var (
		all    bool
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if all {
				q.Set("all", "true")
			}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/v1/submissions/"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("list submissions: %w", err)
			}
			var subs []model.Submission
			if err := resp.decode(&subs); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(subs) == 0 {
				fmt.Fprintln(out, "No submissions found.")
				return nil
			}

			table := tablewriter.NewWriter(out)
			table.Header("ID", "Status", "Model", "Created")
			for _, sub := range subs {
				table.Append([]string{sub.ID, string(sub.Status), sub.DisplayName, sub.CreatedAt.Local().Format(time.DateTime)})
			}
			table.Render()

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(subs), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "List every user's submissions (admins only)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows")
	return cmd
}
