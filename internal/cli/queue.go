package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/me/owl/pkg/model"
)

func newQueueCmd() *cobra.Command {
	var watch time.Duration

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the evaluation queue",
		Long:  "Show active submissions in run order followed by recently finished ones. With --watch, refresh until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if watch <= 0 {
				return showQueue(cmd.Context(), out)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			ticker := time.NewTicker(watch)
			defer ticker.Stop()
			for {
				if err := showQueue(ctx, out); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.Warn("refresh failed", "error", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					fmt.Fprintln(out)
				}
			}
		},
	}

	cmd.Flags().DurationVarP(&watch, "watch", "w", 0, "Refresh interval (e.g. 10s); 0 shows the queue once")
	return cmd
}

func showQueue(ctx context.Context, out io.Writer) error {
	resp, err := client.Get(ctx, "/api/v1/queue")
	if err != nil {
		return fmt.Errorf("get queue: %w", err)
	}
	var view model.QueueView
	if err := resp.decode(&view); err != nil {
		return err
	}

	if len(view.Active) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
	} else {
		table := tablewriter.NewWriter(out)
		table.Header("#", "Model", "Status", "Submitted")
		for _, item := range view.Active {
			pos := "-"
			if item.Position != nil {
				pos = strconv.Itoa(*item.Position)
			}
			table.Append([]string{pos, item.DisplayName, string(item.Status), item.CreatedAt.Local().Format(time.DateTime)})
		}
		table.Render()
	}

	if len(view.Recent) > 0 {
		fmt.Fprintln(out, "\nRecently finished:")
		table := tablewriter.NewWriter(out)
		table.Header("Model", "Status", "Finished")
		for _, item := range view.Recent {
			finished := "-"
			if item.FinishedAt != nil {
				finished = item.FinishedAt.Local().Format(time.DateTime)
			}
			table.Append([]string{item.DisplayName, string(item.Status), finished})
		}
		table.Render()
	}
	return nil
}
