package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tradedesk/internal/errors"
	"tradedesk/internal/store"
	"tradedesk/pkg/utils"
)

// addJournalCommands adds the commit journal commands.
func addJournalCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Price-line commit journal",
		Long:  "Review the level changes committed from dragged price lines.",
	}

	cmd.AddCommand(newJournalListCmd(app))
	cmd.AddCommand(newJournalTodayCmd(app))

	rootCmd.AddCommand(cmd)
}

func newJournalListCmd(app *App) *cobra.Command {
	var (
		tradeID string
		status  string
		days    int
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled commits",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.CommitFilter{
				TradeID: tradeID,
				Status:  store.CommitStatus(status),
				Limit:   limit,
			}
			if days > 0 {
				filter.StartDate = time.Now().AddDate(0, 0, -days)
			}
			return listCommits(cmd, app, filter)
		},
	}

	cmd.Flags().StringVar(&tradeID, "trade", "", "only commits for this trade detail")
	cmd.Flags().StringVar(&status, "status", "", "only commits with this status (ok, failed, rolled_back)")
	cmd.Flags().IntVar(&days, "days", 0, "only commits from the last N days")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum commits to show")

	return cmd
}

func newJournalTodayCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show today's commits",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			return listCommits(cmd, app, store.CommitFilter{
				StartDate: startOfDay,
				EndDate:   startOfDay.Add(24 * time.Hour),
			})
		},
	}
}

func listCommits(cmd *cobra.Command, app *App, filter store.CommitFilter) error {
	output := NewOutput(cmd)
	if app.Store == nil {
		output.Warning("Store not initialized. Enable [store] in config.toml to journal commits.")
		return errors.Wrap(errors.ErrConfigInvalid, "store disabled")
	}

	switch filter.Status {
	case "", store.CommitOK, store.CommitFailed, store.CommitRolledBack:
	default:
		return fmt.Errorf("unknown status %q", filter.Status)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	commits, err := app.Store.GetCommits(ctx, filter)
	if err != nil {
		output.Error("Failed to fetch commits: %v", err)
		return err
	}

	if output.IsJSON() {
		return output.JSON(commits)
	}

	if len(commits) == 0 {
		output.Info("No commits recorded.")
		output.Dim("Commits are journaled when a dragged price line is released.")
		return nil
	}

	var failed int
	table := NewTable(output, "Time", "Trade", "Level", "Target", "From", "To", "Status", "Took")
	for _, c := range commits {
		from := "-"
		if c.PreviousPrice > 0 {
			from = utils.FormatPrice(c.PreviousPrice)
		}
		table.AddRow(
			FormatDateTime(c.CreatedAt),
			TruncateString(c.TradeID, 12),
			string(c.Level),
			string(c.Target),
			from,
			utils.FormatPrice(c.Price),
			commitStatus(output, c),
			FormatDuration(c.Duration),
		)
		if c.Status != store.CommitOK {
			failed++
		}
	}
	table.Render()

	output.Println()
	if failed > 0 {
		output.Warning("%d of %d commits failed", failed, len(commits))
	} else {
		output.Dim("%d commits", len(commits))
	}
	return nil
}

func commitStatus(output *Output, c store.Commit) string {
	switch c.Status {
	case store.CommitOK:
		return output.Green(string(c.Status))
	case store.CommitRolledBack:
		return output.Yellow(string(c.Status))
	}
	return output.Red(string(c.Status))
}
