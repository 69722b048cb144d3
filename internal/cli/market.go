package cli

import (
	"context"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"tradedesk/internal/backend"
	"tradedesk/internal/candles"
	"tradedesk/internal/errors"
	"tradedesk/internal/models"
	"tradedesk/internal/trading"
	"tradedesk/pkg/utils"
)

// addMarketDataCommands adds backend snapshot and history commands.
func addMarketDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newCandlesCmd(app))
}

func newTradesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trades",
		Short: "List trade instances and their levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Backend.Timeout)
			defer cancel()

			instances, err := app.Backend.GetTradeInfo(ctx)
			if err != nil {
				output.Error("Failed to load trades: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(instances)
			}
			if len(instances) == 0 {
				output.Info("No trade instances.")
				return nil
			}

			table := NewTable(output, "Instance", "Index", "Expiry", "Trade", "Side", "Entry", "SL", "TP")
			for _, inst := range instances {
				if len(inst.TradeDetails) == 0 {
					table.AddRow(inst.ID, inst.IndexName, inst.Expiry, "-", "", "", "", "")
					continue
				}
				for _, td := range inst.TradeDetails {
					levels := trading.LevelsFromDetail(td)
					table.AddRow(inst.ID, inst.IndexName, inst.Expiry, td.HumanID, string(td.EntrySide),
						FormatLevel(levels, models.LevelEntry),
						FormatLevel(levels, models.LevelStopLoss),
						FormatLevel(levels, models.LevelTakeProfit))
				}
			}
			table.Render()
			return nil
		},
	}
}

// candleRow is one exported bar.
type candleRow struct {
	Time  string  `csv:"time"`
	Epoch int64   `csv:"epoch"`
	Open  float64 `csv:"open"`
	High  float64 `csv:"high"`
	Low   float64 `csv:"low"`
	Close float64 `csv:"close"`
}

func newCandlesCmd(app *App) *cobra.Command {
	var (
		asCSV bool
		last  int
	)

	cmd := &cobra.Command{
		Use:   "candles <instance-id>",
		Short: "Show the candle history of a trade instance",
		Long: `Fetch the one-minute premium history of a trade instance. The last bar is
dropped unless it is a completed minute.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Backend.Timeout)
			defer cancel()

			instances, err := app.Backend.GetTradeInfo(ctx)
			if err != nil {
				return err
			}
			inst, ok := models.FindInstance(instances, args[0])
			if !ok {
				return errors.NewDataError("instance", args[0], "instance not found", errors.ErrDataNotFound)
			}

			bars, err := app.Backend.GetCandles(ctx, backend.CandleQueryFor(inst))
			if err != nil {
				output.Error("Failed to fetch candles: %v", err)
				return err
			}
			bars = candles.TrimPartial(bars)
			if last > 0 && len(bars) > last {
				bars = bars[len(bars)-last:]
			}

			switch {
			case asCSV:
				rows := make([]candleRow, len(bars))
				for i, b := range bars {
					rows[i] = candleRow{Time: FormatBarTime(b.Time), Epoch: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
				}
				return gocsv.Marshal(&rows, cmd.OutOrStdout())
			case output.IsJSON():
				return output.JSON(bars)
			}

			output.Bold("%s %s (range %s)", inst.IndexName, inst.Expiry, utils.FormatPrice(float64(inst.LTPRange)))
			if len(bars) == 0 {
				output.Info("No completed bars.")
				return nil
			}
			table := NewTable(output, "Time", "Open", "High", "Low", "Close")
			for _, b := range bars {
				closing := utils.FormatPrice(b.Close)
				if b.Close > b.Open {
					closing = output.Green(closing)
				} else if b.Close < b.Open {
					closing = output.Red(closing)
				}
				table.AddRow(FormatBarTime(b.Time), utils.FormatPrice(b.Open), utils.FormatPrice(b.High), utils.FormatPrice(b.Low), closing)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&asCSV, "csv", false, "write bars as CSV")
	cmd.Flags().IntVarP(&last, "last", "n", 0, "only the last N bars")

	return cmd
}
