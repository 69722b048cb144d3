package cli

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradedesk/internal/config"
	"tradedesk/internal/engine"
	"tradedesk/internal/errors"
	"tradedesk/internal/models"
	"tradedesk/internal/priceline"
	"tradedesk/internal/store"
	"tradedesk/internal/stream"
	"tradedesk/internal/trading"
	"tradedesk/pkg/utils"
)

// addDeskCommands adds the commands that drive a running engine.
func addDeskCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newAdjustCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	var (
		quiet      bool
		statsEvery time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the desk until interrupted",
		Long: `Connect the push feeds, keep the trade snapshot, prices and candles in sync
and value open positions as premiums move. Runs until interrupted or until
the server ends the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := app.newEngine(engine.ConfigFrom(app.Config, app.Logger))
			if err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				eng.Stop()
				output.Error("Failed to start: %v", err)
				return err
			}
			defer eng.Stop()

			updates := eng.Hub().Subscribe(stream.AllTopics)
			defer eng.Hub().Unsubscribe(stream.AllTopics, updates)

			var ticker <-chan time.Time
			if statsEvery > 0 {
				t := time.NewTicker(statsEvery)
				defer t.Stop()
				ticker = t.C
			}

			if !output.IsJSON() {
				output.Success("Desk running. Press Ctrl+C to stop.")
			}

			for {
				select {
				case <-ctx.Done():
					if !output.IsJSON() {
						output.Println()
						output.Info("Stopping...")
					}
					return nil
				case <-eng.LoggedOut():
					output.Error("Session ended by the server")
					return errors.ErrNotAuthenticated
				case <-ticker:
					printStats(output, eng.Stats())
				case msg := <-updates:
					if quiet {
						continue
					}
					printUpdate(output, msg.Value)
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print live updates")
	cmd.Flags().DurationVar(&statsEvery, "stats", 0, "print stream counters at this interval")

	return cmd
}

func printUpdate(output *Output, u engine.Update) {
	if output.IsJSON() {
		output.JSON(u)
		return
	}

	switch u.Kind {
	case engine.UpdateIndex:
		output.Printf("%s  %-10s %s\n", output.DimText(time.Now().Format("15:04:05")), u.Tick.Name, utils.FormatPrice(u.Tick.Price))
	case engine.UpdateMTM:
		output.Printf("%s  %-10s %s (%d positions)\n", output.DimText(time.Now().Format("15:04:05")), "MTM", output.FormatMTM(u.Total), len(u.Valuations))
	case engine.UpdateLevels:
		output.Printf("%s  %-10s SL %s  TP %s  entry %s\n", output.DimText(time.Now().Format("15:04:05")),
			TruncateString(u.Key, 10),
			FormatLevel(u.Levels, models.LevelStopLoss),
			FormatLevel(u.Levels, models.LevelTakeProfit),
			FormatLevel(u.Levels, models.LevelEntry))
	case engine.UpdateFeed:
		output.Printf("%s  %-10s %s\n", output.DimText(time.Now().Format("15:04:05")), u.Key+" feed", output.FeedState(u.FeedState))
	}
}

func printStats(output *Output, s engine.Stats) {
	if output.IsJSON() {
		output.JSON(s)
		return
	}

	output.Bold("Streams (state v%d)", s.StateVersion)
	table := NewTable(output, "Stream", "In", "Out", "Coalesced/Dropped", "Keys")
	co := func(name string, m stream.CoalescerMetrics) {
		table.AddRow(name, strconv.FormatUint(m.Submitted, 10), strconv.FormatUint(m.Delivered, 10),
			strconv.FormatUint(m.Coalesced, 10), strconv.Itoa(m.ActiveKeys))
	}
	reg := func(name string, m stream.RegistryMetrics) {
		table.AddRow(name, strconv.FormatUint(m.SubscribesSent+m.ResubscribesSent, 10), strconv.FormatUint(m.Dispatched, 10),
			strconv.FormatUint(m.Dropped, 10), fmt.Sprintf("%d/%d", m.OnWire, m.Registered))
	}
	co("index prices", s.IndexPrices)
	co("option prices", s.OptionPrices)
	co("premiums", s.Premiums)
	reg("chart subs", s.Chart)
	reg("option subs", s.Options)
	table.AddRow("updates", strconv.FormatUint(s.Hub.Received, 10), strconv.FormatUint(s.Hub.Broadcast, 10),
		strconv.FormatUint(s.Hub.Dropped, 10), strconv.Itoa(s.Hub.Subscribers))
	table.Render()
}

func newPositionsCmd(app *App) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show mark-to-market of every trade position",
		Long: `Load the trade snapshot, listen to live option prices for a short while
and print the mark-to-market of each position. Positions without a known
price or lot size are listed as unvalued.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			ctx, cancel := context.WithTimeout(cmd.Context(), wait+app.Config.Backend.Timeout)
			defer cancel()

			eng, err := app.newEngine(engine.ConfigFrom(app.Config, app.Logger))
			if err != nil {
				return err
			}
			defer eng.Stop()
			if err := eng.Start(ctx); err != nil {
				output.Error("Failed to load trades: %v", err)
				return err
			}

			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}

			vals := eng.Valuations()
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"positions": vals,
					"total":     trading.TotalMTM(vals),
				})
			}

			printPositions(output, eng.State().Instances(), vals)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to collect live prices")

	return cmd
}

func printPositions(output *Output, instances []models.Instance, vals []trading.Valuation) {
	valued := make(map[string]trading.Valuation, len(vals))
	for _, v := range vals {
		valued[v.PositionID] = v
	}

	table := NewTable(output, "Trade", "Option", "Side", "Qty", "Entry", "Price", "MTM")
	unvalued := 0
	for _, inst := range instances {
		for _, td := range inst.TradeDetails {
			for _, pos := range td.LiveTradePositions {
				v, ok := valued[pos.ID]
				if !ok {
					unvalued++
					table.AddRow(TruncateString(td.HumanID, 10), pos.OptionName, string(td.EntrySide),
						strconv.FormatInt(pos.CurrentQty.Int64(), 10), utils.FormatPrice(pos.EntryPrice),
						"-", output.DimText("unvalued"))
					continue
				}
				price := utils.FormatPrice(v.Price)
				if v.Closed {
					price += output.DimText(" closed")
				}
				table.AddRow(TruncateString(td.HumanID, 10), v.OptionName, string(v.Side),
					strconv.FormatInt(v.Quantity, 10), utils.FormatPrice(pos.EntryPrice),
					price, output.FormatMTM(v.MTM))
			}
		}
	}
	table.Render()

	output.Println()
	perTrade := trading.TradeMTM(vals)
	ids := make([]string, 0, len(perTrade))
	for id := range perTrade {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		output.Printf("  %-24s %s\n", TruncateString(id, 24), output.FormatMTM(perTrade[id]))
	}
	output.Printf("  %-24s %s\n", "Total", output.FormatMTM(trading.TotalMTM(vals)))
	if unvalued > 0 {
		output.Dim("%d positions have no live price or lot size yet", unvalued)
	}
}

func newAdjustCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adjust <trade-detail-id> <entry|stopLoss|takeProfit> <price>",
		Short: "Move a trade level as if its price line were dragged",
		Long: `Drag the price line of a trade level to a new price on a headless chart and
commit the result, exactly as releasing the line on a chart would. The order
service position backing the level is updated when one exists; otherwise the
trade detail is rewritten with the new level.`,
		Example: `  tradedesk adjust 6731f0c2 stopLoss 112.5`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			tradeID := args[0]
			kind := models.LevelKind(args[1])
			if !isLevelKind(kind) {
				return fmt.Errorf("unknown level %q (want entry, stopLoss or takeProfit)", args[1])
			}
			target, err := strconv.ParseFloat(args[2], 64)
			if err != nil || target <= 0 {
				return fmt.Errorf("invalid price %q", args[2])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Backend.Timeout+app.Config.PriceLine.CommitTimeout)
			defer cancel()

			commits := make(chan store.Commit, 1)
			cfg := engine.ConfigFrom(app.Config, app.Logger)
			// Only the snapshot is needed; no feeds.
			cfg.Feeds = config.FeedsConfig{}
			cfg.OnCommit = func(c store.Commit) { commits <- c }

			eng, err := app.newEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.Stop()
			if err := eng.Start(ctx); err != nil {
				output.Error("Failed to load trades: %v", err)
				return err
			}

			levels, ok := eng.State().TradeLevels(tradeID)
			if !ok {
				return errors.NewDataError("trade_detail", tradeID, "trade detail not found", errors.ErrDataNotFound)
			}
			current, ok := levels.Get(kind)
			if !ok || current <= 0 {
				return fmt.Errorf("%s is not set on %s", kind, tradeID)
			}

			chart := chartFor(current, target)
			lines, err := eng.AttachPriceLines(ctx, tradeID, chart)
			if err != nil {
				return err
			}
			defer eng.DetachPriceLines(tradeID)

			line, ok := lines.Line(kind)
			if !ok {
				return fmt.Errorf("no %s line on %s", kind, tradeID)
			}
			if err := dragLine(chart, line, current, target); err != nil {
				return err
			}

			select {
			case c := <-commits:
				return printCommit(output, c)
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "waiting for commit")
			}
		},
	}

	return cmd
}

func isLevelKind(kind models.LevelKind) bool {
	for _, k := range models.AllLevels {
		if k == kind {
			return true
		}
	}
	return false
}

// chartFor returns a chart whose scale maps both prices to pixels and back
// without loss. A power-of-two span does that exactly when both prices lie
// in its upper half.
func chartFor(a, b float64) *priceline.HeadlessChart {
	hi := math.Max(a, b)
	top := math.Exp2(math.Ceil(math.Log2(hi)))
	if math.Min(a, b) >= top/2 {
		return priceline.NewHeadlessChart(top, 0, top)
	}
	return priceline.NewHeadlessChart(hi*1.25, 0, 1000)
}

func dragLine(chart priceline.Chart, line *priceline.Controller, from, to float64) error {
	y0, ok := chart.PriceToCoordinate(from)
	if !ok {
		return fmt.Errorf("price %v is off the chart", from)
	}
	y1, ok := chart.PriceToCoordinate(to)
	if !ok {
		return fmt.Errorf("price %v is off the chart", to)
	}

	line.PointerMove(y0)
	if !line.PointerDown() {
		return fmt.Errorf("no price line at %s", utils.FormatPrice(from))
	}
	line.PointerMove(y1)
	line.PointerUp(y1)
	return nil
}

func printCommit(output *Output, c store.Commit) error {
	if output.IsJSON() {
		if err := output.JSON(c); err != nil {
			return err
		}
	} else {
		target := "trade detail"
		if c.Target == store.TargetPosition {
			target = "position " + c.PositionID
		}
		switch c.Status {
		case store.CommitOK:
			output.Success("✓ %s moved %s → %s (%s, %s)", c.Level,
				utils.FormatPrice(c.PreviousPrice), utils.FormatPrice(c.Price), target, FormatDuration(c.Duration))
		case store.CommitRolledBack:
			output.Warning("%s update failed and was rolled back to %s: %s", c.Level, utils.FormatPrice(c.PreviousPrice), c.Error)
		default:
			output.Error("%s update failed: %s", c.Level, c.Error)
		}
	}

	if c.Status != store.CommitOK {
		return errors.New(c.Error)
	}
	return nil
}
