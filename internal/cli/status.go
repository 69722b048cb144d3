package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/cobra"

	"tradedesk/internal/engine"
	"tradedesk/internal/feed"
	"tradedesk/internal/resilience"
	"tradedesk/internal/store"
)

type feedReadiness struct {
	Feed  string `json:"feed"`
	URL   string `json:"url"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

type statusReport struct {
	Feeds      []feedReadiness                  `json:"feeds"`
	Services   []resilience.ServiceStatus       `json:"services"`
	ServiceErr string                           `json:"service_error,omitempty"`
	LotSizes   *store.DataFreshness             `json:"lot_sizes,omitempty"`
	Breakers   []resilience.CircuitBreakerStats `json:"breakers"`
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check feed readiness, backend services and cached data",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Backend.Timeout)
			defer cancel()

			report := statusReport{Feeds: probeFeeds(ctx, app)}

			events, err := app.Backend.GetServiceEvents(ctx)
			if err != nil {
				report.ServiceErr = err.Error()
			} else {
				report.Services = resilience.EvaluateServices(events, time.Now())
			}

			if app.Store != nil {
				report.LotSizes = store.GetDataFreshness(app.Store, store.SyncLotSizes)
			}
			report.Breakers = app.Backend.Breakers().AllStats()

			if output.IsJSON() {
				return output.JSON(report)
			}
			printStatus(output, report)
			return nil
		},
	}
}

// probeFeeds asks each configured feed's readiness endpoint in parallel.
func probeFeeds(ctx context.Context, app *App) []feedReadiness {
	var names []string
	for _, name := range []string{engine.FeedMarket, engine.FeedChart, engine.FeedInfo} {
		if f, _ := app.Config.FeedByName(name); f.URL != "" {
			names = append(names, name)
		}
	}

	return iter.Map(names, func(name *string) feedReadiness {
		f, _ := app.Config.FeedByName(*name)
		r := feedReadiness{Feed: *name, URL: f.URL}
		if f.HealthURL == "" {
			r.Error = "no health_url configured"
			return r
		}
		ready, err := feed.NewProber(f.HealthURL, nil).Probe(ctx)
		if err != nil {
			r.Error = err.Error()
			return r
		}
		r.Ready = ready.Ready()
		if !r.Ready {
			r.Error = "upstream not connected"
		}
		return r
	})
}

func printStatus(output *Output, r statusReport) {
	output.Bold("Feeds")
	if len(r.Feeds) == 0 {
		output.Dim("  No feeds configured")
	} else {
		table := NewTable(output, "Feed", "URL", "Ready", "Detail")
		for _, f := range r.Feeds {
			table.AddRow(f.Feed, TruncateString(f.URL, 48), output.UpDown(f.Ready), f.Error)
		}
		table.Render()
	}
	output.Println()

	output.Bold("Backend Services")
	if r.ServiceErr != "" {
		output.Error("  %s", r.ServiceErr)
	} else {
		table := NewTable(output, "Service", "State", "Reason")
		for _, s := range r.Services {
			table.AddRow(s.Name, output.UpDown(s.Up), s.Reason)
		}
		table.Render()
		if !resilience.AllUp(r.Services) {
			output.Warning("Some backend services are down; live data may be stale")
		}
	}
	output.Println()

	if r.LotSizes != nil {
		output.Bold("Cached Data")
		freshness := store.FormatFreshness(r.LotSizes)
		if r.LotSizes.IsFresh {
			output.Printf("  Lot sizes:  %s\n", output.Green(freshness))
		} else {
			output.Printf("  Lot sizes:  %s\n", output.Yellow(freshness))
		}
		output.Println()
	}

	output.Bold("Circuit Breakers")
	table := NewTable(output, "Group", "State", "Requests", "Failures", "Rejected", "Fail %")
	for _, b := range r.Breakers {
		state := output.Green(string(b.State))
		if b.State != resilience.CircuitClosed {
			state = output.Red(string(b.State))
		}
		table.AddRow(b.Name, state,
			strconv.FormatInt(b.TotalRequests, 10),
			strconv.FormatInt(b.TotalFailures, 10),
			strconv.FormatInt(b.TotalRejected, 10),
			strconv.FormatFloat(b.FailureRate(), 'f', 1, 64))
	}
	table.Render()
}
