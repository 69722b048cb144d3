// Package cli provides the command-line interface for the trading desk.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradedesk/internal/backend"
	"tradedesk/internal/config"
	"tradedesk/internal/engine"
	"tradedesk/internal/logging"
	"tradedesk/internal/notify"
	"tradedesk/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-11-20"
)

// skipSetup marks commands that run without loading configuration.
const skipSetup = "skip-setup"

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Backend   *backend.Client
	Store     store.DataStore
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// from the --config directory before any command that needs it runs.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "tradedesk",
		Short: "Real-time market data and MTM for option trades",
		Long: `tradedesk keeps a live view of option trades in sync with the trading
backend. It follows index prices, option premiums and candles over the push
feeds, values open positions mark-to-market and lets stop-loss, target and
entry levels be moved and committed back to the order service.

Use 'tradedesk run' to start the desk.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipSetup] != "" {
				return nil
			}
			return app.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/tradedesk)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addDeskCommands(rootCmd, app)
	addMarketDataCommands(rootCmd, app)
	addJournalCommands(rootCmd, app)

	return rootCmd
}

func (app *App) setup(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	app.Config = cfg
	app.ConfigDir = dir
	app.Logger = logging.NewLoggerWithConfig(cfg.Logging)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		app.Logger = app.Logger.Level(zerolog.DebugLevel)
	}

	app.Backend = backend.NewClient(backend.ConfigFrom(cfg.Backend, app.Logger))

	if cfg.Store.Enabled {
		dataStore, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			app.Logger.Warn().Err(err).Msg("Failed to initialize store, journal and lot-size cache unavailable")
		} else {
			app.Store = dataStore
			app.Logger.Debug().Str("path", cfg.Store.Path).Msg("SQLite store initialized")
		}
	}
	return nil
}

func (app *App) close() {
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Debug().Err(err).Msg("Closing store")
		}
	}
}

// newEngine builds an engine over the app's backend and store.
func (app *App) newEngine(cfg engine.Config) (*engine.Engine, error) {
	return engine.New(cfg, engine.Deps{
		Backend:  app.Backend,
		Store:    app.Store,
		Notifier: notify.NewMultiNotifier(&app.Config.Notifications, app.Logger),
	})
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("tradedesk v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				c := *app.Config
				c.Backend.Token = maskToken(c.Backend.Token)
				return output.JSON(c)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Backend")
	output.Printf("  URL:             %s\n", cfg.Backend.URL)
	output.Printf("  Token:           %s\n", maskToken(cfg.Backend.Token))
	output.Printf("  Timeout:         %s\n", cfg.Backend.Timeout)
	output.Printf("  Rate limit:      %.1f/s (burst %d)\n", cfg.Backend.RatePerSec, cfg.Backend.Burst)
	output.Println()

	output.Bold("Feeds")
	for _, name := range []string{engine.FeedMarket, engine.FeedChart, engine.FeedInfo} {
		f, _ := cfg.FeedByName(name)
		url := f.URL
		if url == "" {
			url = output.DimText("not configured")
		}
		output.Printf("  %-16s %s\n", name+":", url)
	}
	output.Printf("  Throttle window: %s\n", cfg.Stream.ThrottleWindow)
	output.Println()

	output.Bold("Candles")
	output.Printf("  UTC offset:      %s\n", cfg.Candles.UTCOffset)
	output.Printf("  Max bars:        %d\n", cfg.Candles.MaxBars)
	output.Println()

	output.Bold("Price Lines")
	output.Printf("  Hit threshold:   %.0fpx\n", cfg.PriceLine.HitThresholdPx)
	output.Printf("  Rollback:        %v\n", cfg.PriceLine.RollbackOnFailure)
	output.Printf("  Commit timeout:  %s\n", cfg.PriceLine.CommitTimeout)
	output.Println()

	output.Bold("Store")
	output.Printf("  Enabled:         %v\n", cfg.Store.Enabled)
	output.Printf("  Path:            %s\n", cfg.Store.Path)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:           %s\n", cfg.Notifications.Level)
	output.Printf("  Terminal:        %v\n", cfg.Notifications.Terminal)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
}

func maskToken(token string) string {
	if token == "" {
		return "-"
	}
	return logging.MaskCredential(token)
}
