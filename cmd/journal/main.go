package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trade-journal-go/internal/config"
	"trade-journal-go/internal/database"
	"trade-journal-go/internal/journal"
	"trade-journal-go/internal/logger"
	"trade-journal-go/internal/trace"
)

func main() {
	// A missing .env is fine; the environment and config file still apply.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// App holds the dependencies shared by every command.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Engine *journal.Engine

	shutdownTrace func(context.Context) error
}

func newRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:   "journal",
		Short: "Trading journal analytics",
		Long: `journal imports trade exports, keeps them in a local database and derives
metrics, chart series and hypothetical best exits from them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.bootstrap(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().String("config", "./configs", "directory holding config.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newImportCmd(app),
		newExportCmd(app),
		newStatsCmd(app),
		newChartCmd(app),
		newEnrichCmd(app),
		newRunCmd(app),
	)
	return rootCmd
}

// bootstrap loads configuration, opens the database and builds the engine.
func (a *App) bootstrap(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logger.Level = "debug"
	}
	a.Config = &cfg

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.File)
	if err != nil {
		return fmt.Errorf("could not initialize logger: %w", err)
	}
	a.Logger = log

	a.shutdownTrace, err = trace.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("could not initialize tracing: %w", err)
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		return err
	}
	a.Logger.Debug("Database connection successful and schema migrated.")

	a.Engine, err = journal.NewEngine(a.Logger, a.Config, db, nil)
	return err
}

// start starts the engine. One-shot commands run without scheduled jobs.
func (a *App) start(ctx context.Context, scheduled bool) error {
	if !scheduled {
		a.Config.Schedule = config.Schedule{}
	}
	return a.Engine.Start(ctx)
}

func (a *App) close(ctx context.Context) error {
	if a.Engine != nil {
		a.Engine.Stop()
	}
	if a.shutdownTrace != nil {
		if err := a.shutdownTrace(context.WithoutCancel(ctx)); err != nil {
			a.Logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return nil
}
