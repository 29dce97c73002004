package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trade-journal-go/internal/analytics"
	"trade-journal-go/internal/api"
	"trade-journal-go/internal/importer"
	"trade-journal-go/internal/models"
)

func newImportCmd(app *App) *cobra.Command {
	var appendMode bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import trades from a CSV or JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.start(cmd.Context(), false); err != nil {
				return err
			}
			result, err := importer.ParseFile(args[0])
			if err != nil {
				return err
			}
			imported := 0
			if result.Success {
				imported = app.Engine.ImportTrades(result.Trades, !appendMode)
			}

			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"imported": imported,
					"total":    app.Engine.Store().Len(),
					"errors":   result.Errors,
					"warnings": result.Warnings,
					"metadata": result.Metadata,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d trades from %s (%s, %s, %d rows)\n",
				imported, args[0], result.Metadata.Broker, result.Metadata.Format, result.Metadata.Rows)
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "  warning: %s\n", w)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  error: %s\n", e)
			}
			if !result.Success {
				return errors.New("no trades imported")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&appendMode, "append", false, "merge into existing trades instead of replacing them")
	return cmd
}

func newExportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export all trades to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.start(cmd.Context(), false); err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("could not create %s: %w", args[0], err)
			}
			defer f.Close()

			trades := app.Engine.Store().All()
			if err := importer.WriteCSV(f, trades); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d trades to %s\n", len(trades), args[0])
			return f.Close()
		},
	}
}

func newStatsCmd(app *App) *cobra.Command {
	var (
		filter       analytics.Filter
		statuses     []string
		sides        []string
		minContracts float64
		maxContracts float64
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print performance metrics for the filtered trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, models.Status(strings.ToUpper(s)))
			}
			for _, s := range sides {
				filter.Sides = append(filter.Sides, models.Side(strings.ToUpper(s)))
			}
			if cmd.Flags().Changed("min-contracts") {
				filter.MinContracts = &minContracts
			}
			if cmd.Flags().Changed("max-contracts") {
				filter.MaxContracts = &maxContracts
			}
			if err := filter.Validate(); err != nil {
				return err
			}
			if err := app.start(cmd.Context(), false); err != nil {
				return err
			}
			service := app.Engine.Analytics()
			service.UpdateFilters(filter)
			service.Flush()

			state := service.State()
			if state.Error != "" {
				return errors.New(state.Error)
			}
			summary := api.RoundSummary(state.Metrics)
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			return printSummary(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&filter.DateFrom, "from", "", "first trading date, YYYY-MM-DD")
	cmd.Flags().StringVar(&filter.DateTo, "to", "", "last trading date, YYYY-MM-DD")
	cmd.Flags().StringSliceVar(&filter.Symbols, "symbol", nil, "symbols or root symbols to include")
	cmd.Flags().StringSliceVar(&filter.Models, "model", nil, "strategy models to include")
	cmd.Flags().StringSliceVar(&filter.Tags, "tag", nil, "tags to include (any of)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "outcomes to include: open, win, loss, breakeven")
	cmd.Flags().StringSliceVar(&sides, "side", nil, "sides to include: long, short")
	cmd.Flags().Float64Var(&minContracts, "min-contracts", 0, "smallest position size to include")
	cmd.Flags().Float64Var(&maxContracts, "max-contracts", 0, "largest position size to include")
	return cmd
}

func newChartCmd(app *App) *cobra.Command {
	var (
		period     string
		bucketSize float64
	)

	cmd := &cobra.Command{
		Use:   "chart <type>",
		Short: "Print a chart series",
		Long:  fmt.Sprintf("Print a chart series. Supported types: %v", analytics.ChartTypes),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := analytics.ChartConfig{Period: analytics.AggregationPeriod(period), BucketSize: bucketSize}
			if err := (analytics.AggregationConfig{Period: cfg.Period}).Validate(); err != nil {
				return err
			}
			if err := app.start(cmd.Context(), false); err != nil {
				return err
			}
			series, err := app.Engine.Analytics().ChartData(analytics.ChartType(args[0]), cfg)
			if err != nil {
				return err
			}
			series = api.RoundSeries(series)
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), series)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LABEL\tVALUE\tTRADES")
			for i, label := range series.Labels {
				count := 0
				if i < len(series.Counts) {
					count = series.Counts[i]
				}
				fmt.Fprintf(w, "%s\t%.2f\t%d\n", label, series.Values[i], count)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&period, "period", string(analytics.PeriodDay), "time bucket for series charts: day, week or month")
	cmd.Flags().Float64Var(&bucketSize, "bucket-size", 0, "P&L bucket width for the distribution chart")
	return cmd
}

func newEnrichCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Compute hypothetical best exits from intraday bars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.start(cmd.Context(), false); err != nil {
				return err
			}
			report, err := app.Engine.Enrich(cmd.Context(), force)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enriched %d, skipped %d, failed %d in %s\n",
				report.Enriched, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-enrich trades that already have a best exit")
	return cmd
}

func newRunCmd(app *App) *cobra.Command {
	var serve bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the journal with scheduled jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !serve {
				return app.Engine.Run(ctx)
			}

			if err := app.start(ctx, true); err != nil {
				return err
			}
			server := api.NewServer(app.Config.Server, app.Engine, app.Logger)
			server.Start()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				app.Logger.Error("API server shutdown failed", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "also serve the HTTP API")
	return cmd
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(out io.Writer, s analytics.Summary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Trades\t%d (%d open)\n", s.TotalTrades, s.OpenTrades)
	fmt.Fprintf(w, "Wins / Losses / Even\t%d / %d / %d\n", s.Wins, s.Losses, s.Breakeven)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", s.WinRate)
	fmt.Fprintf(w, "Net P&L\t%.2f\n", s.NetPnL)
	fmt.Fprintf(w, "Gross P&L\t%.2f\n", s.GrossPnL)
	fmt.Fprintf(w, "Commissions\t%.2f\n", s.TotalCommissions)
	if s.ProfitFactorDefined {
		fmt.Fprintf(w, "Profit factor\t%.2f\n", s.ProfitFactor)
	} else {
		fmt.Fprintln(w, "Profit factor\tn/a")
	}
	fmt.Fprintf(w, "Average win / loss\t%.2f / %.2f\n", s.AverageWin, s.AverageLoss)
	fmt.Fprintf(w, "Largest win / loss\t%.2f / %.2f\n", s.LargestWin, s.LargestLoss)
	fmt.Fprintf(w, "Expectancy\t%.2f\n", s.Expectancy)
	fmt.Fprintf(w, "Max drawdown\t%.2f\n", s.MaxDrawdown)
	fmt.Fprintf(w, "Trading days\t%d\n", s.TradingDays)
	if s.BestDay != nil {
		fmt.Fprintf(w, "Best day\t%s %.2f\n", s.BestDay.Date, s.BestDay.PnL)
	}
	if s.WorstDay != nil {
		fmt.Fprintf(w, "Worst day\t%s %.2f\n", s.WorstDay.Date, s.WorstDay.PnL)
	}
	fmt.Fprintf(w, "Streaks (win / loss / current)\t%d / %d / %d\n", s.MaxWinStreak, s.MaxLossStreak, s.CurrentStreak)
	return w.Flush()
}
