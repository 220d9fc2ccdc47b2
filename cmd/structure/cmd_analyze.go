package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"structure-engine/internal/engine"
	"structure-engine/internal/feed"
	"structure-engine/internal/market"
)

type analyzeOptions struct {
	csvPath   string
	mockBars  int
	symbol    string
	timeframe string
	strength  int
	forming   bool
	format    string
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a bar series and print its structure",
		Long: `Analyze a CSV bar file (open_time,open,high,low,close[,volume]) or a
generated random walk and print pivots, structure breaks and zones.

Examples:
  structure analyze --csv bars.csv --symbol BTCUSDT --timeframe 1h
  structure analyze --mock 300 --strength 3 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "CSV file with bars, oldest first")
	cmd.Flags().IntVar(&opts.mockBars, "mock", 0, "Generate this many mock bars instead of reading a file")
	cmd.Flags().StringVar(&opts.symbol, "symbol", "BTCUSDT", "Symbol label")
	cmd.Flags().StringVar(&opts.timeframe, "timeframe", "1h", "Bar timeframe")
	cmd.Flags().IntVar(&opts.strength, "strength", 0, "Pivot strength (overrides config)")
	cmd.Flags().BoolVar(&opts.forming, "forming", false, "Treat the last CSV bar as still forming")
	cmd.Flags().StringVar(&opts.format, "format", "table", "Output format: table, json")
	return cmd
}

func runAnalyze(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions) error {
	if (opts.csvPath == "") == (opts.mockBars <= 0) {
		return fmt.Errorf("exactly one of --csv or --mock is required")
	}
	tf, err := market.ParseTimeframe(opts.timeframe)
	if err != nil {
		return err
	}
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	engineCfg := cfg.Engine
	if opts.strength > 0 {
		engineCfg.PivotStrength = opts.strength
	}
	if err := engineCfg.Validate(); err != nil {
		return err
	}

	var series market.Series
	if opts.csvPath != "" {
		bars, err := feed.LoadCSVFile(opts.csvPath)
		if err != nil {
			return err
		}
		series = market.Series{Symbol: strings.ToUpper(opts.symbol), Timeframe: tf, Bars: bars, Forming: opts.forming}
	} else {
		src := feed.NewMockSource(cfg.Feed.MockSeed, time.Now().UTC())
		series, err = src.Bars(cmd.Context(), strings.ToUpper(opts.symbol), tf, opts.mockBars)
		if err != nil {
			return err
		}
	}
	if err := series.Validate(); err != nil {
		return err
	}

	snap := engine.NewAnalyzer(engineCfg, logger).Analyze(series)
	switch strings.ToLower(opts.format) {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "table":
		return outputSnapshotTable(cmd.OutOrStdout(), snap)
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}
}

func outputSnapshotTable(out io.Writer, snap engine.Snapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s %s  bars=%d  last=%g  trend=%s\n\n", snap.Symbol, snap.Timeframe, snap.ClosedBars, snap.LastPrice, snap.State.Trend)

	fmt.Fprintln(w, "STRUCTURE\tINDEX\tTIME\tPRICE\tCONFIRMED")
	for _, p := range snap.Structure {
		fmt.Fprintf(w, "%s\t%d\t%s\t%g\t%t\n", p.Kind, p.Index, p.Time.Format(time.RFC3339), p.Price, p.Confirmed)
	}

	fmt.Fprintln(w, "\nEVENT\tDIRECTION\tLEVEL\tSTART\tEND\tCONFIRMED")
	for _, ev := range snap.Events {
		fmt.Fprintf(w, "%s\t%s\t%g\t%d\t%d\t%t\n", ev.Kind, ev.Direction, ev.Level, ev.StartIndex, ev.EndIndex, ev.Confirmed)
	}

	fmt.Fprintln(w, "\nZONE\tINDEX\tLOW\tHIGH\tMITIGATED")
	if ob := snap.BullishOB; ob != nil {
		fmt.Fprintf(w, "bullish OB\t%d\t%g\t%g\t%t\n", ob.Index, ob.Low, ob.High, ob.Mitigated)
	}
	if ob := snap.BearishOB; ob != nil {
		fmt.Fprintf(w, "bearish OB\t%d\t%g\t%g\t%t\n", ob.Index, ob.Low, ob.High, ob.Mitigated)
	}
	for _, g := range snap.FVGs {
		fmt.Fprintf(w, "%s FVG\t%d\t%g\t%g\t%t\n", g.Direction, g.Index, g.Bottom, g.Top, g.Mitigated)
	}
	if snap.SupportFVG != nil {
		fmt.Fprintf(w, "\nsupport FVG level\t%g\n", *snap.SupportFVG)
	}
	if snap.ResistanceFVG != nil {
		fmt.Fprintf(w, "resistance FVG level\t%g\n", *snap.ResistanceFVG)
	}
	if sw := snap.Sweep; sw != nil {
		fmt.Fprintf(w, "\nsweep\tanticipated=%s\tlevel=%g\textreme=%g\n", sw.Anticipated, sw.SweptLevel, sw.SweepExtreme)
	}
	return w.Flush()
}
