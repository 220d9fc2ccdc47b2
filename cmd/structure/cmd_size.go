package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"structure-engine/internal/market"
	"structure-engine/internal/risk"
)

type sizeOptions struct {
	symbol string
	inst   market.Instrument
	req    risk.Request
	format string
}

func newSizeCmd(root *rootOptions) *cobra.Command {
	opts := &sizeOptions{}
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Size a position from entry, stop and risk",
		Long: `Size a position. The instrument comes from the config (--symbol) or from
the instrument flags.

Examples:
  structure size --entry 100 --stop 98 --equity 10000 --risk 1 --tick-size 0.01 --tick-value 0.01
  structure size --config structure.yaml --symbol EURUSD --entry 1.1000 --stop 1.0980 --equity 5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSize(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&opts.req.Entry, "entry", 0, "Entry price")
	f.Float64Var(&opts.req.StopRef, "stop", 0, "Stop reference price")
	f.Float64Var(&opts.req.Equity, "equity", 0, "Account equity")
	f.Float64Var(&opts.req.RiskPercent, "risk", 0, "Risk per trade in percent (default from config)")
	f.Float64Var(&opts.req.RewardRatio, "reward", 0, "Reward:risk ratio for the take-profit")
	f.Float64Var(&opts.req.TargetPrice, "target", 0, "Explicit take-profit price")
	f.BoolVar(&opts.req.StrictMinVolume, "strict", false, "Reject volumes below the instrument minimum")

	f.StringVar(&opts.symbol, "symbol", "", "Configured instrument symbol")
	f.Float64Var(&opts.inst.TickSize, "tick-size", 0, "Tick size")
	f.Float64Var(&opts.inst.TickValue, "tick-value", 0, "Money value of one tick for one unit")
	f.Float64Var(&opts.inst.PipSize, "pip-size", 0, "Pip size")
	f.Float64Var(&opts.inst.PipValue, "pip-value", 0, "Money value of one pip for one unit (quotes risk in pips)")
	f.Float64Var(&opts.inst.VolumeMin, "volume-min", 0.001, "Minimum volume")
	f.Float64Var(&opts.inst.VolumeMax, "volume-max", 1000, "Maximum volume")
	f.Float64Var(&opts.inst.VolumeStep, "volume-step", 0.001, "Volume step")
	f.IntVar(&opts.inst.PriceDigits, "digits", 0, "Price digits")
	f.Float64Var(&opts.inst.MinStopTicks, "min-stop-ticks", 0, "Minimum stop distance in ticks")
	f.StringVar(&opts.format, "format", "table", "Output format: table, json")
	return cmd
}

func runSize(cmd *cobra.Command, root *rootOptions, opts *sizeOptions) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}

	req := opts.req
	if opts.symbol != "" && !cmd.Flags().Changed("tick-size") {
		inst, ok := cfg.InstrumentMap()[strings.ToUpper(opts.symbol)]
		if !ok {
			return fmt.Errorf("no instrument configured for %s", opts.symbol)
		}
		req.Instrument = inst
	} else {
		req.Instrument = opts.inst
		req.Instrument.Symbol = strings.ToUpper(opts.symbol)
		if req.Instrument.PipValue > 0 {
			req.Instrument.Quotation = market.QuotePips
		}
	}

	sizerCfg := cfg.Risk.Sizer
	if req.StrictMinVolume {
		sizerCfg.AllowMinVolumeOverride = false
	}
	d, err := risk.NewSizer(sizerCfg, logger).Size(req)
	if err != nil {
		return err
	}

	if strings.ToLower(opts.format) == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "side\t%s\n", d.Side)
	fmt.Fprintf(w, "volume\t%.*f\n", req.Instrument.VolumeDecimals(), d.Volume)
	fmt.Fprintf(w, "stop loss\t%g\n", d.StopLoss)
	if d.HasTakeProfit {
		fmt.Fprintf(w, "take profit\t%g\n", d.TakeProfit)
	}
	fmt.Fprintf(w, "risk amount\t%.2f\n", d.RiskAmount)
	fmt.Fprintf(w, "effective risk\t%.4f%%\n", d.EffectiveRiskPercent)
	for _, warn := range d.Warnings {
		fmt.Fprintf(w, "warning\t%s\n", warn)
	}
	return w.Flush()
}
