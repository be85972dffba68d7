package main

import (
	"fmt"

	"PerpFunding/internal/config"
	fpmath "PerpFunding/internal/math"

	"github.com/spf13/cobra"
)

func marketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markets",
		Short: "Inspect the markets file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Parse and validate a markets file",
		Long: `Parses the markets file (default PERP_MARKETS_FILE), fills guard rail
defaults and prints a one-line summary per market.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfig().MarketsFile
			if len(args) == 1 {
				path = args[0]
			}
			f, err := config.LoadMarkets(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			g := f.GuardRails
			fmt.Fprintf(out, "guard rails: divergence %s/%s, stale after %d slots, confidence max %s, too volatile %s\n",
				g.PriceDivergence.MarkOracleDivergenceNumerator,
				g.PriceDivergence.MarkOracleDivergenceDenominator,
				g.Validity.SlotsBeforeStale,
				g.Validity.ConfidenceIntervalMaxSize,
				g.Validity.TooVolatileRatio,
			)
			for _, m := range f.Markets {
				fmt.Fprintf(out, "%4d  %-12s  oracle=%s (%s)  period=%ds  peg=%s\n",
					m.MarketIndex,
					m.Symbol,
					m.AMM.Oracle,
					m.AMM.OracleSource,
					m.AMM.FundingPeriod,
					m.AMM.PegMultiplier.ToDecimal(fpmath.PegConfig).String(),
				)
			}
			fmt.Fprintf(out, "%d markets OK\n", len(f.Markets))
			return nil
		},
	})
	return cmd
}
