package cli

import (
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

func init() {
	trending := &cobra.Command{
		Use:   "trending",
		Short: "Rank narratives by staking momentum",
		Run:   runTrending,
	}
	trending.Flags().IntP("limit", "l", 0, "Max results (default: config market.trending_limit)")
	RootCmd.AddCommand(trending)

	RootCmd.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Show market-wide metrics",
		Run:   runMetrics,
	})

	RootCmd.AddCommand(&cobra.Command{
		Use:   "sentiment",
		Short: "Classify market sentiment",
		Run:   runSentiment,
	})

	activity := &cobra.Command{
		Use:   "activity <narrative-id>",
		Short: "Show a narrative's recent activity, newest first",
		Args:  cobra.ExactArgs(1),
		Run:   runActivity,
	}
	activity.Flags().Duration("window", 0, "Lookback window, e.g. 24h (default: config market.windows.activity)")
	RootCmd.AddCommand(activity)
}

func runTrending(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	a := mustOpenApp()
	defer a.Close()

	trends, err := a.engine.TrendingNarratives(cmd.Context(), limit)
	if err != nil {
		exitErr("trending", err)
	}
	output(trends, func() {
		for i, t := range trends {
			fmt.Printf("%2d. #%d\tmomentum=%.3f\tchange=%.2f%%\tstaked=%s\n",
				i+1, t.Narrative.NarrativeID, t.Momentum, t.PercentageChange, t.Narrative.TotalStaked)
		}
	})
}

func runMetrics(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	mm, err := a.engine.MarketMetrics(cmd.Context())
	if err != nil {
		exitErr("metrics", err)
	}
	output(mm, func() {
		fmt.Printf("tvl: %s\nnarratives: %d\nactive stakers: %d\naverage stake: %s\nvolume 24h: %s\nprice change 24h: %.4f\n",
			mm.TotalValueLocked, mm.TotalNarratives, mm.ActiveStakers,
			mm.AverageStakeSize.StringFixed(4), mm.StakingVolume24h, mm.PriceChange24h)
	})
}

func runSentiment(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	s, err := a.engine.MarketSentiment(cmd.Context())
	if err != nil {
		exitErr("sentiment", err)
	}
	output(s, func() {
		fmt.Printf("%s (bullish %d, bearish %d, neutral %d)\n", s.Overall, s.Bullish, s.Bearish, s.Neutral)
	})
}

func runActivity(cmd *cobra.Command, args []string) {
	id := parseNarrativeID(args[0])
	window, _ := cmd.Flags().GetDuration("window")
	if window < 0 {
		exitErr("activity", goerr.New("window must not be negative", goerr.V("window", window)))
	}

	a := mustOpenApp()
	defer a.Close()

	acts, err := a.engine.NarrativeActivity(cmd.Context(), id, window)
	if err != nil {
		exitErr("activity", err)
	}
	output(acts, func() {
		for _, act := range acts {
			fmt.Printf("%s\t%s\t%s\t%s\n", act.Timestamp.Format(time.RFC3339), act.Action, act.Amount, act.Staker)
		}
	})
}
