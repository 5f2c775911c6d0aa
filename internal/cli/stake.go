package cli

import (
	"fmt"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/model"
	"github.com/rcliao/narrative-market/internal/staking"
)

func init() {
	for _, action := range []model.Action{model.ActionStake, model.ActionUnstake} {
		cmd := &cobra.Command{
			Use:   string(action) + " <narrative-id> <amount>",
			Short: "Record a " + string(action) + " on a narrative",
			Args:  cobra.ExactArgs(2),
			Run:   runStakeAction(action),
		}
		cmd.Flags().StringP("staker", "s", "", "Staker wallet address (required)")
		cmd.MarkFlagRequired("staker")
		RootCmd.AddCommand(cmd)
	}

	positions := &cobra.Command{
		Use:   "positions",
		Short: "Show a staker's positions",
		Run:   runPositions,
	}
	positions.Flags().StringP("staker", "s", "", "Staker wallet address (required)")
	positions.MarkFlagRequired("staker")
	RootCmd.AddCommand(positions)

	apy := &cobra.Command{
		Use:   "apy <narrative-id>",
		Short: "Show a narrative's staking APY",
		Args:  cobra.ExactArgs(1),
		Run:   runAPY,
	}
	RootCmd.AddCommand(apy)

	stakingStats := &cobra.Command{
		Use:   "staking-stats",
		Short: "Show staking statistics",
		Run:   runStakingStats,
	}
	RootCmd.AddCommand(stakingStats)
}

func parseNarrativeID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		exitErr("narrative id", goerr.Wrap(errs.ErrInvalidInput, "invalid narrative id", goerr.V(errs.NarrativeIDKey, s)))
	}
	return id
}

func runStakeAction(action model.Action) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		staker, _ := cmd.Flags().GetString("staker")
		id := parseNarrativeID(args[0])
		amount, err := staking.ParseAmount(args[1])
		if err != nil {
			exitErr(string(action), err)
		}

		a := mustOpenApp()
		defer a.Close()

		do := a.staking.Stake
		if action == model.ActionUnstake {
			do = a.staking.Unstake
		}
		act, err := do(cmd.Context(), staking.Request{NarrativeID: id, Amount: amount, Staker: staker})
		if err != nil {
			exitErr(string(action), err)
		}
		output(act, func() {
			fmt.Printf("%s %s on narrative %d by %s (%s)\n", act.Action, act.Amount, act.NarrativeID, act.Staker, act.ID)
		})
	}
}

func runPositions(cmd *cobra.Command, args []string) {
	staker, _ := cmd.Flags().GetString("staker")

	a := mustOpenApp()
	defer a.Close()

	ps, err := a.staking.Positions(cmd.Context(), staker)
	if err != nil {
		exitErr("positions", err)
	}
	output(ps, func() {
		for _, p := range ps {
			fmt.Printf("%d\t%s\tdaily %s\n", p.NarrativeID, p.TotalStaked, p.ProjectedRewards)
		}
	})
}

func runAPY(cmd *cobra.Command, args []string) {
	id := parseNarrativeID(args[0])

	a := mustOpenApp()
	defer a.Close()

	apy, err := a.staking.APY(cmd.Context(), id)
	if err != nil {
		exitErr("apy", err)
	}
	output(map[string]any{"narrative_id": id, "apy": apy}, func() {
		fmt.Printf("%.4f%%\n", apy)
	})
}

func runStakingStats(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	st, err := a.staking.Statistics(cmd.Context())
	if err != nil {
		exitErr("staking stats", err)
	}
	output(st, nil)
}
