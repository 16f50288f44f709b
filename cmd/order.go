package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var orderCmd = &cobra.Command{
	Use:   "order <items> [trials]",
	Short: "Generate a balanced random order",
	Long: `Print a balanced random order of item indices. trials defaults to items and
must be a multiple of it. With --block, items and trials describe a
lines x stimuli cross product instead: order <lines> <stimuli> --block.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		block, _ := cmd.Flags().GetBool("block")
		reps, _ := cmd.Flags().GetInt("repetitions")

		nums := make([]int, len(args))
		for i, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("invalid number %q: %w", a, err)
			}
			nums[i] = n
		}

		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		if block {
			if len(nums) != 2 {
				return fmt.Errorf("--block needs <lines> <stimuli>")
			}
			b, err := svc.BalancedBlock(nums[0], nums[1], nums[0]*nums[1]*reps)
			if err != nil {
				return err
			}
			for i, a := range b.Trials() {
				fmt.Printf("%3d: line %d stimulus %d\n", i+1, a.Location, a.Condition)
			}
			return nil
		}

		trials := nums[0] * reps
		if len(nums) == 2 {
			trials = nums[1]
		}
		order, err := svc.GenerateBalancedOrder(nums[0], trials)
		if err != nil {
			return err
		}
		for i, idx := range order {
			fmt.Printf("%3d: %d\n", i+1, idx)
		}
		return nil
	},
}

func init() {
	orderCmd.Flags().Bool("block", false, "order a lines x stimuli cross product")
	orderCmd.Flags().IntP("repetitions", "r", 1, "repetitions of every item")
}
