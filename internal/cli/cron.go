package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/scheduler"
)

// NewCronCmd создаёт команды для проверки cron-выражений.
func NewCronCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Validate cron expressions and preview fire times",
	}

	cmd.AddCommand(
		newCronValidateCmd(outputFn),
		newCronNextCmd(outputFn),
	)

	return cmd
}

func newCronValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate EXPR",
		Short: "Validate a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := scheduler.ValidateCronExpr(args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Valid: %s", args[0]))
			return nil
		},
	}
}

func newCronNextCmd(outputFn func() *Output) *cobra.Command {
	var count int
	var timezone, from string

	cmd := &cobra.Command{
		Use:   "next EXPR",
		Short: "Show next fire times of a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
				start = t
			}

			fires, err := scheduler.NextFires(args[0], timezone, start, count)
			if err != nil {
				return err
			}

			rows := make([][]string, len(fires))
			for i, t := range fires {
				rows[i] = []string{strconv.Itoa(i + 1), t.Format(time.RFC3339)}
			}
			return outputFn().Print([]string{"#", "FIRE_AT"}, rows, fires)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of fire times")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone (default: UTC)")
	cmd.Flags().StringVar(&from, "from", "", "Start time (RFC3339, default: now)")

	return cmd
}
