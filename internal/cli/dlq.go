package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
)

var deadLetterHeaders = []string{"ID", "NAME", "ATTEMPTS", "FAILED_AT", "ERROR"}

func deadLetterRow(e domain.DeadLetterEntry) []string {
	return []string{
		e.ID.String(), e.Name, strconv.Itoa(e.Attempts),
		formatTime(e.FailedAt), truncate(e.Error, 60),
	}
}

// NewDLQCmd создаёт группу команд для работы с dead-letter задачами.
func NewDLQCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry dead-lettered jobs",
	}

	cmd.AddCommand(
		newDLQListCmd(adminFn, outputFn),
		newDLQGetCmd(adminFn, outputFn),
		newDLQRetryCmd(adminFn, outputFn),
		newDLQDeleteCmd(adminFn, outputFn),
	)

	return cmd
}

func newDLQListCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := adminFn()
			if err != nil {
				return err
			}

			entries, err := admin.ListFailed(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = deadLetterRow(e)
			}
			return outputFn().Print(deadLetterHeaders, rows, entries)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset")

	return cmd
}

func newDLQGetCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show dead-lettered job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			admin, err := adminFn()
			if err != nil {
				return err
			}

			entry, err := admin.GetFailed(cmd.Context(), id)
			if err != nil {
				return err
			}

			headers := append(deadLetterHeaders[:len(deadLetterHeaders):len(deadLetterHeaders)], "TRACE_ID", "DATA")
			row := append(deadLetterRow(*entry), entry.TraceID, truncate(string(entry.Data), 80))
			return outputFn().Print(headers, [][]string{row}, entry)
		},
	}
}

func newDLQRetryCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Re-enqueue a dead-lettered job with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			admin, err := adminFn()
			if err != nil {
				return err
			}

			newID, err := admin.RetryFailedJob(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Job re-enqueued: %s", newID))
			return out.Print([]string{"DEAD_ID", "NEW_ID"}, [][]string{{id.String(), newID.String()}},
				map[string]string{"dead_id": id.String(), "new_id": newID.String()})
		},
	}
}

func newDLQDeleteCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			admin, err := adminFn()
			if err != nil {
				return err
			}

			if err := admin.DeleteFailed(cmd.Context(), id); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Dead-letter entry deleted: %s", id))
			return nil
		},
	}
}
