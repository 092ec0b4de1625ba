package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// RunLister — чтение audit-записей. Реализуется repo.RunRepo.
type RunLister interface {
	List(ctx context.Context, filter repo.RunFilter) ([]domain.RunEntry, error)
}

// NewRunsCmd создаёт группу команд для просмотра истории выполнения actions.
func NewRunsCmd(runsFn func() (RunLister, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect action run history",
	}

	cmd.AddCommand(newRunsListCmd(runsFn, outputFn))

	return cmd
}

func newRunsListCmd(runsFn func() (RunLister, error), outputFn func() *Output) *cobra.Command {
	var traceID, actionName, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded action runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repo.RunFilter{TraceID: traceID, ActionName: actionName, Limit: limit}
			if status != "" {
				s := domain.RunStatus(status)
				if s != domain.RunStatusSuccess && s != domain.RunStatusError {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = &s
			}

			runs, err := runsFn()
			if err != nil {
				return err
			}

			entries, err := runs.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			headers := []string{"CREATED_AT", "TRACE_ID", "ACTION", "TRIGGER", "STATUS", "ATTEMPT", "DURATION", "ERROR"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				attempt := ""
				if e.MaxAttempts > 0 {
					attempt = fmt.Sprintf("%d/%d", e.Attempt, e.MaxAttempts)
				}
				rows[i] = []string{
					formatTime(e.CreatedAt), e.TraceID, e.ActionName, string(e.TriggerType),
					string(e.Status), attempt, e.Duration.String(), truncate(e.ErrorMessage, 60),
				}
			}
			return outputFn().Print(headers, rows, entries)
		},
	}

	cmd.Flags().StringVar(&traceID, "trace-id", "", "Filter by trace id")
	cmd.Flags().StringVar(&actionName, "action", "", "Filter by action name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (success, error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of entries")

	return cmd
}
