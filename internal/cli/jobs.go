package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
)

// JobAdmin — операции над очередью, доступные из CLI.
// Реализуется jobqueue.Queue.
type JobAdmin interface {
	Push(ctx context.Context, name string, data any, opts domain.PushOptions) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	GetAll(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	Update(ctx context.Context, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListFailed(ctx context.Context, limit, offset int) ([]domain.DeadLetterEntry, error)
	GetFailed(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error)
	DeleteFailed(ctx context.Context, id uuid.UUID) error
	RetryFailedJob(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

var jobHeaders = []string{"ID", "NAME", "STATUS", "PRIORITY", "ATTEMPTS", "RUN_AT", "LAST_ERROR"}

func jobRow(j domain.Job) []string {
	return []string{
		j.ID.String(), j.Name, string(j.Status), strconv.Itoa(j.Priority),
		fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
		formatTime(j.RunAt), truncate(j.LastError, 60),
	}
}

// NewJobsCmd создаёт группу команд для управления задачами.
func NewJobsCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
	}

	cmd.AddCommand(
		newJobsListCmd(adminFn, outputFn),
		newJobsGetCmd(adminFn, outputFn),
		newJobsPushCmd(adminFn, outputFn),
		newJobsUpdateCmd(adminFn, outputFn),
		newJobsDeleteCmd(adminFn, outputFn),
		newJobsStatsCmd(adminFn, outputFn),
	)

	return cmd
}

func newJobsListCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	var status, name string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := adminFn()
			if err != nil {
				return err
			}

			filter := domain.JobFilter{Name: name, Limit: limit, Offset: offset}
			if status != "" {
				s := domain.JobStatus(status)
				if !s.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = &s
			}

			jobs, err := admin.GetAll(cmd.Context(), filter)
			if err != nil {
				return err
			}

			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = jobRow(j)
			}
			return outputFn().Print(jobHeaders, rows, jobs)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, retrying, failed)")
	cmd.Flags().StringVar(&name, "name", "", "Filter by job name")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset")

	return cmd
}

func newJobsGetCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show job details",
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

			job, err := admin.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			headers := append(jobHeaders[:len(jobHeaders):len(jobHeaders)], "TRACE_ID", "DATA")
			row := append(jobRow(*job), job.TraceID, truncate(string(job.Data), 80))
			return outputFn().Print(headers, [][]string{row}, job)
		},
	}
}

func newJobsPushCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	var data, runAt string
	var priority, maxAttempts int
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "push NAME",
		Short: "Enqueue a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := domain.PushOptions{
				Priority:    priority,
				MaxAttempts: maxAttempts,
				Delay:       delay,
			}
			if runAt != "" {
				t, err := time.Parse(time.RFC3339, runAt)
				if err != nil {
					return fmt.Errorf("invalid --run-at: %w", err)
				}
				opts.RunAt = t
			}

			var payload any
			if data != "" {
				payload = []byte(data)
			}

			admin, err := adminFn()
			if err != nil {
				return err
			}

			id, err := admin.Push(cmd.Context(), args[0], payload, opts)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Job pushed: %s", id))
			return out.Print([]string{"ID", "NAME"}, [][]string{{id.String(), args[0]}},
				map[string]string{"id": id.String(), "name": args[0]})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "Job payload as JSON")
	cmd.Flags().IntVar(&priority, "priority", domain.DefaultJobPriority, "Priority (higher runs first)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", domain.DefaultJobMaxAttempts, "Max attempts before dead-letter")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before first run (e.g. 30s)")
	cmd.Flags().StringVar(&runAt, "run-at", "", "Absolute first run time (RFC3339)")

	return cmd
}

func newJobsUpdateCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	var data, runAt string
	var priority, maxAttempts int

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a waiting job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			upd := domain.JobUpdate{}
			if cmd.Flags().Changed("data") {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				upd.Data = json.RawMessage(data)
			}
			if cmd.Flags().Changed("priority") {
				upd.Priority = &priority
			}
			if cmd.Flags().Changed("max-attempts") {
				upd.MaxAttempts = &maxAttempts
			}
			if cmd.Flags().Changed("run-at") {
				t, err := time.Parse(time.RFC3339, runAt)
				if err != nil {
					return fmt.Errorf("invalid --run-at: %w", err)
				}
				upd.RunAt = &t
			}

			admin, err := adminFn()
			if err != nil {
				return err
			}

			job, err := admin.Update(cmd.Context(), id, upd)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success("Job updated")
			return out.Print(jobHeaders, [][]string{jobRow(*job)}, job)
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "New payload as JSON")
	cmd.Flags().IntVar(&priority, "priority", 0, "New priority")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "New max attempts")
	cmd.Flags().StringVar(&runAt, "run-at", "", "New run time (RFC3339)")

	return cmd
}

func newJobsDeleteCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a job",
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

			if err := admin.Delete(cmd.Context(), id); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Job deleted: %s", id))
			return nil
		},
	}
}

func newJobsStatsCmd(adminFn func() (JobAdmin, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := adminFn()
			if err != nil {
				return err
			}

			stats, err := admin.Stats(cmd.Context())
			if err != nil {
				return err
			}

			statuses := []domain.JobStatus{
				domain.JobStatusPending, domain.JobStatusRunning,
				domain.JobStatusRetrying, domain.JobStatusFailed,
			}
			rows := make([][]string, 0, len(statuses)+1)
			for _, s := range statuses {
				rows = append(rows, []string{string(s), strconv.Itoa(stats.ByStatus[s])})
			}
			rows = append(rows, []string{"dead_letter", strconv.Itoa(stats.DeadLetters)})

			return outputFn().Print([]string{"STATUS", "COUNT"}, rows, stats)
		},
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}
