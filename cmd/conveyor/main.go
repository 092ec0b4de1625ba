// Conveyor — движок выполнения actions и фоновых задач.
//
// Использование:
//
//	conveyor [--config FILE] [--json] <command> [subcommand] [flags]
//
// Команды:
//
//	serve     Запустить job queue, cron scheduler и запись RunEntry
//	migrate   Применить миграции схемы БД
//	jobs      Управление фоновыми задачами
//	dlq       Dead-letter задачи
//	runs      История выполнения actions
//	cron      Проверка cron-выражений
package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cli"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/jobqueue"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

// app хранит общие для команд зависимости. Конфигурация и пул
// создаются лениво, после парсинга PersistentFlags.
type app struct {
	configPath string
	jsonOutput bool

	cfgOnce sync.Once
	cfg     *config.Config
	cfgErr  error

	pool *pgxpool.Pool
}

func (a *app) config() (*config.Config, error) {
	a.cfgOnce.Do(func() {
		a.cfg, a.cfgErr = config.Load(a.configPath)
	})
	return a.cfg, a.cfgErr
}

func (a *app) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.pool = pool
	return pool, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// jobAdmin создаёт очередь без запуска polling — только для чтения и
// административных операций.
func (a *app) jobAdmin() (cli.JobAdmin, error) {
	pool, err := a.openPool(context.Background())
	if err != nil {
		return nil, err
	}
	return jobqueue.New(jobqueue.Config{
		Store:  repo.NewJobRepo(pool),
		Logger: telemetry.NewLogger(os.Stderr, "WARN", "text"),
	}), nil
}

func (a *app) runLister() (cli.RunLister, error) {
	pool, err := a.openPool(context.Background())
	if err != nil {
		return nil, err
	}
	return repo.NewRunRepo(pool), nil
}

func (a *app) output() *cli.Output {
	return cli.NewOutput(a.jsonOutput)
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor — action execution and background job engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		cli.NewJobsCmd(a.jobAdmin, a.output),
		cli.NewDLQCmd(a.jobAdmin, a.output),
		cli.NewRunsCmd(a.runLister, a.output),
		cli.NewCronCmd(a.output),
	)

	err := rootCmd.Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.openPool(cmd.Context())
			if err != nil {
				return err
			}

			applied, err := repo.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}

			out := a.output()
			if len(applied) == 0 {
				out.Success("Schema is up to date")
				return nil
			}
			for _, name := range applied {
				out.Success("Applied " + name)
			}
			return nil
		},
	}
}
