// Package config загружает конфигурацию Conveyor.
//
// Источники (в порядке приоритета):
//  1. Переменные окружения (DB_URL, REDIS_URL, RABBITMQ_URL, LOG_LEVEL,
//     LOG_FORMAT, METRICS_PORT)
//  2. YAML файл (--config)
//  3. Значения по умолчанию
//
// Длительности записываются строками Go: "500ms", "5s", "1m30s".
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/backoff"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
)

// Config — полная конфигурация процесса.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Queue     QueueConfig     `yaml:"queue"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	HTTP      HTTPConfig      `yaml:"http_action"`
	RunLog    RunLogConfig    `yaml:"runlog"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig — подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig — подключение к Redis.
// Пустой URL: distributed lock и cache отключены.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// RabbitMQConfig — публикация RunEntry через RabbitMQ.
// Пустой URL: записи пишутся в БД напрямую.
type RabbitMQConfig struct {
	URL string `yaml:"url"`
}

// QueueConfig — параметры job queue.
type QueueConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Concurrency  int           `yaml:"concurrency"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

// SchedulerConfig — параметры cron-планировщика.
type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	SkipIfRunning bool          `yaml:"skip_if_running"`
}

// ExecutorConfig — параметры исполнителя action.
type ExecutorConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// HTTPConfig — retry служебного action conveyor.http.request.
type HTTPConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"` // exponential | fixed
}

// RunLogConfig — буферизация RunEntry перед записью в БД.
type RunLogConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`

	// Retention — срок хранения action_runs (0 — без очистки).
	Retention time.Duration `yaml:"retention"`
	PurgeCron string        `yaml:"purge_cron"`
}

// MetricsConfig — HTTP endpoint для /metrics и /healthz.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig — параметры логирования.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:      repo.DefaultDSN,
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Prefix: "conveyor:",
		},
		Queue: QueueConfig{
			Enabled:      true,
			PollInterval: time.Second,
			Concurrency:  1,
			StopTimeout:  5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			LockTTL: 300 * time.Second,
		},
		Executor: ExecutorConfig{
			MaxDepth: 50,
		},
		HTTP: HTTPConfig{
			MaxAttempts: 3,
			Backoff:     string(backoff.Exponential),
		},
		RunLog: RunLogConfig{
			BatchSize:     100,
			FlushInterval: time.Second,
			BufferSize:    1000,
			Retention:     30 * 24 * time.Hour,
			PurgeCron:     "@daily",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// Load читает конфигурацию из path, применяет переменные окружения и проверяет результат.
// Пустой path: только значения по умолчанию и окружение.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DB_URL"); ok && v != "" {
		c.Database.URL = v
	}
	if v, ok := lookup("REDIS_URL"); ok {
		c.Redis.URL = v
	}
	if v, ok := lookup("RABBITMQ_URL"); ok {
		c.RabbitMQ.URL = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup("METRICS_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("METRICS_PORT: %w", err)
		}
		c.Metrics.Port = port
	}
	return nil
}

// Validate проверяет конфигурацию и возвращает все найденные ошибки.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.MaxConns < 0 {
		errs = append(errs, errors.New("database.max_conns must be >= 0"))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue.poll_interval must be > 0"))
	}
	if c.Queue.Concurrency < 1 {
		errs = append(errs, errors.New("queue.concurrency must be >= 1"))
	}
	if c.Queue.StopTimeout < 0 || c.Queue.StaleAfter < 0 {
		errs = append(errs, errors.New("queue timeouts must be >= 0"))
	}
	if c.Scheduler.LockTTL <= 0 {
		errs = append(errs, errors.New("scheduler.lock_ttl must be > 0"))
	}
	if c.Executor.MaxDepth < 1 {
		errs = append(errs, errors.New("executor.max_depth must be >= 1"))
	}
	if c.HTTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("http_action.max_attempts must be >= 1"))
	}
	switch backoff.Kind(c.HTTP.Backoff) {
	case backoff.Exponential, backoff.Fixed:
	default:
		errs = append(errs, fmt.Errorf("http_action.backoff %q: want exponential or fixed", c.HTTP.Backoff))
	}
	if c.RunLog.BatchSize < 1 || c.RunLog.BufferSize < 1 {
		errs = append(errs, errors.New("runlog.batch_size and runlog.buffer_size must be >= 1"))
	}
	if c.RunLog.FlushInterval <= 0 {
		errs = append(errs, errors.New("runlog.flush_interval must be > 0"))
	}
	if c.RunLog.Retention < 0 {
		errs = append(errs, errors.New("runlog.retention must be >= 0"))
	}
	if c.RunLog.Retention > 0 && c.RunLog.PurgeCron != "" {
		if err := scheduler.ValidateCronExpr(c.RunLog.PurgeCron); err != nil {
			errs = append(errs, fmt.Errorf("runlog.purge_cron: %w", err))
		}
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port %d out of range", c.Metrics.Port))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or text", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
