// Package config загружает конфигурацию процессов Durable.
//
// Порядок применения: значения по умолчанию → YAML-файл (CONFIG_FILE) →
// переменные окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Durable/internal/mq"
	"github.com/shaiso/Durable/internal/orchestrator"
	"github.com/shaiso/Durable/internal/repo"
)

// ErrInvalid — некорректное значение конфигурации.
var ErrInvalid = errors.New("invalid config")

// Хранилища instances.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config — конфигурация всех процессов.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	RabbitMQURL string `yaml:"rabbitmq_url"`

	// Store — postgres или memory.
	Store string `yaml:"store"`

	APIPort       string `yaml:"api_port"`
	WorkerPort    string `yaml:"worker_port"`
	SchedulerPort string `yaml:"scheduler_port"`

	// BaseURL — префикс URI в ответе на запуск (пусто — из запроса).
	BaseURL string `yaml:"base_url"`

	FanOut    FanOutConfig    `yaml:"fanout"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// FanOutConfig — параметры orchestration messaging.
type FanOutConfig struct {
	Count    int      `yaml:"count"`
	Channels []string `yaml:"channels"`
}

// WorkerConfig — параметры worker.
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

// SchedulerConfig — параметры scheduler.
type SchedulerConfig struct {
	Triggers []TriggerConfig `yaml:"triggers"`
}

// TriggerConfig — cron trigger запуска orchestration.
type TriggerConfig struct {
	Name          string `yaml:"name"`
	Cron          string `yaml:"cron"`
	Orchestration string `yaml:"orchestration"`
	Input         string `yaml:"input"`
}

// TracingConfig — параметры трассировки.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		DatabaseURL:   repo.DefaultDSN,
		RabbitMQURL:   mq.DefaultURL(),
		Store:         StorePostgres,
		APIPort:       "8080",
		WorkerPort:    "8081",
		SchedulerPort: "8082",
		FanOut: FanOutConfig{
			Count:    orchestrator.DefaultCount,
			Channels: append([]string(nil), orchestrator.DefaultChannels...),
		},
		Worker: WorkerConfig{
			Concurrency:  4,
			PollInterval: 10 * time.Second,
			BatchSize:    100,
		},
	}
}

// Load собирает конфигурацию из файла CONFIG_FILE и окружения.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

// LoadFrom собирает конфигурацию из файла path (может быть пустым)
// и переменных, которые отдаёт lookup.
func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("DB_URL", &cfg.DatabaseURL)
	str("RABBITMQ_URL", &cfg.RabbitMQURL)
	str("STORE", &cfg.Store)
	str("API_PORT", &cfg.APIPort)
	str("ORCH_PORT", &cfg.WorkerPort)
	str("SCHED_PORT", &cfg.SchedulerPort)
	str("BASE_URL", &cfg.BaseURL)
	str("TRACING_OUTPUT", &cfg.Tracing.Output)

	if v, ok := lookup("FANOUT_COUNT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: FANOUT_COUNT=%q", ErrInvalid, v)
		}
		cfg.FanOut.Count = n
	}

	if v, ok := lookup("FANOUT_CHANNELS"); ok && v != "" {
		var channels []string
		for _, ch := range strings.Split(v, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				channels = append(channels, ch)
			}
		}
		cfg.FanOut.Channels = channels
	}

	if v, ok := lookup("WORKER_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: WORKER_CONCURRENCY=%q", ErrInvalid, v)
		}
		cfg.Worker.Concurrency = n
	}

	if v, ok := lookup("POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: POLL_INTERVAL=%q", ErrInvalid, v)
		}
		cfg.Worker.PollInterval = d
	}

	if v, ok := lookup("TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: TRACING_ENABLED=%q", ErrInvalid, v)
		}
		cfg.Tracing.Enabled = b
	}

	// SCHEDULE_CRON добавляет trigger для orchestration по умолчанию.
	if v, ok := lookup("SCHEDULE_CRON"); ok && v != "" {
		cfg.Scheduler.Triggers = append(cfg.Scheduler.Triggers, TriggerConfig{
			Name:          "env",
			Cron:          v,
			Orchestration: orchestrator.NameMessaging,
		})
	}

	return nil
}

// Validate проверяет конфигурацию.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("%w: store must be %s or %s, got %q", ErrInvalid, StorePostgres, StoreMemory, c.Store)
	}

	if c.FanOut.Count < 0 {
		return fmt.Errorf("%w: fanout count must be >= 0, got %d", ErrInvalid, c.FanOut.Count)
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("%w: worker concurrency must be >= 0", ErrInvalid)
	}

	seen := make(map[string]bool, len(c.Scheduler.Triggers))
	for _, t := range c.Scheduler.Triggers {
		if t.Name == "" || t.Cron == "" {
			return fmt.Errorf("%w: trigger requires name and cron", ErrInvalid)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate trigger %s", ErrInvalid, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Orchestrator возвращает конфигурацию реестра orchestration.
func (c Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Count:    c.FanOut.Count,
		Channels: c.FanOut.Channels,
	}
}
