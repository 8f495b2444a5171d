package app

import (
	"fmt"
	"strings"
	"time"

	"meshmate/internal/api"
	"meshmate/internal/config"
	"meshmate/internal/dispatch"
	"meshmate/internal/executor"
	"meshmate/internal/registry"
	"meshmate/internal/storage"
	kit "meshmate/internal/transport"
	logx "meshmate/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: storage.DefaultPath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file", "json":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMaxPerUser(cfg *config.Config) int {
	if cfg.Scheduler.MaxPerUser <= 0 {
		return registry.DefaultMaxPerUser
	}
	return cfg.Scheduler.MaxPerUser
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	fallback, err := config.ParseDurationOrDefault("scheduler.fallback_delay", cfg.Scheduler.FallbackDelay, dispatch.DefaultFallbackDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone), FallbackDelay: fallback}, nil
}

// mapExecutorConfig returns the executor settings and the outbound rate
// limit, both of which live under "executor".
func mapExecutorConfig(cfg *config.Config) (executor.Config, kit.LimitConfig, error) {
	ex := cfg.Executor
	if ex == nil {
		ex = &config.ExecutorConfig{}
	}
	timeout, err := config.ParseDurationOrDefault("executor.timeout", ex.Timeout, executor.DefaultTimeout)
	if err != nil {
		return executor.Config{}, kit.LimitConfig{}, err
	}
	prefix := executor.DefaultReminderPrefix
	if ex.ReminderPrefix != nil {
		prefix = *ex.ReminderPrefix
	}
	return executor.Config{Timeout: timeout, ReminderPrefix: prefix},
		kit.LimitConfig{RatePerSec: ex.RatePerSec, Burst: ex.Burst},
		nil
}

func mapAPIConfig(cfg *config.Config) (api.Config, error) {
	ac := cfg.API
	read, err := config.ParseDurationOrDefault("api.read_timeout", ac.ReadTimeout, 10*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("api.write_timeout", ac.WriteTimeout, 10*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("api.idle_timeout", ac.IdleTimeout, 60*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	addr := strings.TrimSpace(ac.Addr)
	if addr == "" {
		addr = api.DefaultAddr
	}
	return api.Config{
		Enabled:       ac.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapWorkers(cfg *config.Config) int {
	if cfg.Mesh.Workers <= 0 {
		return 2
	}
	return cfg.Mesh.Workers
}
