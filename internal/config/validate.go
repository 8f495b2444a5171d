package config

import (
	"fmt"
	"strings"
	"time"

	logx "meshmate/pkg/logx"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks fields that cannot be defaulted. It is used for the initial
// load and for every hot reload before the new config is published.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Mesh.Driver)) {
	case "", "console":
	default:
		return fmt.Errorf("unknown mesh.driver: %s", cfg.Mesh.Driver)
	}
	if cfg.Mesh.TextLimit < 0 {
		return fmt.Errorf("mesh.text_limit must be >= 0")
	}
	if cfg.Mesh.Workers < 0 {
		return fmt.Errorf("mesh.workers must be >= 0")
	}
	for cmd, ch := range cfg.Mesh.Restrictions {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("mesh.restrictions.%s: channel is empty", cmd)
		}
		if len(cfg.Mesh.Channels) > 0 && !hasChannel(cfg.Mesh.Channels, ch) {
			return fmt.Errorf("mesh.restrictions.%s: unknown channel %q", cmd, ch)
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			return fmt.Errorf("logging.level: unknown level %q", lvl)
		}
	}

	if cfg.Scheduler.MaxPerUser < 0 {
		return fmt.Errorf("scheduler.max_per_user must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" && !strings.EqualFold(tz, "local") {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := ParseDurationField("scheduler.fallback_delay", cfg.Scheduler.FallbackDelay); err != nil {
		return err
	}

	if ex := cfg.Executor; ex != nil {
		if _, err := ParseDurationField("executor.timeout", ex.Timeout); err != nil {
			return err
		}
		if ex.RatePerSec < 0 {
			return fmt.Errorf("executor.rate_per_sec must be >= 0")
		}
		if ex.Burst < 0 {
			return fmt.Errorf("executor.burst must be >= 0")
		}
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "file", "json", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("unknown storage.driver: %s", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"api.read_timeout", cfg.API.ReadTimeout},
		{"api.write_timeout", cfg.API.WriteTimeout},
		{"api.idle_timeout", cfg.API.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func hasChannel(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}
