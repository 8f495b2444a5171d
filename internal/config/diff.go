package config

import (
	"reflect"
	"sort"
	"strings"

	logx "meshmate/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{"mesh.driver": true, "storage": true}

// Summarize returns the changed sections and safe structured attrs for
// logging. Tokens are never included, only whether one is set.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	om, nm := oldCfg.Mesh, newCfg.Mesh
	if !strings.EqualFold(strings.TrimSpace(om.Driver), strings.TrimSpace(nm.Driver)) {
		changed = append(changed, "mesh.driver")
		attrs = append(attrs, logx.String("mesh.driver", nm.Driver))
	}
	if !reflect.DeepEqual(om.Channels, nm.Channels) ||
		!reflect.DeepEqual(om.Restrictions, nm.Restrictions) ||
		om.TextLimit != nm.TextLimit || om.Workers != nm.Workers || om.DefaultFrom != nm.DefaultFrom {
		changed = append(changed, "mesh")
		attrs = append(attrs,
			logx.Int("mesh.channels", len(nm.Channels)),
			logx.Int("mesh.restrictions", len(nm.Restrictions)),
			logx.Int("mesh.text_limit", nm.TextLimit),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.max_per_user", newCfg.Scheduler.MaxPerUser),
		)
	}

	oEx, nEx := derefExecutor(oldCfg.Executor), derefExecutor(newCfg.Executor)
	if !reflect.DeepEqual(oEx, nEx) {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.String("executor.timeout", strings.TrimSpace(nEx.Timeout)),
			logx.Any("executor.rate_per_sec", nEx.RatePerSec),
			logx.Int("executor.burst", nEx.Burst),
		)
	}

	oSt, nSt := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oSt != nSt {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nSt.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nSt.Path) != ""),
		)
	}

	if oldCfg.API != newCfg.API {
		na := newCfg.API
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", na.Enabled),
			logx.String("api.addr", strings.TrimSpace(na.Addr)),
			logx.Bool("api.token_set", strings.TrimSpace(na.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart reports which of the changed sections are not applied live.
func NeedsRestart(sections []string) []string {
	var out []string
	for _, s := range sections {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func derefExecutor(e *ExecutorConfig) ExecutorConfig {
	if e == nil {
		return ExecutorConfig{}
	}
	return *e
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
