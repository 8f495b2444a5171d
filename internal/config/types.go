package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "30s", "1m").
type Config struct {
	Mesh      MeshConfig      `json:"mesh"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Executor and Storage fall back to defaults when omitted.
	Executor *ExecutorConfig `json:"executor,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`

	API APIConfig `json:"api,omitempty"`
}

// MeshConfig selects the radio transport and names its channels.
//
// Example:
//
//	mesh:
//	  driver: console
//	  channels: ["LongFast", "iberia"]
//	  restrictions: { ping: iberia }
type MeshConfig struct {
	Driver string `json:"driver"`
	// Channels maps channel index to name; index 0 is the primary channel.
	Channels []string `json:"channels,omitempty"`
	// Restrictions limits a command (without "/") to one channel name.
	Restrictions map[string]string `json:"restrictions,omitempty"`
	// TextLimit is the max bytes per radio packet; longer replies are split.
	TextLimit int `json:"text_limit,omitempty"`
	// DefaultFrom is the sender id for console lines without one.
	DefaultFrom string `json:"default_from,omitempty"`
	Workers     int    `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the dispatch loop and the registry quota.
//
// The dispatch loop only runs with enabled: true; a config without a
// scheduler section still accepts /schedule commands but never fires them.
// Defaults: timezone local, max_per_user 5, fallback_delay 60s.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is an IANA name; empty or "local" uses the host zone.
	Timezone      string `json:"timezone,omitempty"`
	MaxPerUser    int    `json:"max_per_user,omitempty"`
	FallbackDelay string `json:"fallback_delay,omitempty"`
}

// ExecutorConfig controls how due schedules are delivered.
//
// Defaults: timeout 30s, rate_per_sec 1, burst 3, reminder_prefix "⏰ ".
type ExecutorConfig struct {
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	// ReminderPrefix is a pointer so an explicit "" disables the prefix.
	ReminderPrefix *string `json:"reminder_prefix,omitempty"`
}

// StorageConfig controls schedule persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/meshmate.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// APIConfig controls the HTTP API.
//
// Binding to a non-loopback address needs a token or allow_insecure.
type APIConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
