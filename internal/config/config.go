package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the watchdog.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Targets  []TargetConfig `yaml:"targets" validate:"min=1,unique=Name,dive"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Notify   NotifyConfig   `yaml:"notify"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the admin gRPC listener and the HTTP status/metrics
// listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// WatchdogConfig controls probe scheduling and the recovery budget.
type WatchdogConfig struct {
	ProbeInterval         time.Duration `yaml:"probeInterval" validate:"gt=0"`
	ProbeTimeout          time.Duration `yaml:"probeTimeout" validate:"gt=0"`
	MaxRecoveryAttempts   int           `yaml:"maxRecoveryAttempts" validate:"gte=1"`
	RecoveryRetryDelay    time.Duration `yaml:"recoveryRetryDelay" validate:"gte=0"`
	ActionTimeout         time.Duration `yaml:"actionTimeout" validate:"gt=0"`
	PoolAlertThresholdPct float64       `yaml:"poolAlertThresholdPct" validate:"gte=0,lte=100"`
}

// TargetConfig describes one monitored resource: how to probe it, how to
// restart it, and which persistent state to snapshot before doing so.
type TargetConfig struct {
	Name string `yaml:"name" validate:"required"`
	Kind string `yaml:"kind" validate:"required,oneof=http tcp redis exec"`

	// http targets probe URL; tcp and redis targets dial Address; exec
	// targets run Command and compare trimmed stdout against Expect.
	URL     string   `yaml:"url" validate:"required_if=Kind http"`
	Address string   `yaml:"address" validate:"required_if=Kind tcp,required_if=Kind redis"`
	Command []string `yaml:"command" validate:"required_if=Kind exec"`
	Expect  string   `yaml:"expect"`

	// Redis probe credentials.
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`

	RestartCommand []string `yaml:"restartCommand" validate:"required,min=1"`

	// SnapshotResource is the path handed to the snapshot tool before the
	// first restart. Empty means the target has no state worth dumping and
	// the snapshot step records a skip instead.
	SnapshotResource string `yaml:"snapshotResource"`
}

// SnapshotConfig controls the dump tool and artifact retention.
type SnapshotConfig struct {
	Dir           string        `yaml:"dir"`
	Command       []string      `yaml:"command"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxAge        time.Duration `yaml:"maxAge" validate:"gt=0"`
	SweepInterval time.Duration `yaml:"sweepInterval" validate:"gt=0"`
	MinKeep       int           `yaml:"minKeep" validate:"gte=0"`
}

// NotifyConfig controls operator alerting.
type NotifyConfig struct {
	Transport          string        `yaml:"transport" validate:"oneof=log telegram"`
	Destination        string        `yaml:"destination"`
	TelegramBaseURL    string        `yaml:"telegramBaseURL"`
	TelegramToken      string        `yaml:"telegramToken"`
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	OnRecovery         bool          `yaml:"onRecovery"`
	EscalationCooldown time.Duration `yaml:"escalationCooldown" validate:"gte=0"`
}

// AuditConfig controls the append-only decision log.
type AuditConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

var validate = validator.New()

// Load initialises Config from a YAML file, applies environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("WATCHDOG_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags plus the cross-field rules that tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Notify.Transport == "telegram" {
		if c.Notify.Destination == "" {
			return fmt.Errorf("validate config: telegram transport requires a destination chat id")
		}
		if c.Notify.TelegramToken == "" {
			return fmt.Errorf("validate config: telegram transport requires a bot token")
		}
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Watchdog: WatchdogConfig{
			ProbeInterval:         60 * time.Second,
			ProbeTimeout:          10 * time.Second,
			MaxRecoveryAttempts:   3,
			RecoveryRetryDelay:    30 * time.Second,
			ActionTimeout:         60 * time.Second,
			PoolAlertThresholdPct: 80,
		},
		Snapshot: SnapshotConfig{
			Dir:           "backups",
			Command:       []string{"cp", "-r"},
			Timeout:       5 * time.Minute,
			MaxAge:        30 * 24 * time.Hour,
			SweepInterval: 24 * time.Hour,
			MinKeep:       3,
		},
		Notify: NotifyConfig{
			Transport:          "log",
			TelegramBaseURL:    "https://api.telegram.org",
			Timeout:            10 * time.Second,
			EscalationCooldown: 15 * time.Minute,
		},
		Audit:   AuditConfig{Path: "watchdog-audit.jsonl"},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WATCHDOG_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("WATCHDOG_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("WATCHDOG_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watchdog.ProbeInterval = d
		}
	}
	if v := os.Getenv("WATCHDOG_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watchdog.ProbeTimeout = d
		}
	}
	if v := os.Getenv("WATCHDOG_MAX_RECOVERY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watchdog.MaxRecoveryAttempts = n
		}
	}
	if v := os.Getenv("WATCHDOG_RECOVERY_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watchdog.RecoveryRetryDelay = d
		}
	}
	if v := os.Getenv("WATCHDOG_ACTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watchdog.ActionTimeout = d
		}
	}
	if v := os.Getenv("WATCHDOG_POOL_ALERT_THRESHOLD_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Watchdog.PoolAlertThresholdPct = f
		}
	}
	if v := os.Getenv("WATCHDOG_SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.Dir = v
	}
	if v := os.Getenv("WATCHDOG_SNAPSHOT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Snapshot.Timeout = d
		}
	}
	if v := os.Getenv("WATCHDOG_SNAPSHOT_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Snapshot.MaxAge = d
		}
	}
	if v := os.Getenv("WATCHDOG_SNAPSHOT_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Snapshot.SweepInterval = d
		}
	}
	if v := os.Getenv("WATCHDOG_SNAPSHOT_MIN_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Snapshot.MinKeep = n
		}
	}
	if v := os.Getenv("WATCHDOG_NOTIFY_TRANSPORT"); v != "" {
		cfg.Notify.Transport = v
	}
	if v := os.Getenv("WATCHDOG_NOTIFY_DESTINATION"); v != "" {
		cfg.Notify.Destination = v
	}
	if v := os.Getenv("WATCHDOG_TELEGRAM_BASE_URL"); v != "" {
		cfg.Notify.TelegramBaseURL = v
	}
	if v := os.Getenv("WATCHDOG_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("WATCHDOG_NOTIFY_ON_RECOVERY"); v != "" {
		cfg.Notify.OnRecovery = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("WATCHDOG_ESCALATION_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Notify.EscalationCooldown = d
		}
	}
	if v := os.Getenv("WATCHDOG_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("WATCHDOG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WATCHDOG_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
