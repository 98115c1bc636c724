// Package config handles loading and validating taskgrid configuration.
// Values come from a global config file, a project taskgrid.yaml layered on
// top, and TASKGRID_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/marcus/taskgrid/internal/db"
	"github.com/marcus/taskgrid/internal/logging"
	"github.com/marcus/taskgrid/internal/swarm"
	"github.com/marcus/taskgrid/internal/task"
)

// ProjectFile is the per-directory config file name.
const ProjectFile = "taskgrid.yaml"

// EnvPrefix prefixes environment overrides, e.g. TASKGRID_DB_PATH.
const EnvPrefix = "TASKGRID"

// Validation errors.
var (
	ErrInvalidLogLevel   = errors.New("invalid log level")
	ErrInvalidLogFormat  = errors.New("invalid log format")
	ErrNoAgents          = errors.New("at least one agent is required")
	ErrInvalidAgent      = errors.New("invalid agent id")
	ErrDuplicateAgent    = errors.New("duplicate agent id")
	ErrInvalidSwarm      = swarm.ErrInvalidSwarm
	ErrInvalidWatermarks = errors.New("swarm thresholds must satisfy 0 <= low_water < high_water <= 100")
	ErrInvalidCron       = errors.New("invalid cron expression")
	ErrInvalidBuffer     = errors.New("event buffer must not be negative")
)

// Config holds all taskgrid configuration.
type Config struct {
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
	Agents  []string      `mapstructure:"agents"`
	Swarms  []SwarmConfig `mapstructure:"swarms"`
	Swarm   SwarmLimits   `mapstructure:"swarm"`
	Events  EventsConfig  `mapstructure:"events"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// DBConfig locates the task database.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// SwarmConfig defines a named group of agents.
type SwarmConfig struct {
	Name                 string   `mapstructure:"name"`
	Agents               []string `mapstructure:"agents"`
	OptimalTasksPerAgent int      `mapstructure:"optimal_tasks_per_agent"`
}

// SwarmLimits are the utilisation thresholds, in percent.
type SwarmLimits struct {
	HighWater int `mapstructure:"high_water"`
	LowWater  int `mapstructure:"low_water"`
}

// EventsConfig controls event broadcasting. An empty NATSURL disables NATS;
// events are then only logged.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Buffer        int    `mapstructure:"buffer"`
}

// WatchConfig drives the long-running watch command.
type WatchConfig struct {
	Manifest    string `mapstructure:"manifest"`
	ReportCron  string `mapstructure:"report_cron"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// GlobalConfigPath returns the user-level config file location.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "taskgrid", "config.yaml")
	}
	return filepath.Join(home, ".config", "taskgrid", "config.yaml")
}

// Load reads configuration for the current directory.
func Load() (*Config, error) {
	return LoadFromPaths(".", GlobalConfigPath())
}

// LoadFile reads configuration from one explicit file (plus environment).
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

// LoadFromPaths reads the global config at globalPath and merges
// projectDir/taskgrid.yaml over it. Missing files are skipped.
func LoadFromPaths(projectDir, globalPath string) (*Config, error) {
	v := newViper()

	if fileExists(globalPath) {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	projectPath := filepath.Join(projectDir, ProjectFile)
	if fileExists(projectPath) {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read project config: %w", err)
		}
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DB.Path = db.ExpandPath(cfg.DB.Path)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("db.path", d.DB.Path)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.path", d.Logging.Path)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.retention_days", d.Logging.RetentionDays)
	v.SetDefault("agents", d.Agents)
	v.SetDefault("swarm.high_water", d.Swarm.HighWater)
	v.SetDefault("swarm.low_water", d.Swarm.LowWater)
	v.SetDefault("events.nats_url", d.Events.NATSURL)
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	v.SetDefault("events.buffer", d.Events.Buffer)
	v.SetDefault("watch.manifest", d.Watch.Manifest)
	v.SetDefault("watch.report_cron", d.Watch.ReportCron)
	v.SetDefault("watch.metrics_addr", d.Watch.MetricsAddr)
}

// Default returns the built-in configuration.
func Default() Config {
	lc := logging.DefaultConfig()
	return Config{
		DB: DBConfig{Path: db.DefaultPath()},
		Logging: LoggingConfig{
			Level:         lc.Level,
			Path:          "~/.local/share/taskgrid/logs",
			Format:        lc.Format,
			RetentionDays: lc.RetentionDays,
		},
		Agents: []string{"alpha", "beta", "gamma", "delta"},
		Swarm: SwarmLimits{
			HighWater: swarm.DefaultHighWater,
			LowWater:  swarm.DefaultLowWater,
		},
		Events: EventsConfig{
			SubjectPrefix: "taskgrid.events",
			Buffer:        256,
		},
		Watch: WatchConfig{
			ReportCron:  "*/15 * * * *",
			MetricsAddr: "127.0.0.1:9464",
		},
	}
}

// Validate checks the configuration for consistency.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, cfg.Logging.Format)
	}

	roster, err := cfg.Roster()
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(cfg.Swarms))
	for _, s := range cfg.SwarmList() {
		if err := s.Validate(roster); err != nil {
			return err
		}
		if names[s.Name] {
			return fmt.Errorf("%w: swarm %s defined twice", ErrInvalidSwarm, s.Name)
		}
		names[s.Name] = true
	}

	if cfg.Swarm.LowWater < 0 || cfg.Swarm.HighWater > 100 || cfg.Swarm.LowWater >= cfg.Swarm.HighWater {
		return fmt.Errorf("%w: low=%d high=%d", ErrInvalidWatermarks, cfg.Swarm.LowWater, cfg.Swarm.HighWater)
	}
	if cfg.Watch.ReportCron != "" {
		if _, err := cron.ParseStandard(cfg.Watch.ReportCron); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidCron, cfg.Watch.ReportCron, err)
		}
	}
	if cfg.Events.Buffer < 0 {
		return ErrInvalidBuffer
	}
	return nil
}

// Roster builds the agent roster.
func (c *Config) Roster() (task.Roster, error) {
	if len(c.Agents) == 0 {
		return task.Roster{}, ErrNoAgents
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if seen[a] {
			return task.Roster{}, fmt.Errorf("%w: %s", ErrDuplicateAgent, a)
		}
		seen[a] = true
	}
	roster, err := task.NewRoster(c.Agents...)
	if err != nil {
		return task.Roster{}, fmt.Errorf("%w: %v", ErrInvalidAgent, err)
	}
	return roster, nil
}

// SwarmList converts the configured swarms.
func (c *Config) SwarmList() []swarm.Swarm {
	out := make([]swarm.Swarm, 0, len(c.Swarms))
	for _, s := range c.Swarms {
		out = append(out, swarm.Swarm{
			Name:                 s.Name,
			Agents:               append([]string(nil), s.Agents...),
			OptimalTasksPerAgent: s.OptimalTasksPerAgent,
		})
	}
	return out
}

// LoggerConfig returns the settings in the form logging.New expects.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:         c.Logging.Level,
		Path:          c.Logging.Path,
		Format:        c.Logging.Format,
		RetentionDays: c.Logging.RetentionDays,
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
