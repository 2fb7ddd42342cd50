package config

import (
	"dirmirror/internal/matcher"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const dirName = ".dirmirror"

type Config struct {
	Source  string   `mapstructure:"source"`
	Target  string   `mapstructure:"target"`
	Exclude []string `mapstructure:"exclude"`

	IgnoreCreation  bool `mapstructure:"ignore_creation"`
	IgnoreTempFiles bool `mapstructure:"ignore_temp_files"`
	IDEMode         bool `mapstructure:"ide_mode"`
	Statistics      bool `mapstructure:"statistics"`
	Trace           bool `mapstructure:"trace"`
	Diffs           bool `mapstructure:"diffs"`

	Debounce      time.Duration `mapstructure:"debounce"`
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	ChunkSize     int           `mapstructure:"chunk_size"`
	DiffMaxBytes  int64         `mapstructure:"diff_max_bytes"`

	DaemonPort    int           `mapstructure:"daemon_port"`
	DBPath        string        `mapstructure:"db_path"`
	History       bool          `mapstructure:"history"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

var Default = Config{
	Exclude:       []string{},
	Diffs:         true,
	Debounce:      300 * time.Millisecond,
	Workers:       4,
	QueueSize:     256,
	RetryAttempts: 3,
	RetryBackoff:  50 * time.Millisecond,
	ChunkSize:     1 << 20,
	DiffMaxBytes:  1 << 20,
	DaemonPort:    9101,
	DBPath:        "history.db",
	History:       true,
	StatsInterval: 30 * time.Second,
}

// Dir returns ~/.dirmirror, creating it when missing.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}

	dir := filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}

	return dir, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("source", "")
	v.SetDefault("target", "")
	v.SetDefault("exclude", Default.Exclude)
	v.SetDefault("ignore_creation", Default.IgnoreCreation)
	v.SetDefault("ignore_temp_files", Default.IgnoreTempFiles)
	v.SetDefault("ide_mode", Default.IDEMode)
	v.SetDefault("statistics", Default.Statistics)
	v.SetDefault("trace", Default.Trace)
	v.SetDefault("diffs", Default.Diffs)
	v.SetDefault("debounce", Default.Debounce)
	v.SetDefault("workers", Default.Workers)
	v.SetDefault("queue_size", Default.QueueSize)
	v.SetDefault("retry_attempts", Default.RetryAttempts)
	v.SetDefault("retry_backoff", Default.RetryBackoff)
	v.SetDefault("chunk_size", Default.ChunkSize)
	v.SetDefault("diff_max_bytes", Default.DiffMaxBytes)
	v.SetDefault("daemon_port", Default.DaemonPort)
	v.SetDefault("db_path", Default.DBPath)
	v.SetDefault("history", Default.History)
	v.SetDefault("stats_interval", Default.StatsInterval)
}

// Load reads ~/.dirmirror/config.yaml and DIRMIRROR_* variables into the
// global viper instance, on top of whatever flags were bound to it.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	return LoadFrom(viper.GetViper(), dir)
}

func LoadFrom(v *viper.Viper, dir string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	SetDefaults(v)

	v.SetEnvPrefix("DIRMIRROR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.IDEMode {
		cfg.IgnoreTempFiles = true
	}

	if cfg.DBPath != "" && !filepath.IsAbs(cfg.DBPath) {
		cfg.DBPath = filepath.Join(dir, cfg.DBPath)
	}

	return &cfg, nil
}

// Validate checks what the mirror needs before it can start. Both roots
// must be existing directories and neither may contain the other.
func (c *Config) Validate() error {
	if c.Source == "" || c.Target == "" {
		return errors.New("source and target are required")
	}

	src, err := existingDir("source", c.Source)
	if err != nil {
		return err
	}
	dst, err := existingDir("target", c.Target)
	if err != nil {
		return err
	}

	if within(src, dst) || within(dst, src) {
		return fmt.Errorf("source %s and target %s must not be nested", src, dst)
	}

	if _, err := matcher.New(c.Exclude); err != nil {
		return err
	}

	if c.Workers <= 0 || c.QueueSize <= 0 || c.ChunkSize <= 0 {
		return errors.New("workers, queue_size and chunk_size must be positive")
	}

	c.Source = src
	c.Target = dst
	return nil
}

func existingDir(name, p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid %s path: %w", name, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%s directory not found: %w", name, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s %s is not a directory", name, abs)
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	return abs, nil
}

func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}
