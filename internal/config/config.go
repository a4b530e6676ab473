package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"filemutex/internal/filesystem"
)

// Flag names shared by the command line and ApplyFile.
const (
	FlagLockFile     = "lock-file"
	FlagWorkers      = "workers"
	FlagCalls        = "calls"
	FlagPollInterval = "poll-interval"
	FlagHold         = "hold"
	FlagTimeout      = "timeout"
	FlagStaleAfter   = "stale-after"
	FlagNoColor      = "no-color"
	FlagVerbose      = "verbose"
)

// Config holds all configurable values for a run.
type Config struct {
	// LockFile is the persisted lock shared by all participants.
	LockFile string
	// Label identifies this process in log output.
	Label string
	// Workers is the size of the caller pool.
	Workers int
	// Calls is the total number of critical sections the pool runs.
	Calls int
	// PollInterval is the wait between reads of a busy lock.
	PollInterval time.Duration
	// HoldDuration is the simulated length of each critical section.
	HoldDuration time.Duration
	// Timeout bounds each acquire; zero waits forever.
	Timeout time.Duration
	// StaleAfter lets a waiter take over a lock Held for longer; zero disables.
	StaleAfter time.Duration
	NoColor    bool
	Verbose    bool
}

// Default returns the configuration that mirrors the classic demo: two workers
// sharing twenty calls on lock.txt, one-second polls and one-second sections.
func Default() *Config {
	return &Config{
		LockFile:     "lock.txt",
		Workers:      2,
		Calls:        20,
		PollInterval: time.Second,
		HoldDuration: time.Second,
	}
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if c.LockFile == "" {
		return fmt.Errorf("lock file is required")
	}
	dir := filepath.Dir(c.LockFile)
	if err := filesystem.CheckDirectoryIsWritable(dir); err != nil {
		return fmt.Errorf("lock file directory is not usable: %w", err)
	}

	if c.Workers < 1 || c.Workers > 100 {
		return fmt.Errorf("workers must be between 1 and 100")
	}

	if c.Calls < 1 || c.Calls > 10000 {
		return fmt.Errorf("calls must be between 1 and 10000")
	}

	if c.PollInterval < 10*time.Millisecond || c.PollInterval > time.Minute {
		return fmt.Errorf("poll interval must be between 10ms and 1m")
	}

	if c.HoldDuration < 0 || c.HoldDuration > time.Hour {
		return fmt.Errorf("hold must be between 0 and 1h")
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	if c.StaleAfter < 0 {
		return fmt.Errorf("stale-after must not be negative")
	}
	if c.StaleAfter > 0 && c.StaleAfter <= c.HoldDuration {
		return fmt.Errorf("stale-after must be longer than hold")
	}

	return nil
}

// Duration is a time.Duration written as a string such as "250ms" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// FileConfig is the TOML configuration file. Absent keys leave the
// corresponding Config field untouched.
type FileConfig struct {
	LockFile     string    `toml:"lock_file"`
	Workers      *int      `toml:"workers"`
	Calls        *int      `toml:"calls"`
	PollInterval *Duration `toml:"poll_interval"`
	Hold         *Duration `toml:"hold"`
	Timeout      *Duration `toml:"timeout"`
	StaleAfter   *Duration `toml:"stale_after"`
	NoColor      *bool     `toml:"no_color"`
	Verbose      *bool     `toml:"verbose"`
}

// LoadFile reads a TOML configuration file. Unknown keys are an error so
// that typos do not silently fall back to defaults.
func LoadFile(path string) (*FileConfig, error) {
	var fc FileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys in config %s: %s", path, strings.Join(keys, ", "))
	}
	return &fc, nil
}

// ApplyFile copies the values set in fc into c. Fields whose flag was set on
// the command line (changed reports true) keep the flag value.
func (c *Config) ApplyFile(fc *FileConfig, changed func(flag string) bool) {
	if fc == nil {
		return
	}
	if changed == nil {
		changed = func(string) bool { return false }
	}
	if fc.LockFile != "" && !changed(FlagLockFile) {
		c.LockFile = fc.LockFile
	}
	if fc.Workers != nil && !changed(FlagWorkers) {
		c.Workers = *fc.Workers
	}
	if fc.Calls != nil && !changed(FlagCalls) {
		c.Calls = *fc.Calls
	}
	if fc.PollInterval != nil && !changed(FlagPollInterval) {
		c.PollInterval = fc.PollInterval.Duration
	}
	if fc.Hold != nil && !changed(FlagHold) {
		c.HoldDuration = fc.Hold.Duration
	}
	if fc.Timeout != nil && !changed(FlagTimeout) {
		c.Timeout = fc.Timeout.Duration
	}
	if fc.StaleAfter != nil && !changed(FlagStaleAfter) {
		c.StaleAfter = fc.StaleAfter.Duration
	}
	if fc.NoColor != nil && !changed(FlagNoColor) {
		c.NoColor = *fc.NoColor
	}
	if fc.Verbose != nil && !changed(FlagVerbose) {
		c.Verbose = *fc.Verbose
	}
}
