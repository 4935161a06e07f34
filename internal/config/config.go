// Package config loads the broker's plain key-value configuration file:
// one `key value` pair per line, `#` starts a comment, blank lines are
// ignored. Unrecognized keys are preserved and ignored by the core.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LogVerbosity is the threshold for log emission.
type LogVerbosity string

const (
	LogDebug   LogVerbosity = "debug"
	LogInfo    LogVerbosity = "info"
	LogWarning LogVerbosity = "warning"
	LogError   LogVerbosity = "error"
)

// Config holds every key this repository recognizes. log_verbosity is the
// only key the broker core itself reads; the rest belong to the CLI/process
// collaborator layer (cmd/tera-server) and are ignored by the core.
type Config struct {
	LogVerbosity LogVerbosity

	Host                    string
	Port                    int
	MetricsEnabled          bool
	MetricsAddr             string
	SnapshotPath            string
	SnapshotIntervalSeconds int

	// raw holds every key-value pair as read, including ones this struct
	// doesn't surface as a typed field, so callers can inspect additional
	// keys without the core needing to know about them.
	raw map[string]string
}

// Default returns a Config populated with the spec's defaults.
func Default() *Config {
	return &Config{
		LogVerbosity:            LogDebug,
		Host:                    "127.0.0.1",
		Port:                    16768,
		MetricsEnabled:          false,
		MetricsAddr:             "127.0.0.1:9090",
		SnapshotIntervalSeconds: 60,
		raw:                     map[string]string{},
	}
}

// Load reads and parses the config file at path, overlaying recognized
// keys onto the defaults. A missing file is not an error; it yields the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := splitKeyValue(line)
		if !ok {
			return nil, fmt.Errorf("config: %s:%d: malformed line %q", path, lineNo, line)
		}
		cfg.raw[key] = value
		cfg.apply(key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

func splitKeyValue(line string) (key, value string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], strings.Join(fields[1:], " "), true
}

func (c *Config) apply(key, value string) {
	switch key {
	case "log_verbosity":
		switch LogVerbosity(value) {
		case LogDebug, LogInfo, LogWarning, LogError:
			c.LogVerbosity = LogVerbosity(value)
		}
	case "host":
		c.Host = value
	case "port":
		if n, err := strconv.Atoi(value); err == nil {
			c.Port = n
		}
	case "metrics_enabled":
		c.MetricsEnabled = value == "true" || value == "1"
	case "metrics_addr":
		c.MetricsAddr = value
	case "snapshot_path":
		c.SnapshotPath = value
	case "snapshot_interval_seconds":
		if n, err := strconv.Atoi(value); err == nil {
			c.SnapshotIntervalSeconds = n
		}
	}
}

// Raw returns the value associated with key as it appeared in the file, for
// collaborator keys this struct does not surface as a typed field.
func (c *Config) Raw(key string) (string, bool) {
	v, ok := c.raw[key]
	return v, ok
}

// Validate checks the fields the core and cmd/tera-server both rely on.
func (c *Config) Validate() error {
	switch c.LogVerbosity {
	case LogDebug, LogInfo, LogWarning, LogError:
	default:
		return fmt.Errorf("config: invalid log_verbosity %q", c.LogVerbosity)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.SnapshotIntervalSeconds <= 0 {
		return fmt.Errorf("config: invalid snapshot_interval_seconds %d", c.SnapshotIntervalSeconds)
	}
	return nil
}
