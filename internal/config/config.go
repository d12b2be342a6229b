// Package config loads Mason's two YAML configuration documents
// (config.yaml and providers.yaml/.json) with the same dot-path Get
// semantics and search order as the original implementation, using
// gopkg.in/yaml.v3 the way the teacher's framework consumes it elsewhere
// in the corpus.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the parsed "mason" document plus the providers document.
type Config struct {
	raw       map[string]interface{}
	providers []map[string]interface{}
}

// Load finds and parses config.yaml (search order: configPath if
// non-empty, then project-local ./config.yaml, /opt/mason/config.yaml,
// $HOME/.mason/config.yaml) and the adjacent providers document. A
// missing config.yaml is a fatal startup error; a missing providers
// document yields an empty provider list.
func Load(configPath string) (*Config, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	raw, _ := doc["mason"].(map[string]interface{})
	if raw == nil {
		raw = map[string]interface{}{}
	}

	providers := loadProviders(filepath.Dir(path))

	return &Config{raw: raw, providers: providers}, nil
}

func resolveConfigPath(configPath string) (string, error) {
	candidates := []string{}
	if configPath != "" {
		candidates = append(candidates, configPath)
	}
	candidates = append(candidates, "./config.yaml", "/opt/mason/config.yaml")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".mason", "config.yaml"))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("config: config.yaml not found in any of %v", candidates)
}

func loadProviders(dir string) []map[string]interface{} {
	for _, name := range []string{"providers.yaml", "providers.json"} {
		for _, base := range []string{dir, "/opt/mason"} {
			path := filepath.Join(base, name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}

			var doc struct {
				Providers []map[string]interface{} `yaml:"providers" json:"providers"`
			}
			if strings.HasSuffix(name, ".json") {
				if err := json.Unmarshal(data, &doc); err != nil {
					continue
				}
			} else {
				if err := yaml.Unmarshal(data, &doc); err != nil {
					continue
				}
			}
			return doc.Providers
		}
	}
	return nil
}

// Get resolves a dot-path key (e.g. "devbacklog.api_url") against the
// parsed mason document, returning def if any segment is missing. A
// MASON_<KEY> environment variable (dots replaced with underscores,
// upper-cased) takes precedence over the document when set.
func (c *Config) Get(key string, def interface{}) interface{} {
	if envVal, ok := os.LookupEnv(envKey(key)); ok {
		return envVal
	}

	var cur interface{} = c.raw
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return def
		}
		v, ok := m[part]
		if !ok {
			return def
		}
		cur = v
	}
	return cur
}

func envKey(dotPath string) string {
	return "MASON_" + strings.ToUpper(strings.ReplaceAll(dotPath, ".", "_"))
}

func (c *Config) getString(key, def string) string {
	v := c.Get(key, def)
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func (c *Config) getInt(key string, def int) int {
	v := c.Get(key, def)
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

// DevBacklogAPIURL is devbacklog.api_url, default http://localhost:8485/api.
func (c *Config) DevBacklogAPIURL() string {
	return c.getString("devbacklog.api_url", "http://localhost:8485/api")
}

// QAQueueAPIURL is qaqueue.api_url, default http://localhost:8008/api.
func (c *Config) QAQueueAPIURL() string {
	return c.getString("qaqueue.api_url", "http://localhost:8008/api")
}

// PollInterval is devbacklog.poll_interval_seconds, default 60s.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.getInt("devbacklog.poll_interval_seconds", 60)) * time.Second
}

// MaxTasksPerStory is decomposition.max_tasks_per_story, default 10.
func (c *Config) MaxTasksPerStory() int {
	return c.getInt("decomposition.max_tasks_per_story", 10)
}

// DefaultMaxAttempts is decomposition.default_max_attempts, default 3.
func (c *Config) DefaultMaxAttempts() int {
	return c.getInt("decomposition.default_max_attempts", 3)
}

// SelectionStrategy is provider_selection.strategy, default "smart".
func (c *Config) SelectionStrategy() string {
	return c.getString("provider_selection.strategy", "smart")
}

// RateLimitCooldown is provider_selection.rate_limit_cooldown seconds,
// default 300s.
func (c *Config) RateLimitCooldown() time.Duration {
	return time.Duration(c.getInt("provider_selection.rate_limit_cooldown", 300)) * time.Second
}

// HighLoadThreshold is provider_selection.high_load_threshold, default 50.
func (c *Config) HighLoadThreshold() int {
	return c.getInt("provider_selection.high_load_threshold", 50)
}

// ArtifactsRoot is artifacts.root, default "./artifacts".
func (c *Config) ArtifactsRoot() string {
	return c.getString("artifacts.root", "./artifacts")
}

// LogLevel is logging.level, default "info".
func (c *Config) LogLevel() string {
	return c.getString("logging.level", "info")
}

// LogFormat is logging.format, default "auto".
func (c *Config) LogFormat() string {
	return c.getString("logging.format", "auto")
}

// TelemetryEnabled is telemetry.enabled, default false.
func (c *Config) TelemetryEnabled() bool {
	v := c.Get("telemetry.enabled", false)
	if s, ok := v.(string); ok {
		b, err := strconv.ParseBool(s)
		return err == nil && b
	}
	b, ok := v.(bool)
	return ok && b
}

// MetricsAddr is metrics.listen_addr, default ":9090".
func (c *Config) MetricsAddr() string {
	return c.getString("metrics.listen_addr", ":9090")
}

// Providers returns the full providers document, unfiltered.
func (c *Config) Providers() []map[string]interface{} {
	return c.providers
}

// EnabledProviders returns Providers() filtered to enabled=true (or
// absent, which defaults to enabled).
func (c *Config) EnabledProviders() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(c.providers))
	for _, p := range c.providers {
		if enabled, ok := p["enabled"].(bool); ok && !enabled {
			continue
		}
		out = append(out, p)
	}
	return out
}
