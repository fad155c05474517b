package config

import (
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/domain"
)

const (
	DefaultCheckInterval      = 30 * time.Second
	DefaultToolTimeout        = 15 * time.Second
	DefaultCheckTimeout       = 10 // seconds
	DefaultExpectedStatus     = 200
	DefaultRestartDelay       = 5 // seconds
	DefaultMaxRestartAttempts = 3
	DefaultRestartWindow      = 10 * time.Minute
	DefaultAppcmdPath         = `%windir%\system32\inetsrv\appcmd.exe`
	DefaultListen             = "127.0.0.1:8090"
	DefaultRefreshRateLimit   = time.Second
)

// Config is the top-level configuration file structure.
// A loaded Config is an immutable snapshot: reloads replace it as a whole.
type Config struct {
	Monitor  MonitorOptions  `yaml:"monitor" json:"monitor"`
	Control  ControlOptions  `yaml:"control" json:"control"`
	Sites    []SiteConfig    `yaml:"sites" json:"sites"`
	AppPools []AppPoolConfig `yaml:"app_pools" json:"app_pools"`
}

// MonitorOptions represents engine-level configuration
type MonitorOptions struct {
	CheckInterval time.Duration `yaml:"check_interval,omitempty" json:"check_interval,omitempty"`
	// AutoRestart is the global switch on top of the per-pool flag
	AutoRestart        *bool         `yaml:"auto_restart,omitempty" json:"auto_restart,omitempty"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts,omitempty" json:"max_restart_attempts,omitempty"`
	RestartWindow      time.Duration `yaml:"restart_window,omitempty" json:"restart_window,omitempty"`
	AppcmdPath         string        `yaml:"appcmd_path,omitempty" json:"appcmd_path,omitempty"`
	ToolTimeout        time.Duration `yaml:"tool_timeout,omitempty" json:"tool_timeout,omitempty"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
	LogLevel           string        `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	LogFormat          string        `yaml:"log_format,omitempty" json:"log_format,omitempty"`
	LogFile            string        `yaml:"log_file,omitempty" json:"log_file,omitempty"`
}

// ControlOptions configures the operator API
type ControlOptions struct {
	Listen           string        `yaml:"listen,omitempty" json:"listen,omitempty"`
	RefreshRateLimit time.Duration `yaml:"refresh_rate_limit,omitempty" json:"refresh_rate_limit,omitempty"`
}

// SiteConfig describes one monitored web site
type SiteConfig struct {
	Name    string `yaml:"name" json:"name"`
	URL     string `yaml:"url,omitempty" json:"url,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"` // Pointer to distinguish unset from false
	// CheckTimeout is in seconds
	CheckTimeout   int `yaml:"check_timeout,omitempty" json:"check_timeout,omitempty"`
	ExpectedStatus int `yaml:"expected_status,omitempty" json:"expected_status,omitempty"`
}

func (s SiteConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func (s SiteConfig) Timeout() time.Duration {
	return time.Duration(s.CheckTimeout) * time.Second
}

// AppPoolConfig describes one monitored application pool
type AppPoolConfig struct {
	Name        string `yaml:"name" json:"name"`
	Enabled     *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	AutoRestart *bool  `yaml:"auto_restart,omitempty" json:"auto_restart,omitempty"`
	// RestartDelay is in seconds; unset means DefaultRestartDelay, 0 restarts immediately
	RestartDelay *int `yaml:"restart_delay,omitempty" json:"restart_delay,omitempty"`
}

func (p AppPoolConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func (p AppPoolConfig) IsAutoRestart() bool {
	return p.AutoRestart == nil || *p.AutoRestart
}

func (p AppPoolConfig) Delay() time.Duration {
	if p.RestartDelay == nil {
		return DefaultRestartDelay * time.Second
	}
	return time.Duration(*p.RestartDelay) * time.Second
}

func (m MonitorOptions) IsAutoRestart() bool {
	return m.AutoRestart == nil || *m.AutoRestart
}

// Keys returns entity keys in configuration order: sites first, then app pools
func (c *Config) Keys() []domain.EntityKey {
	keys := make([]domain.EntityKey, 0, len(c.Sites)+len(c.AppPools))
	for _, site := range c.Sites {
		keys = append(keys, domain.EntityKey{Kind: domain.EntityKindSite, Name: site.Name})
	}
	for _, pool := range c.AppPools {
		keys = append(keys, domain.EntityKey{Kind: domain.EntityKindAppPool, Name: pool.Name})
	}
	return keys
}

func (c *Config) Site(name string) (SiteConfig, bool) {
	for _, site := range c.Sites {
		if site.Name == name {
			return site, true
		}
	}
	return SiteConfig{}, false
}

func (c *Config) AppPool(name string) (AppPoolConfig, bool) {
	for _, pool := range c.AppPools {
		if pool.Name == name {
			return pool, true
		}
	}
	return AppPoolConfig{}, false
}

// Contains reports whether the entity is configured (enabled or not)
func (c *Config) Contains(key domain.EntityKey) bool {
	switch key.Kind {
	case domain.EntityKindSite:
		_, ok := c.Site(key.Name)
		return ok
	case domain.EntityKindAppPool:
		_, ok := c.AppPool(key.Name)
		return ok
	}
	return false
}

// Bool is a helper for building configs in code
func Bool(v bool) *bool {
	return &v
}

func Int(v int) *int {
	return &v
}
