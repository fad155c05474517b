package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/errors"

	"gopkg.in/yaml.v3"
)

// LoadConfigFromFile loads, defaults and validates a configuration file.
// Files ending in .json are decoded as JSON, everything else as YAML.
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config *Config
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		config, err = ParseJSON(data)
	} else {
		config, err = ParseYAML(data)
	}
	if err != nil {
		return nil, errors.NewValidationError("failed to parse configuration", err).WithContext("filename", filename)
	}

	SetDefaults(config)

	if err := ValidateConfig(config); err != nil {
		return nil, errors.NewValidationError("configuration validation failed", err).WithContext("filename", filename)
	}

	return config, nil
}

func ParseYAML(data []byte) (*Config, error) {
	var config Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		// An empty document is a valid, empty configuration
		if err == io.EOF {
			return &config, nil
		}
		return nil, err
	}
	return &config, nil
}

// legacyFile is the map-keyed JSON layout written by earlier monitor versions
type legacyFile struct {
	Websites          map[string]legacySite `json:"websites"`
	AppPools          map[string]legacyPool `json:"app_pools"`
	CheckInterval     int                   `json:"check_interval"` // seconds
	GlobalAutoRestart *bool                 `json:"global_auto_restart"`
}

type legacySite struct {
	URL            string `json:"url"`
	Enabled        *bool  `json:"enabled"`
	CheckTimeout   int    `json:"check_timeout"`
	ExpectedStatus int    `json:"expected_status"`
}

type legacyPool struct {
	Enabled      *bool `json:"enabled"`
	AutoRestart  *bool `json:"auto_restart"`
	RestartDelay *int  `json:"restart_delay"`
}

// ParseJSON decodes either the native layout or the legacy map-keyed layout.
// Legacy maps have no order, so entities are ordered by name.
func ParseJSON(data []byte) (*Config, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	_, hasWebsites := probe["websites"]
	pools := bytes.TrimSpace(probe["app_pools"])
	if !hasWebsites && !(len(pools) > 0 && pools[0] == '{') {
		var config Config
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, err
		}
		return &config, nil
	}

	var legacy legacyFile
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}

	config := &Config{}
	config.Monitor.CheckInterval = time.Duration(legacy.CheckInterval) * time.Second
	config.Monitor.AutoRestart = legacy.GlobalAutoRestart

	for _, name := range sortedKeys(legacy.Websites) {
		site := legacy.Websites[name]
		config.Sites = append(config.Sites, SiteConfig{
			Name:           name,
			URL:            site.URL,
			Enabled:        site.Enabled,
			CheckTimeout:   site.CheckTimeout,
			ExpectedStatus: site.ExpectedStatus,
		})
	}
	for _, name := range sortedKeys(legacy.AppPools) {
		pool := legacy.AppPools[name]
		config.AppPools = append(config.AppPools, AppPoolConfig{
			Name:         name,
			Enabled:      pool.Enabled,
			AutoRestart:  pool.AutoRestart,
			RestartDelay: pool.RestartDelay,
		})
	}
	return config, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetDefaults applies default values to unset fields
func SetDefaults(config *Config) {
	if config.Monitor.CheckInterval == 0 {
		config.Monitor.CheckInterval = DefaultCheckInterval
	}
	if config.Monitor.AutoRestart == nil {
		config.Monitor.AutoRestart = Bool(true)
	}
	if config.Monitor.MaxRestartAttempts == 0 {
		config.Monitor.MaxRestartAttempts = DefaultMaxRestartAttempts
	}
	if config.Monitor.RestartWindow == 0 {
		config.Monitor.RestartWindow = DefaultRestartWindow
	}
	if config.Monitor.AppcmdPath == "" {
		config.Monitor.AppcmdPath = DefaultAppcmdPath
	}
	if config.Monitor.ToolTimeout == 0 {
		config.Monitor.ToolTimeout = DefaultToolTimeout
	}
	if config.Monitor.LogLevel == "" {
		config.Monitor.LogLevel = "info"
	}
	if config.Monitor.LogFormat == "" {
		config.Monitor.LogFormat = "console"
	}

	if config.Control.Listen == "" {
		config.Control.Listen = DefaultListen
	}
	if config.Control.RefreshRateLimit == 0 {
		config.Control.RefreshRateLimit = DefaultRefreshRateLimit
	}

	for i := range config.Sites {
		site := &config.Sites[i]
		if site.Enabled == nil {
			site.Enabled = Bool(true)
		}
		if site.CheckTimeout == 0 {
			site.CheckTimeout = DefaultCheckTimeout
		}
		if site.ExpectedStatus == 0 {
			site.ExpectedStatus = DefaultExpectedStatus
		}
	}

	for i := range config.AppPools {
		pool := &config.AppPools[i]
		if pool.Enabled == nil {
			pool.Enabled = Bool(true)
		}
		if pool.AutoRestart == nil {
			pool.AutoRestart = Bool(true)
		}
		if pool.RestartDelay == nil {
			pool.RestartDelay = Int(DefaultRestartDelay)
		}
	}
}

// jsonDuration accepts "30s" style strings or a number of seconds
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err == nil {
		*d = jsonDuration(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	*d = jsonDuration(parsed)
	return nil
}

func (m *MonitorOptions) UnmarshalJSON(data []byte) error {
	type plain MonitorOptions
	aux := struct {
		*plain
		CheckInterval jsonDuration `json:"check_interval"`
		RestartWindow jsonDuration `json:"restart_window"`
		ToolTimeout   jsonDuration `json:"tool_timeout"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.CheckInterval = time.Duration(aux.CheckInterval)
	m.RestartWindow = time.Duration(aux.RestartWindow)
	m.ToolTimeout = time.Duration(aux.ToolTimeout)
	return nil
}

func (c *ControlOptions) UnmarshalJSON(data []byte) error {
	type plain ControlOptions
	aux := struct {
		*plain
		RefreshRateLimit jsonDuration `json:"refresh_rate_limit"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.RefreshRateLimit = time.Duration(aux.RefreshRateLimit)
	return nil
}
