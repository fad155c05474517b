package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"
)

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateMonitorOptions(&config.Monitor); err != nil {
		return errors.NewValidationError("invalid monitor configuration", err)
	}

	if err := validateControlOptions(&config.Control); err != nil {
		return errors.NewValidationError("invalid control configuration", err)
	}

	if err := validateSites(config.Sites); err != nil {
		return errors.NewValidationError("invalid sites configuration", err)
	}

	if err := validateAppPools(config.AppPools); err != nil {
		return errors.NewValidationError("invalid app pools configuration", err)
	}

	return nil
}

func validateMonitorOptions(options *MonitorOptions) error {
	if options.CheckInterval <= 0 {
		return errors.NewValidationError(fmt.Sprintf("check interval must be positive: %v", options.CheckInterval), nil)
	}
	if options.ToolTimeout <= 0 {
		return errors.NewValidationError(fmt.Sprintf("tool timeout must be positive: %v", options.ToolTimeout), nil)
	}
	if options.RestartWindow < 0 {
		return errors.NewValidationError(fmt.Sprintf("restart window cannot be negative: %v", options.RestartWindow), nil)
	}

	if options.LogLevel != "" {
		if _, err := logging.ParseLevel(options.LogLevel); err != nil {
			return errors.NewValidationError(fmt.Sprintf("invalid log level: %s", options.LogLevel), err)
		}
	}

	if options.LogFormat != "" && options.LogFormat != "console" && options.LogFormat != "json" {
		return errors.NewValidationError(fmt.Sprintf("invalid log format: %s", options.LogFormat), nil).
			WithContext("valid_formats", "console, json")
	}

	return nil
}

func validateControlOptions(options *ControlOptions) error {
	if options.RefreshRateLimit < 0 {
		return errors.NewValidationError(fmt.Sprintf("refresh rate limit cannot be negative: %v", options.RefreshRateLimit), nil)
	}
	return nil
}

func validateSites(sites []SiteConfig) error {
	seen := make(map[string]int)
	for i, site := range sites {
		if err := ValidateEntityName(site.Name); err != nil {
			return errors.NewValidationError(fmt.Sprintf("invalid site name at index %d", i), err)
		}
		if prev, exists := seen[site.Name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate site '%s' found at indices %d and %d", site.Name, prev, i), nil)
		}
		seen[site.Name] = i

		if site.URL != "" {
			parsed, err := url.Parse(site.URL)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				return errors.NewValidationError(fmt.Sprintf("invalid url for site '%s': %s", site.Name, site.URL), err)
			}
		}
		if site.CheckTimeout <= 0 {
			return errors.NewValidationError(
				fmt.Sprintf("check timeout for site '%s' must be positive: %d", site.Name, site.CheckTimeout), nil)
		}
		if site.ExpectedStatus < 100 || site.ExpectedStatus > 599 {
			return errors.NewValidationError(
				fmt.Sprintf("expected status for site '%s' out of range: %d", site.Name, site.ExpectedStatus), nil).
				WithContext("valid_range", "100-599")
		}
	}
	return nil
}

func validateAppPools(pools []AppPoolConfig) error {
	seen := make(map[string]int)
	for i, pool := range pools {
		if err := ValidateEntityName(pool.Name); err != nil {
			return errors.NewValidationError(fmt.Sprintf("invalid app pool name at index %d", i), err)
		}
		if prev, exists := seen[pool.Name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate app pool '%s' found at indices %d and %d", pool.Name, prev, i), nil)
		}
		seen[pool.Name] = i

		if pool.RestartDelay != nil && *pool.RestartDelay < 0 {
			return errors.NewValidationError(
				fmt.Sprintf("restart delay for app pool '%s' cannot be negative: %d", pool.Name, *pool.RestartDelay), nil)
		}
	}
	return nil
}

// ValidateEntityName rejects names appcmd cannot address
func ValidateEntityName(name string) error {
	if name == "" {
		return errors.NewValidationError("name cannot be empty", nil)
	}
	if len(name) > 256 {
		return errors.NewValidationError("name is too long", nil).WithContext("max_length", 256)
	}
	// appcmd reads a leading slash or dash as a switch
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "-") {
		return errors.NewValidationError(fmt.Sprintf("name cannot start with %q", name[:1]), nil)
	}
	for _, r := range name {
		if r == '"' || r < 0x20 {
			return errors.NewValidationError(fmt.Sprintf("name contains invalid character %q", r), nil)
		}
	}
	return nil
}
