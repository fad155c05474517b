package monitor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/config"
	"github.com/core-tools/hsu-iiswatch/pkg/control"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"
)

// RunOptions are the server's command line settings
type RunOptions struct {
	ConfigFile string
	// RunDuration stops the server after the given number of seconds; 0 runs until signalled
	RunDuration int
	// LogLevel and LogFile override the configuration file when set
	LogLevel string
	LogFile  string
	// Listen overrides the control API address when set
	Listen string
	// NoWatch disables configuration reload on file change
	NoWatch bool
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

// Run loads the configuration, starts monitoring and the control API, and
// blocks until a signal arrives or the run duration elapses
func Run(options RunOptions) error {
	snapshot, err := config.LoadConfigFromFile(options.ConfigFile)
	if err != nil {
		return err
	}
	if options.LogLevel != "" {
		snapshot.Monitor.LogLevel = options.LogLevel
	}
	if options.LogFile != "" {
		snapshot.Monitor.LogFile = options.LogFile
	}
	if options.Listen != "" {
		snapshot.Control.Listen = options.Listen
	}

	backendConfig := logging.DefaultBackendConfig()
	backendConfig.Level = snapshot.Monitor.LogLevel
	backendConfig.Format = snapshot.Monitor.LogFormat
	backendConfig.File = logging.LogPathResolver{}.Resolve(snapshot.Monitor.LogFile)
	backend, err := logging.NewBackend(backendConfig)
	if err != nil {
		return errors.NewValidationError("failed to create logging backend", err)
	}
	defer backend.Close()

	logger := backend.Logger(logPrefix("iiswatch"))
	logger.Infof("Monitor runner starting...")

	// Create context with run duration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if options.RunDuration > 0 {
		duration := time.Duration(options.RunDuration) * time.Second
		logger.Infof("Using RUN DURATION of %v", duration)
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger.Infof("Using CONFIGURATION FILE: %s", options.ConfigFile)
	if backendConfig.File != "" {
		logger.Infof("Using LOG FILE: %s", backendConfig.File)
	}
	logger.Infof("Sites: %d, App pools: %d, Check interval: %v, Control API: %s",
		len(snapshot.Sites), len(snapshot.AppPools), snapshot.Monitor.CheckInterval, snapshot.Control.Listen)

	monitor, err := NewMonitor(snapshot, MonitorOptions{
		ForceShutdownTimeout: DefaultForceShutdownTimeout,
		Recent:               backend.Recent(),
	}, backend.Logger(logPrefix("monitor")))
	if err != nil {
		return errors.NewInternalError("failed to create monitor", err)
	}

	controlLogger := backend.Logger(logPrefix("control"))
	e := control.NewEcho(controlLogger)
	control.RegisterRoutes(e, control.NewHandler(monitor, monitor, controlLogger), monitor.MetricsRecorder().Handler())
	server, err := control.NewServer(snapshot.Control.Listen, e, controlLogger)
	if err != nil {
		monitor.Close(context.Background())
		return err
	}
	server.Start()

	if !options.NoWatch {
		watcher, err := config.NewWatcher(options.ConfigFile, config.DefaultReloadDebounce, func(next *config.Config) {
			// Command line overrides survive reloads
			if options.Listen != "" {
				next.Control.Listen = options.Listen
			}
			monitor.ApplyConfig(next)
		}, backend.Logger(logPrefix("config")))
		if err != nil {
			logger.Warnf("Configuration reload disabled, error: %v", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	if err := monitor.Start(ctx); err != nil {
		logger.Errorf("Failed to start monitor: %v", err)
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	logger.Infof("Monitor is fully operational")

	select {
	case receivedSignal := <-sig:
		logger.Infof("Monitor runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Monitor runner timed out")
	}
	cancel()

	// Reset context to background to enable graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultForceShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Control server shutdown failed: %v", err)
	}
	if err := monitor.Close(shutdownCtx); err != nil {
		logger.Errorf("Monitor shutdown failed: %v", err)
	}

	logger.Infof("Monitor runner stopped")
	return nil
}

// ValidateConfigFile loads and validates a configuration file without running
func ValidateConfigFile(configFile string) (ConfigSummary, error) {
	snapshot, err := config.LoadConfigFromFile(configFile)
	if err != nil {
		return ConfigSummary{}, err
	}
	return GetConfigSummary(snapshot), nil
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	CheckInterval    time.Duration `json:"check_interval"`
	AutoRestart      bool          `json:"auto_restart"`
	Listen           string        `json:"listen"`
	TotalSites       int           `json:"total_sites"`
	EnabledSites     int           `json:"enabled_sites"`
	TotalAppPools    int           `json:"total_app_pools"`
	EnabledAppPools  int           `json:"enabled_app_pools"`
	AutoRestartPools []string      `json:"auto_restart_pools"`
}

// GetConfigSummary returns a human-readable summary of the configuration
func GetConfigSummary(snapshot *config.Config) ConfigSummary {
	summary := ConfigSummary{
		CheckInterval:    snapshot.Monitor.CheckInterval,
		AutoRestart:      snapshot.Monitor.IsAutoRestart(),
		Listen:           snapshot.Control.Listen,
		TotalSites:       len(snapshot.Sites),
		TotalAppPools:    len(snapshot.AppPools),
		AutoRestartPools: []string{},
	}
	for _, site := range snapshot.Sites {
		if site.IsEnabled() {
			summary.EnabledSites++
		}
	}
	for _, pool := range snapshot.AppPools {
		if pool.IsEnabled() {
			summary.EnabledAppPools++
			if pool.IsAutoRestart() {
				summary.AutoRestartPools = append(summary.AutoRestartPools, pool.Name)
			}
		}
	}
	return summary
}
