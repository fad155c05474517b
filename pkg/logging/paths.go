package logging

import (
	"os"
	"path/filepath"
	"runtime"
)

// AutoLogFile in the configuration selects an OS-appropriate log location
const AutoLogFile = "auto"

const (
	DefaultAppName     = "iiswatch"
	DefaultLogFileName = "iiswatch.log"
)

// ServiceContext defines the context in which the service runs
type ServiceContext string

const (
	// SystemService runs as a Windows service or daemon
	SystemService ServiceContext = "system"
	// UserService runs under an interactive user account
	UserService ServiceContext = "user"
	// SessionService logs to a temporary location
	SessionService ServiceContext = "session"
)

// LogPathResolver turns the configured log file into a concrete path
type LogPathResolver struct {
	// BaseDirectory overrides the OS default when set
	BaseDirectory string
	AppName       string
}

// Resolve returns file unchanged unless it is AutoLogFile. For AutoLogFile the
// first context whose log directory can be created wins, in the order
// system, user, session.
func (r LogPathResolver) Resolve(file string) string {
	if file != AutoLogFile {
		return file
	}
	for _, context := range []ServiceContext{SystemService, UserService, SessionService} {
		dir := r.LogDirectory(context)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			return filepath.Join(dir, DefaultLogFileName)
		}
	}
	return DefaultLogFileName
}

// LogDirectory returns the log directory for the context, e.g. C:\ProgramData\iiswatch\logs
func (r LogPathResolver) LogDirectory(context ServiceContext) string {
	appName := r.AppName
	if appName == "" {
		appName = DefaultAppName
	}
	if r.BaseDirectory != "" {
		return filepath.Join(r.BaseDirectory, appName, "logs")
	}

	switch context {
	case UserService:
		return filepath.Join(userLogBase(), appName)
	case SessionService:
		return filepath.Join(os.TempDir(), appName, "logs")
	default:
		return filepath.Join(systemLogBase(), appName, "logs")
	}
}

func systemLogBase() string {
	if runtime.GOOS == "windows" {
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return programData
	}
	return "/var/log"
}

func userLogBase() string {
	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
				localAppData = filepath.Join(userProfile, "AppData", "Local")
			} else {
				localAppData = `C:\Users\Default\AppData\Local`
			}
		}
		return filepath.Join(localAppData, "logs")

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "logs")
		}
		return filepath.Join(homeDir, "Library", "Logs")

	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return filepath.Join(dataHome, "logs")
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "logs")
		}
		return filepath.Join(homeDir, ".local", "share", "logs")
	}
}
