package appcmd

import (
	"bytes"
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"
)

// Result is the raw outcome of one tool invocation that ran to completion
type Result struct {
	Output   string
	ExitCode int
}

// Runner invokes the administration tool. Implementations return a DomainError
// of type tool_unavailable, operation_timeout or cancelled when the tool did
// not run to completion; a non-zero exit code is not an error at this level.
type Runner interface {
	Run(ctx context.Context, args ...string) (Result, error)
}

type execRunner struct {
	path      string
	timeout   time.Duration
	waitDelay time.Duration
	logger    logging.Logger
}

// NewExecRunner creates a Runner that starts the tool as a subprocess.
// Windows style %VAR% references in path are expanded.
func NewExecRunner(path string, timeout time.Duration, logger logging.Logger) Runner {
	return &execRunner{
		path:      expandWindowsEnv(path),
		timeout:   timeout,
		waitDelay: time.Second,
		logger:    logger,
	}
}

func (r *execRunner) Run(ctx context.Context, args ...string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.path, args...)
	setupProcessAttributes(cmd)
	// Bound the wait for output pipes after the process is killed
	cmd.WaitDelay = r.waitDelay

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Debugf("Running tool, path: %s, args: %v", r.path, args)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		return Result{Output: output.String()}, nil
	}

	if stderrors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		r.logger.Warnf("Tool invocation timed out, args: %v, timeout: %v", args, r.timeout)
		return Result{}, errors.NewTimeoutError("tool invocation timed out", err).
			WithContext("args", args).WithContext("timeout", r.timeout)
	}
	if ctx.Err() != nil {
		return Result{}, errors.NewCancelledError("tool invocation cancelled", ctx.Err()).WithContext("args", args)
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		r.logger.Debugf("Tool exited with non-zero code, args: %v, exit code: %d, elapsed: %v", args, exitErr.ExitCode(), elapsed)
		return Result{Output: output.String(), ExitCode: exitErr.ExitCode()}, nil
	}

	if stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, fs.ErrNotExist) {
		return Result{}, errors.NewToolUnavailableError("administration tool not found", err).WithContext("path", r.path)
	}
	return Result{}, errors.NewToolUnavailableError("failed to launch administration tool", err).WithContext("path", r.path)
}

var windowsEnvPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_()]*)%`)

func expandWindowsEnv(path string) string {
	return windowsEnvPattern.ReplaceAllStringFunc(path, func(ref string) string {
		name := ref[1 : len(ref)-1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return ref
	})
}
