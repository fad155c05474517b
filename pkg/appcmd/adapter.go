package appcmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"
)

// Adapter queries and mutates sites and app pools through appcmd.exe.
// A successful Execute only means the tool accepted the command: callers
// re-query the entity to learn its real state.
type Adapter struct {
	runner Runner
	logger logging.Logger
}

func NewAdapter(runner Runner, logger logging.Logger) *Adapter {
	return &Adapter{
		runner: runner,
		logger: logger,
	}
}

func objectName(kind domain.EntityKind) (string, error) {
	switch kind {
	case domain.EntityKindSite:
		return "site", nil
	case domain.EntityKindAppPool:
		return "apppool", nil
	}
	return "", errors.NewValidationError(fmt.Sprintf("invalid entity kind: %s", kind), nil)
}

// QueryState reports the tool's view of one entity
func (a *Adapter) QueryState(ctx context.Context, kind domain.EntityKind, name string) (RawState, error) {
	object, err := objectName(kind)
	if err != nil {
		return StateUnknown, err
	}

	result, err := a.runner.Run(ctx, "list", object, name)
	if err != nil {
		return StateUnknown, withEntity(err, kind, name)
	}
	if err := a.checkResult(result, "query", kind, name); err != nil {
		return StateUnknown, err
	}

	state := ParseState(result.Output)
	if state == StateUnknown {
		a.logger.Debugf("Unrecognized state output, kind: %s, name: %s, output: %q", kind, name, strings.TrimSpace(result.Output))
	}
	return state, nil
}

// Execute runs start, stop or recycle. Sites have no native recycle so a
// site recycle is a stop followed by a start. A pool that is not running
// cannot be recycled, so a failed pool recycle falls back to start.
func (a *Adapter) Execute(ctx context.Context, kind domain.EntityKind, name string, operation domain.Operation) (bool, error) {
	object, err := objectName(kind)
	if err != nil {
		return false, err
	}

	switch operation {
	case domain.OperationStart, domain.OperationStop:
		return a.invoke(ctx, string(operation), object, kind, name)

	case domain.OperationRecycle:
		if kind == domain.EntityKindSite {
			if _, err := a.invoke(ctx, "stop", object, kind, name); err != nil && !errors.IsProcessError(err) {
				return false, err
			}
			return a.invoke(ctx, "start", object, kind, name)
		}

		ok, err := a.invoke(ctx, "recycle", object, kind, name)
		if err != nil && errors.IsProcessError(err) {
			a.logger.Infof("Recycle rejected, starting app pool instead, name: %s, error: %v", name, err)
			return a.invoke(ctx, "start", object, kind, name)
		}
		return ok, err
	}

	return false, errors.NewValidationError(fmt.Sprintf("invalid operation: %s", operation), nil).
		WithContext("kind", kind).WithContext("name", name)
}

func (a *Adapter) invoke(ctx context.Context, verb, object string, kind domain.EntityKind, name string) (bool, error) {
	a.logger.Infof("Invoking tool, verb: %s, kind: %s, name: %s", verb, kind, name)

	result, err := a.runner.Run(ctx, verb, object, name)
	if err != nil {
		return false, withEntity(err, kind, name)
	}
	if err := a.checkResult(result, verb, kind, name); err != nil {
		return false, err
	}
	return true, nil
}

// checkResult turns a failed invocation into a typed error
func (a *Adapter) checkResult(result Result, verb string, kind domain.EntityKind, name string) error {
	if !isErrorOutput(result) {
		return nil
	}

	output := strings.TrimSpace(result.Output)
	var err *errors.DomainError
	switch classifyError(result) {
	case outcomeDenied:
		err = errors.NewPermissionError("access denied by administration tool", nil)
	case outcomeNotFound:
		err = errors.NewNotFoundError(fmt.Sprintf("%s '%s' not found", kind, name), nil)
	default:
		err = errors.NewProcessError(fmt.Sprintf("%s failed", verb), nil)
	}
	a.logger.Warnf("Tool reported failure, verb: %s, kind: %s, name: %s, exit code: %d, output: %q", verb, kind, name, result.ExitCode, output)

	return err.WithContext("kind", kind).WithContext("name", name).
		WithContext("exit_code", result.ExitCode).WithContext("output", output)
}

func withEntity(err error, kind domain.EntityKind, name string) error {
	if de, ok := err.(*errors.DomainError); ok {
		return de.WithContext("kind", kind).WithContext("name", name)
	}
	return err
}

func (a *Adapter) ListSites(ctx context.Context) ([]SiteInfo, error) {
	result, err := a.runner.Run(ctx, "list", "site")
	if err != nil {
		return nil, err
	}
	if isErrorOutput(result) {
		return nil, errors.NewProcessError("failed to list sites", nil).WithContext("output", strings.TrimSpace(result.Output))
	}
	return ParseSites(result.Output), nil
}

func (a *Adapter) ListAppPools(ctx context.Context) ([]AppPoolInfo, error) {
	result, err := a.runner.Run(ctx, "list", "apppool")
	if err != nil {
		return nil, err
	}
	if isErrorOutput(result) {
		return nil, errors.NewProcessError("failed to list app pools", nil).WithContext("output", strings.TrimSpace(result.Output))
	}
	return ParseAppPools(result.Output), nil
}

// SiteURL derives a probe URL from the site's bindings
func (a *Adapter) SiteURL(ctx context.Context, name string) (string, error) {
	result, err := a.runner.Run(ctx, "list", "site", name)
	if err != nil {
		return "", withEntity(err, domain.EntityKindSite, name)
	}
	if err := a.checkResult(result, "query", domain.EntityKindSite, name); err != nil {
		return "", err
	}
	url, ok := ParseBindingURL(result.Output)
	if !ok {
		return "", errors.NewNotFoundError(fmt.Sprintf("no http binding for site '%s'", name), nil)
	}
	return url, nil
}

// SiteAppPool returns the application pool of the site's root application
func (a *Adapter) SiteAppPool(ctx context.Context, name string) (string, error) {
	result, err := a.runner.Run(ctx, "list", "app", "/site.name:"+name)
	if err != nil {
		return "", withEntity(err, domain.EntityKindSite, name)
	}
	if err := a.checkResult(result, "query", domain.EntityKindSite, name); err != nil {
		return "", err
	}
	pool, ok := ParseApplicationPool(result.Output)
	if !ok {
		return "", errors.NewNotFoundError(fmt.Sprintf("no application pool for site '%s'", name), nil)
	}
	return pool, nil
}
