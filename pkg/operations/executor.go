package operations

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"

	"github.com/google/uuid"
)

const DefaultHistorySize = 100

// Adapter performs a control operation against the host
type Adapter interface {
	Execute(ctx context.Context, kind domain.EntityKind, name string, operation domain.Operation) (bool, error)
}

// Registry tells whether an entity is monitored
type Registry interface {
	Get(kind domain.EntityKind, name string) (domain.EntityStatus, bool)
}

// RecheckFunc re-queries one entity after an operation finished
type RecheckFunc func(ctx context.Context, kind domain.EntityKind, name string)

// FinishedFunc is called once for every operation that reaches a final status
type FinishedFunc func(op domain.PendingOperation)

// Executor runs control operations with at most one Queued or Running
// operation per entity. Each accepted operation runs on its own goroutine.
type Executor struct {
	adapter     Adapter
	registry    Registry
	historySize int
	logger      logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex      sync.Mutex
	closed     bool
	operations map[string]*domain.PendingOperation
	active     map[domain.EntityKey]string
	last       map[domain.EntityKey]*domain.PendingOperation
	history    []string // finished ids, oldest first
	recheck    RecheckFunc
	finished   FinishedFunc
}

func NewExecutor(adapter Adapter, registry Registry, historySize int, logger logging.Logger) *Executor {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		adapter:     adapter,
		registry:    registry,
		historySize: historySize,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		operations:  make(map[string]*domain.PendingOperation),
		active:      make(map[domain.EntityKey]string),
		last:        make(map[domain.EntityKey]*domain.PendingOperation),
	}
}

func (e *Executor) SetRecheck(recheck RecheckFunc) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.recheck = recheck
}

func (e *Executor) SetFinished(finished FinishedFunc) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.finished = finished
}

// Enqueue accepts an operation and returns its id. It fails with a conflict
// error while another operation for the same entity is Queued or Running.
func (e *Executor) Enqueue(ctx context.Context, kind domain.EntityKind, name string, operation domain.Operation, source domain.OperationSource) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.NewCancelledError("enqueue cancelled", err)
	}
	if !kind.Valid() {
		return "", errors.NewValidationError(fmt.Sprintf("invalid entity kind: %s", kind), nil)
	}
	if _, err := domain.ParseOperation(string(operation)); err != nil {
		return "", errors.NewValidationError(fmt.Sprintf("invalid operation: %s", operation), err)
	}
	key := domain.EntityKey{Kind: kind, Name: name}
	if _, ok := e.registry.Get(kind, name); !ok {
		return "", errors.NewNotFoundError(fmt.Sprintf("%s '%s' is not monitored", kind, name), nil).
			WithContext("kind", kind).WithContext("name", name)
	}

	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return "", errors.NewCancelledError("executor is shut down", nil)
	}
	if activeID, busy := e.active[key]; busy {
		activeOp := *e.operations[activeID]
		e.mutex.Unlock()
		e.logger.Infof("Operation rejected, entity busy, kind: %s, name: %s, operation: %s, active id: %s, active operation: %s",
			kind, name, operation, activeID, activeOp.Operation)
		return "", errors.NewConflictError(fmt.Sprintf("%s '%s' already has an active operation", kind, name), nil).
			WithContext("active_operation_id", activeID).
			WithContext("active_operation", activeOp.Operation).
			WithContext("active_status", activeOp.Status)
	}

	op := &domain.PendingOperation{
		ID:          uuid.NewString(),
		Kind:        kind,
		Name:        name,
		Operation:   operation,
		Source:      source,
		Status:      domain.OperationStatusQueued,
		RequestedAt: time.Now(),
	}
	e.operations[op.ID] = op
	e.active[key] = op.ID
	e.wg.Add(1)
	e.mutex.Unlock()

	e.logger.Infof("Operation enqueued, id: %s, kind: %s, name: %s, operation: %s, source: %s", op.ID, kind, name, operation, source)

	go e.run(op.ID)

	return op.ID, nil
}

func (e *Executor) run(id string) {
	defer e.wg.Done()

	e.mutex.Lock()
	op := e.operations[id]
	op.Status = domain.OperationStatusRunning
	op.StartedAt = time.Now()
	snapshot := *op
	e.mutex.Unlock()

	e.logger.Infof("Operation running, id: %s, kind: %s, name: %s, operation: %s", id, snapshot.Kind, snapshot.Name, snapshot.Operation)

	ok, err := e.adapter.Execute(e.ctx, snapshot.Kind, snapshot.Name, snapshot.Operation)

	e.mutex.Lock()
	op.FinishedAt = time.Now()
	if err == nil && ok {
		op.Status = domain.OperationStatusSucceeded
	} else {
		op.Status = domain.OperationStatusFailed
		if err == nil {
			err = errors.NewProcessError("operation reported failure", nil)
		}
		op.Error = err.Error()
		var domainErr *errors.DomainError
		if stderrors.As(err, &domainErr) {
			op.Remediation = domainErr.Remediation()
			op.ErrorType = string(domainErr.Type)
		}
	}
	key := op.Key()
	delete(e.active, key)
	e.last[key] = op
	e.history = append(e.history, id)
	e.prune()
	final := *op
	recheck := e.recheck
	finished := e.finished
	e.mutex.Unlock()

	if final.Status == domain.OperationStatusSucceeded {
		e.logger.Infof("Operation succeeded, id: %s, kind: %s, name: %s, operation: %s, duration: %v",
			id, final.Kind, final.Name, final.Operation, final.FinishedAt.Sub(final.StartedAt))
	} else {
		e.logger.Errorf("Operation failed, id: %s, kind: %s, name: %s, operation: %s, error: %s",
			id, final.Kind, final.Name, final.Operation, final.Error)
	}

	if finished != nil {
		finished(final)
	}

	// The tool's own result is not ground truth: always look again
	if recheck != nil && e.ctx.Err() == nil {
		recheck(e.ctx, final.Kind, final.Name)
	}
}

// prune drops the oldest finished records beyond the history size
func (e *Executor) prune() {
	for len(e.history) > e.historySize {
		delete(e.operations, e.history[0])
		e.history = e.history[1:]
	}
}

func (e *Executor) Status(id string) (domain.PendingOperation, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	op, ok := e.operations[id]
	if !ok {
		return domain.PendingOperation{}, errors.NewNotFoundError(fmt.Sprintf("operation '%s' not found", id), nil)
	}
	return *op, nil
}

// Active returns the Queued or Running operation for the entity, if any
func (e *Executor) Active(kind domain.EntityKind, name string) (domain.PendingOperation, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	id, ok := e.active[domain.EntityKey{Kind: kind, Name: name}]
	if !ok {
		return domain.PendingOperation{}, false
	}
	return *e.operations[id], true
}

// LastOperation returns the most recently finished operation for the entity
func (e *Executor) LastOperation(kind domain.EntityKind, name string) (domain.PendingOperation, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	op, ok := e.last[domain.EntityKey{Kind: kind, Name: name}]
	if !ok {
		return domain.PendingOperation{}, false
	}
	return *op, true
}

// Forget drops per-entity bookkeeping for an entity removed from monitoring
func (e *Executor) Forget(kind domain.EntityKind, name string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.last, domain.EntityKey{Kind: kind, Name: name})
}

// List returns active operations followed by finished ones, newest first
func (e *Executor) List() []domain.PendingOperation {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	ops := make([]domain.PendingOperation, 0, len(e.active)+len(e.history))
	for _, id := range e.active {
		ops = append(ops, *e.operations[id])
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].RequestedAt.After(ops[j].RequestedAt) })
	for i := len(e.history) - 1; i >= 0; i-- {
		ops = append(ops, *e.operations[e.history[i]])
	}
	return ops
}

// Shutdown stops accepting operations and waits for in-flight ones.
// When ctx expires first, in-flight tool calls are cancelled.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mutex.Lock()
	e.closed = true
	e.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return errors.NewTimeoutError("timed out waiting for operations to finish", ctx.Err())
	}
}

// Wait blocks until no operation is in flight or ctx is done
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
