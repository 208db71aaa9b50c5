// Package registry holds the process-wide store of transfer tasks.
//
// Writers report lifecycle and progress events; readers take immutable
// snapshots or subscribe to be handed a fresh snapshot after mutations.
// All mutations are serialized behind one lock and never block on I/O.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/veranemoloko/transfer-tracker/internal/domain"
	errpkg "github.com/veranemoloko/transfer-tracker/internal/errors"
	"github.com/veranemoloko/transfer-tracker/internal/metrics"
)

const defaultFailureMessage = "transfer failed"

// Options configures a Registry.
type Options struct {
	// MaxTasks bounds the number of tasks; the oldest finished tasks are
	// evicted first. Zero means unbounded.
	MaxTasks int

	// NotifyInterval is the minimum spacing between subscriber deliveries.
	// Zero delivers as fast as the dispatcher can run.
	NotifyInterval time.Duration

	// Strict makes Upsert reject transitions it would otherwise clamp.
	Strict bool

	Logger *slog.Logger
}

// Registry is the single source of truth for transfer tasks.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]*domain.TransferTask
	order   []string
	version uint64
	cached  *Snapshot

	opts   Options
	logger *slog.Logger
	now    func() time.Time

	subMu   sync.Mutex
	subs    map[uuid.UUID]*subscriber
	nextSeq uint64

	limiter *rate.Limiter
	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an empty registry and starts its notification dispatcher.
// Call Shutdown to stop it.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if opts.NotifyInterval > 0 {
		limit = rate.Every(opts.NotifyInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		tasks:   make(map[string]*domain.TransferTask),
		version: 1,
		opts:    opts,
		logger:  logger.With("component", "registry"),
		now:     time.Now,
		subs:    make(map[uuid.UUID]*subscriber),
		limiter: rate.NewLimiter(limit, 1),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go r.run()

	return r
}

// Upsert inserts task or replaces the task with the same name, keeping its
// position. A replacement may not move status backwards, change the type or
// touch a finished task: in strict mode that is an error, otherwise the
// offending fields are clamped to the stored values.
func (r *Registry) Upsert(task domain.TransferTask) error {
	return r.write(task, false)
}

// Register records the start of a transfer. If a finished task holds the
// name it is dropped and task is appended as a new instance, which is how
// retries show up. Registering a name that is still active keeps its
// progress and status.
func (r *Registry) Register(task domain.TransferTask) error {
	return r.write(task, true)
}

func (r *Registry) write(task domain.TransferTask, register bool) error {
	if task.Name == "" {
		return errpkg.ErrInvalidName
	}
	if !task.Type.Valid() {
		return fmt.Errorf("%w: %q", errpkg.ErrInvalidType, task.Type)
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	if !task.Status.Valid() {
		return fmt.Errorf("%w: %q", errpkg.ErrInvalidStatus, task.Status)
	}

	next := task.Clone()
	if next.Loaded < 0 {
		next.Loaded = 0
	}
	if next.Total != nil && *next.Total < 0 {
		next.Total = nil
	}

	r.mu.Lock()
	now := r.now()

	prev, exists := r.tasks[next.Name]
	if exists && register {
		if prev.Status.IsTerminal() {
			r.deleteLocked(prev.Name)
			exists = false
		} else {
			next.Loaded = prev.Loaded
			if !domain.CanTransition(prev.Status, next.Status) {
				next.Status = prev.Status
			}
		}
	}

	if !exists {
		next.Loaded, next.Total = clampProgress(0, next.Loaded, next.Total)
		normalizeError(&next)
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.UpdatedAt = now

		r.tasks[next.Name] = &next
		r.order = append(r.order, next.Name)
		r.evictLocked()
		r.commitLocked()
		r.mu.Unlock()

		r.signal()
		return nil
	}

	changed, err := r.reconcileLocked(prev, &next)
	if err != nil || !changed {
		r.mu.Unlock()
		return err
	}

	next.CreatedAt = prev.CreatedAt
	next.UpdatedAt = now
	*prev = next
	r.commitLocked()
	r.mu.Unlock()

	r.signal()
	return nil
}

// reconcileLocked folds next onto prev according to the state machine.
func (r *Registry) reconcileLocked(prev, next *domain.TransferTask) (bool, error) {
	if next.Total == nil {
		next.Total = prev.Total
	}
	normalizeError(next)

	if prev.Status.IsTerminal() {
		if sameState(*prev, *next) {
			return false, nil
		}
		if r.opts.Strict {
			return false, fmt.Errorf("%w: %s is %s", errpkg.ErrTerminalTask, prev.Name, prev.Status)
		}
		r.logger.Warn("ignoring replacement of finished task",
			"name", prev.Name,
			"status", prev.Status,
		)
		return false, nil
	}

	if next.Type != prev.Type {
		if r.opts.Strict {
			return false, fmt.Errorf("%w: %s is a %s", errpkg.ErrTypeChange, prev.Name, prev.Type)
		}
		r.logger.Warn("keeping original transfer type",
			"name", prev.Name,
			"type", prev.Type,
			"requested", next.Type,
		)
		next.Type = prev.Type
	}

	if !domain.CanTransition(prev.Status, next.Status) {
		if r.opts.Strict {
			return false, fmt.Errorf("%w: %s from %s to %s",
				errpkg.ErrStatusRegression, prev.Name, prev.Status, next.Status)
		}
		r.logger.Warn("clamping status regression",
			"name", prev.Name,
			"status", prev.Status,
			"requested", next.Status,
		)
		next.Status = prev.Status
	}

	next.Loaded, next.Total = clampProgress(prev.Loaded, next.Loaded, next.Total)
	normalizeError(next)

	return !sameState(*prev, *next), nil
}

// UpdateProgress records byte counters for an active task. Unknown and
// finished tasks are left alone. A pending task becomes in-progress once
// it has transferred at least one byte.
func (r *Registry) UpdateProgress(name string, loaded int64, total *int64) bool {
	if total != nil && *total < 0 {
		total = nil
	}

	var (
		delta int64
		typ   domain.TransferType
	)
	changed := r.mutate(name, func(t *domain.TransferTask) bool {
		if t.Status.IsTerminal() {
			return false
		}

		newTotal := t.Total
		if total != nil {
			newTotal = domain.Int64(*total)
		}
		newLoaded, newTotal := clampProgress(t.Loaded, loaded, newTotal)

		status := t.Status
		if status == domain.TaskStatusPending && newLoaded > 0 {
			status = domain.TaskStatusInProgress
		}

		if newLoaded == t.Loaded && status == t.Status && equalTotal(newTotal, t.Total) {
			return false
		}

		delta = newLoaded - t.Loaded
		typ = t.Type
		t.Loaded = newLoaded
		t.Total = newTotal
		t.Status = status
		return true
	})

	if changed && delta > 0 {
		metrics.TransferBytes.WithLabelValues(string(typ)).Add(float64(delta))
	}
	return changed
}

// Start marks a pending task as in-progress.
func (r *Registry) Start(name string) bool {
	return r.mutate(name, func(t *domain.TransferTask) bool {
		if t.Status != domain.TaskStatusPending {
			return false
		}
		t.Status = domain.TaskStatusInProgress
		return true
	})
}

// Complete moves an active task to completed. Repeated calls are no-ops.
func (r *Registry) Complete(name string) bool {
	return r.mutate(name, func(t *domain.TransferTask) bool {
		if t.Status.IsTerminal() {
			return false
		}
		t.Status = domain.TaskStatusCompleted
		t.Error = nil
		return true
	})
}

// Fail moves an active task to failed with message. Repeated calls, even
// with a different message, are no-ops.
func (r *Registry) Fail(name, message string) bool {
	if message == "" {
		message = defaultFailureMessage
	}
	return r.mutate(name, func(t *domain.TransferTask) bool {
		if t.Status.IsTerminal() {
			return false
		}
		t.Status = domain.TaskStatusFailed
		t.Error = &domain.TransferError{Message: message}
		return true
	})
}

// Remove deletes the named task. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	if !r.deleteLocked(name) {
		r.mu.Unlock()
		return false
	}
	r.commitLocked()
	r.mu.Unlock()

	metrics.TransfersRemoved.Inc()
	r.signal()
	return true
}

// Get returns a copy of the named task.
func (r *Registry) Get(name string) (domain.TransferTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[name]
	if !ok {
		return domain.TransferTask{}, false
	}
	return t.Clone(), true
}

// Snapshot returns the current state. Snapshots are built once per version
// and shared between readers; they are never modified after creation.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	if r.cached != nil {
		s := *r.cached
		r.mu.RUnlock()
		return s
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached == nil {
		tasks := make([]domain.TransferTask, 0, len(r.order))
		for _, name := range r.order {
			tasks = append(tasks, *r.tasks[name])
		}
		s := NewSnapshot(r.version, tasks...)
		r.cached = &s
	}
	return *r.cached
}

func (r *Registry) mutate(name string, fn func(t *domain.TransferTask) bool) bool {
	r.mu.Lock()
	t, ok := r.tasks[name]
	if !ok || !fn(t) {
		r.mu.Unlock()
		return false
	}
	t.UpdatedAt = r.now()
	r.commitLocked()
	r.mu.Unlock()

	r.signal()
	return true
}

// commitLocked publishes a mutation: exactly one version per change.
func (r *Registry) commitLocked() {
	r.version++
	r.cached = nil
	metrics.RegistryTasks.Set(float64(len(r.order)))
}

func (r *Registry) deleteLocked(name string) bool {
	if _, ok := r.tasks[name]; !ok {
		return false
	}
	delete(r.tasks, name)
	if i := slices.Index(r.order, name); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}

// evictLocked drops the oldest finished tasks while over MaxTasks. Active
// tasks are never evicted, so the limit can be exceeded temporarily.
func (r *Registry) evictLocked() {
	if r.opts.MaxTasks <= 0 {
		return
	}

	excess := len(r.order) - r.opts.MaxTasks
	if excess <= 0 {
		return
	}

	var evicted []string
	for _, name := range r.order {
		if len(evicted) == excess {
			break
		}
		if r.tasks[name].Status.IsTerminal() {
			evicted = append(evicted, name)
		}
	}

	for _, name := range evicted {
		r.deleteLocked(name)
		metrics.TransfersEvicted.Inc()
		r.logger.Debug("evicted finished task", "name", name)
	}

	if len(r.order) > r.opts.MaxTasks {
		r.logger.Debug("task limit exceeded by active transfers",
			"tasks", len(r.order),
			"max_tasks", r.opts.MaxTasks,
		)
	}
}

// clampProgress applies the monotonic rule: loaded never exceeds a known
// total and never drops below its previous value. If the previous value is
// already above the reported total, the total is raised instead.
func clampProgress(prevLoaded, loaded int64, total *int64) (int64, *int64) {
	if total != nil && loaded > *total {
		loaded = *total
	}
	if loaded < prevLoaded {
		loaded = prevLoaded
	}
	if total != nil && *total < loaded {
		total = domain.Int64(loaded)
	}
	return loaded, total
}

func normalizeError(t *domain.TransferTask) {
	if t.Status != domain.TaskStatusFailed {
		t.Error = nil
		return
	}
	if t.Error == nil || t.Error.Message == "" {
		t.Error = &domain.TransferError{Message: defaultFailureMessage}
	}
}

func sameState(a, b domain.TransferTask) bool {
	if a.Type != b.Type || a.Status != b.Status || a.Loaded != b.Loaded {
		return false
	}
	if !equalTotal(a.Total, b.Total) {
		return false
	}
	switch {
	case a.Error == nil && b.Error == nil:
		return true
	case a.Error == nil || b.Error == nil:
		return false
	default:
		return a.Error.Message == b.Error.Message
	}
}

func equalTotal(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
