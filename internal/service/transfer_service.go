package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/transfer-tracker/internal/domain"
	errpkg "github.com/veranemoloko/transfer-tracker/internal/errors"
	"github.com/veranemoloko/transfer-tracker/internal/metrics"
	"github.com/veranemoloko/transfer-tracker/internal/query"
	"github.com/veranemoloko/transfer-tracker/internal/registry"
	"github.com/veranemoloko/transfer-tracker/internal/validation"
)

// TransferService is the boundary between transfer executors and the
// registry. Executors report lifecycle events through it; views read
// snapshots and derived queries.
//
// Late or duplicate events from an executor are logged and ignored, never
// returned as errors.
type TransferService struct {
	registry  *registry.Registry
	validator *validator.Validate
	logger    *slog.Logger
	closed    atomic.Bool
}

func NewTransferService(reg *registry.Registry, logger *slog.Logger) *TransferService {
	return &TransferService{
		registry:  reg,
		validator: validation.New(),
		logger:    logger,
	}
}

// Begin registers an intended transfer in pending state. Beginning a name
// whose previous transfer already finished starts a new instance.
func (s *TransferService) Begin(ctx context.Context, req *domain.BeginRequest) (domain.TransferTask, error) {
	if err := ctx.Err(); err != nil {
		return domain.TransferTask{}, err
	}
	if s.closed.Load() {
		return domain.TransferTask{}, errpkg.ErrShuttingDown
	}

	if err := s.validator.Struct(req); err != nil {
		return domain.TransferTask{}, fmt.Errorf("invalid begin request: %w", err)
	}

	task := domain.TransferTask{
		Name:   req.Name,
		Type:   req.Type,
		Status: domain.TaskStatusPending,
		Total:  req.Total,
	}
	if err := s.registry.Register(task); err != nil {
		return domain.TransferTask{}, fmt.Errorf("failed to register transfer: %w", err)
	}

	metrics.TransfersBegun.WithLabelValues(string(req.Type)).Inc()
	s.logger.Info("transfer registered",
		"name", req.Name,
		"type", req.Type,
		"total", req.Total,
	)

	registered, ok := s.registry.Get(req.Name)
	if !ok {
		// evicted or removed concurrently
		return domain.TransferTask{}, errpkg.ErrTaskNotFound
	}
	return registered, nil
}

// Progress records byte counters. Unknown or finished transfers are ignored.
func (s *TransferService) Progress(name string, loaded int64, total *int64) bool {
	if s.registry.UpdateProgress(name, loaded, total) {
		return true
	}
	s.logger.Debug("progress event ignored", "name", name, "loaded", loaded)
	return false
}

// Start is the executor's explicit signal that bytes are about to flow.
func (s *TransferService) Start(name string) bool {
	if !s.registry.Start(name) {
		s.logger.Debug("start event ignored", "name", name)
		return false
	}
	s.logger.Debug("transfer started", "name", name)
	return true
}

// Finish marks a transfer completed.
func (s *TransferService) Finish(name string) bool {
	if !s.registry.Complete(name) {
		s.logger.Debug("finish event ignored", "name", name)
		return false
	}

	task, ok := s.registry.Get(name)
	if ok {
		s.observeTerminal(task)
	}
	s.logger.Info("transfer completed", "name", name, "loaded", task.Loaded)
	return true
}

// Fail marks a transfer failed with message.
func (s *TransferService) Fail(name, message string) bool {
	if !s.registry.Fail(name, message) {
		s.logger.Debug("fail event ignored", "name", name, "message", message)
		return false
	}

	if task, ok := s.registry.Get(name); ok {
		s.observeTerminal(task)
	}
	s.logger.Warn("transfer failed", "name", name, "message", message)
	return true
}

// Remove drops a transfer from the registry. It does not stop any I/O.
func (s *TransferService) Remove(name string) bool {
	if !s.registry.Remove(name) {
		return false
	}
	s.logger.Info("transfer removed", "name", name)
	return true
}

func (s *TransferService) Get(name string) (domain.TransferTask, error) {
	task, ok := s.registry.Get(name)
	if !ok {
		return domain.TransferTask{}, errpkg.ErrTaskNotFound
	}
	return task, nil
}

func (s *TransferService) Snapshot() registry.Snapshot {
	return s.registry.Snapshot()
}

func (s *TransferService) Subscribe(fn func(registry.Snapshot)) func() {
	return s.registry.Subscribe(fn)
}

// List returns all tasks, or only those of typ when typ is not empty. An
// unknown typ yields an empty list.
func (s *TransferService) List(typ string) []domain.TransferTask {
	snap := s.registry.Snapshot()
	if typ == "" {
		return snap.Tasks()
	}
	return query.ByType(snap, domain.TransferType(typ))
}

func (s *TransferService) Counts() query.Counts {
	return query.CountByType(s.registry.Snapshot())
}

func (s *TransferService) Active(typ string) (domain.TransferTask, bool) {
	return query.ActiveOfType(s.registry.Snapshot(), domain.TransferType(typ))
}

// Shutdown rejects new transfers and stops snapshot notifications.
func (s *TransferService) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down transfer service")
	s.closed.Store(true)
	return s.registry.Shutdown(ctx)
}

func (s *TransferService) observeTerminal(task domain.TransferTask) {
	switch task.Status {
	case domain.TaskStatusCompleted:
		metrics.TransfersCompleted.WithLabelValues(string(task.Type)).Inc()
	case domain.TaskStatusFailed:
		metrics.TransfersFailed.WithLabelValues(string(task.Type)).Inc()
	default:
		return
	}
	metrics.TransferDuration.
		WithLabelValues(string(task.Type), string(task.Status)).
		Observe(time.Since(task.CreatedAt).Seconds())
}
