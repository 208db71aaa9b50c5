package http

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/transfer-tracker/internal/domain"
	errpkg "github.com/veranemoloko/transfer-tracker/internal/errors"
	"github.com/veranemoloko/transfer-tracker/internal/query"
	"github.com/veranemoloko/transfer-tracker/internal/registry"
	"github.com/veranemoloko/transfer-tracker/internal/validation"
)

// TransferServiceI defines the transfer lifecycle and read operations used by
// the handlers.
type TransferServiceI interface {
	Begin(ctx context.Context, req *domain.BeginRequest) (domain.TransferTask, error)
	Progress(name string, loaded int64, total *int64) bool
	Start(name string) bool
	Finish(name string) bool
	Fail(name, message string) bool
	Remove(name string) bool
	Get(name string) (domain.TransferTask, error)
	Snapshot() registry.Snapshot
	Subscribe(fn func(registry.Snapshot)) func()
	List(typ string) []domain.TransferTask
	Counts() query.Counts
	Active(typ string) (domain.TransferTask, bool)
}

// TransferWorkerI starts and cancels transfers executed by this process.
type TransferWorkerI interface {
	Download(ctx context.Context, req *domain.DownloadRequest) (string, error)
	Upload(ctx context.Context, req *domain.UploadRequest) (string, error)
	Cancel(name string) bool
}

// TransferHandler handles HTTP requests for transfers.
type TransferHandler struct {
	service   TransferServiceI
	worker    TransferWorkerI
	validator *validator.Validate
	logger    *slog.Logger
}

// NewTransferHandler creates a TransferHandler. worker may be nil, in which
// case the download and upload endpoints are not served.
func NewTransferHandler(service TransferServiceI, worker TransferWorkerI, logger *slog.Logger) *TransferHandler {
	return &TransferHandler{
		service:   service,
		worker:    worker,
		validator: validation.New(),
		logger:    logger,
	}
}

// ListTransfers handles GET /transfers?type=.
func (h *TransferHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	tasks := h.service.List(r.URL.Query().Get("type"))
	writeJSON(w, http.StatusOK, toResponses(tasks))
}

// Counts handles GET /transfers/counts?tab=.
func (h *TransferHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts := h.service.Counts()
	current := domain.TransferType(r.URL.Query().Get("tab"))

	writeJSON(w, http.StatusOK, domain.CountsResponse{
		Downloads: counts.Downloads,
		Uploads:   counts.Uploads,
		Tab:       query.DefaultTab(counts, current),
	})
}

// ActiveTransfer handles GET /transfers/active/{type}. It answers 204 when no
// transfer of that type is running.
func (h *TransferHandler) ActiveTransfer(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	if _, ok := domain.ParseTransferType(typ); !ok {
		writeError(w, http.StatusBadRequest, errpkg.ErrInvalidType.Error())
		return
	}

	task, ok := h.service.Active(typ)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(task))
}

// GetTransfer handles GET /transfers/{name}.
func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	h.respondTask(w, chi.URLParam(r, "name"), http.StatusOK)
}

// BeginTransfer handles PUT /transfers/{name}.
func (h *TransferHandler) BeginTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.BeginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Name = chi.URLParam(r, "name")

	task, err := h.service.Begin(r.Context(), &req)
	if err != nil {
		h.logger.Warn("failed to begin transfer", "name", req.Name, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(task))
}

// ReportProgress handles POST /transfers/{name}/progress.
func (h *TransferHandler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	var req domain.ProgressRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := chi.URLParam(r, "name")
	h.service.Progress(name, req.Loaded, req.Total)
	h.respondTask(w, name, http.StatusOK)
}

// StartTransfer handles POST /transfers/{name}/start.
func (h *TransferHandler) StartTransfer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.service.Start(name)
	h.respondTask(w, name, http.StatusOK)
}

// FinishTransfer handles POST /transfers/{name}/finish.
func (h *TransferHandler) FinishTransfer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.service.Finish(name)
	h.respondTask(w, name, http.StatusOK)
}

// FailTransfer handles POST /transfers/{name}/fail.
func (h *TransferHandler) FailTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.FailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := chi.URLParam(r, "name")
	h.service.Fail(name, req.Message)
	h.respondTask(w, name, http.StatusOK)
}

// RemoveTransfer handles DELETE /transfers/{name}. A transfer run by this
// process is canceled before it is dropped.
func (h *TransferHandler) RemoveTransfer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.worker != nil {
		h.worker.Cancel(name)
	}
	if !h.service.Remove(name) {
		writeError(w, http.StatusNotFound, errpkg.ErrTaskNotFound.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StartDownload handles POST /downloads.
func (h *TransferHandler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var req domain.DownloadRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, err := h.worker.Download(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to start download", "url", req.URL, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, domain.AcceptedResponse{Name: name, Type: domain.TypeDownload})
}

// StartUpload handles POST /uploads.
func (h *TransferHandler) StartUpload(w http.ResponseWriter, r *http.Request) {
	var req domain.UploadRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, err := h.worker.Upload(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to start upload", "name", req.Name, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, domain.AcceptedResponse{Name: name, Type: domain.TypeUpload})
}

func (h *TransferHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *TransferHandler) respondTask(w http.ResponseWriter, name string, status int) {
	task, err := h.service.Get(name)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, status, toResponse(task))
}

func statusFor(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest
	case errors.Is(err, errpkg.ErrTaskNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, errpkg.ErrInvalidName),
		errors.Is(err, errpkg.ErrInvalidType),
		errors.Is(err, errpkg.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, errpkg.ErrTerminalTask),
		errors.Is(err, errpkg.ErrTypeChange),
		errors.Is(err, errpkg.ErrStatusRegression),
		errors.Is(err, errpkg.ErrTransferActive):
		return http.StatusConflict
	case errors.Is(err, errpkg.ErrShuttingDown), errors.Is(err, errpkg.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toResponse(task domain.TransferTask) domain.TaskResponse {
	resp := domain.TaskResponse{TransferTask: task}
	if percent, ok := query.ProgressPercent(task); ok {
		resp.Percent = &percent
	}
	return resp
}

func toResponses(tasks []domain.TransferTask) []domain.TaskResponse {
	out := make([]domain.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toResponse(t))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
