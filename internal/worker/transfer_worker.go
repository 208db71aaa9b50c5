package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/transfer-tracker/internal/domain"
	errpkg "github.com/veranemoloko/transfer-tracker/internal/errors"
	"github.com/veranemoloko/transfer-tracker/internal/storage"
	"github.com/veranemoloko/transfer-tracker/internal/validation"
)

const (
	defaultPoolSize  = 5
	defaultQueueSize = 256
	defaultTimeout   = 30 * time.Minute
)

// Reporter receives the lifecycle events of transfers run by the worker.
type Reporter interface {
	Begin(ctx context.Context, req *domain.BeginRequest) (domain.TransferTask, error)
	Progress(name string, loaded int64, total *int64) bool
	Start(name string) bool
	Finish(name string) bool
	Fail(name, message string) bool
}

type Options struct {
	// PoolSize bounds concurrently running transfers. Queued transfers stay
	// pending until a slot frees up.
	PoolSize  int
	QueueSize int
	Timeout   time.Duration
	// Retries is the number of extra attempts for a request that failed
	// with a connection error or a 5xx status.
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// MaxFileSize caps downloads in bytes; 0 disables the cap.
	MaxFileSize int64
}

type job struct {
	name   string
	typ    domain.TransferType
	url    string
	ctx    context.Context
	cancel context.CancelFunc
}

// TransferWorker runs HTTP downloads into FileStorage and HTTP uploads out
// of it, reporting every step to a Reporter.
type TransferWorker struct {
	fileStorage *storage.FileStorage
	reporter    Reporter
	httpClient  *retryablehttp.Client
	logger      *slog.Logger
	maxFileSize int64

	group      *errgroup.Group
	jobs       chan *job
	dispatched chan struct{}

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running map[string]*job
	// partial maps a file name to the URL of the download that left it
	// incomplete. Only a download of the same URL may resume it.
	partial map[string]string
}

// NewTransferWorker creates a worker and starts its dispatcher.
func NewTransferWorker(fileStorage *storage.FileStorage, reporter Reporter, logger *slog.Logger, opts Options) *TransferWorker {
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	group := new(errgroup.Group)
	group.SetLimit(opts.PoolSize)

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = opts.Timeout
	client.RetryMax = max(opts.Retries, 0)
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelDebug)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	ctx, cancel := context.WithCancel(context.Background())

	w := &TransferWorker{
		fileStorage: fileStorage,
		reporter:    reporter,
		httpClient:  client,
		logger:      logger,
		maxFileSize: opts.MaxFileSize,
		group:       group,
		jobs:        make(chan *job, opts.QueueSize),
		dispatched:  make(chan struct{}),
		baseCtx:     ctx,
		cancelAll:   cancel,
		running:     make(map[string]*job),
		partial:     make(map[string]string),
	}
	go w.dispatch()

	logger.Info("transfer worker started",
		"storage_dir", fileStorage.Dir(),
		"pool_size", opts.PoolSize,
		"queue_size", opts.QueueSize,
	)
	return w
}

// Download queues a download of req.URL. The task name defaults to the last
// path segment of the URL. The task is registered before Download returns.
func (w *TransferWorker) Download(ctx context.Context, req *domain.DownloadRequest) (string, error) {
	name := req.Name
	if name == "" {
		name = nameFromURL(req.URL)
	}
	return name, w.enqueue(ctx, name, domain.TypeDownload, req.URL, nil)
}

// Upload queues an upload of the stored file req.Name to req.URL.
func (w *TransferWorker) Upload(ctx context.Context, req *domain.UploadRequest) (string, error) {
	size, err := w.fileStorage.GetFileSize(req.Name)
	if err != nil {
		return "", fmt.Errorf("upload source: %w", err)
	}
	return req.Name, w.enqueue(ctx, req.Name, domain.TypeUpload, req.URL, &size)
}

// Cancel aborts the queued or running transfer with name. The task is then
// reported failed.
func (w *TransferWorker) Cancel(name string) bool {
	w.mu.Lock()
	j, ok := w.running[name]
	w.mu.Unlock()
	if !ok {
		return false
	}

	j.cancel()
	w.logger.Info("transfer cancel requested", "name", name)
	return true
}

// Shutdown stops accepting transfers and waits for running ones. Transfers
// still running when ctx expires are canceled.
func (w *TransferWorker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-w.dispatched
		_ = w.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancelAll()
		return nil
	case <-ctx.Done():
		w.cancelAll()
		<-done
		return ctx.Err()
	}
}

// enqueue reserves name, registers the task and hands the job to the
// dispatcher. The reservation keeps concurrent callers from registering the
// same name while Begin runs outside the lock.
func (w *TransferWorker) enqueue(ctx context.Context, name string, typ domain.TransferType, target string, total *int64) error {
	jobCtx, cancel := context.WithCancel(w.baseCtx)
	j := &job{name: name, typ: typ, url: target, ctx: jobCtx, cancel: cancel}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		cancel()
		return errpkg.ErrShuttingDown
	}
	if _, busy := w.running[name]; busy {
		w.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", errpkg.ErrTransferActive, name)
	}
	w.running[name] = j
	w.mu.Unlock()

	if _, err := w.reporter.Begin(ctx, &domain.BeginRequest{Name: name, Type: typ, Total: total}); err != nil {
		w.release(j)
		return err
	}

	var err error
	w.mu.Lock()
	if w.closed {
		err = errpkg.ErrShuttingDown
	} else {
		select {
		case w.jobs <- j:
		default:
			err = errpkg.ErrQueueFull
		}
	}
	w.mu.Unlock()

	if err != nil {
		w.reporter.Fail(name, err.Error())
		w.release(j)
		return err
	}

	w.logger.Info("transfer queued", "name", name, "type", typ, "url", target)
	return nil
}

func (w *TransferWorker) dispatch() {
	defer close(w.dispatched)

	for j := range w.jobs {
		w.group.Go(func() error {
			w.execute(j)
			return nil
		})
	}
}

func (w *TransferWorker) execute(j *job) {
	defer w.release(j)

	if w.isClosed() && j.ctx.Err() == nil {
		w.reporter.Fail(j.name, errpkg.ErrShuttingDown.Error())
		return
	}

	var err error
	switch j.typ {
	case domain.TypeDownload:
		err = w.download(j)
	case domain.TypeUpload:
		err = w.upload(j)
	default:
		err = fmt.Errorf("%w: %q", errpkg.ErrInvalidType, j.typ)
	}

	if err != nil {
		w.logger.Error("transfer failed",
			"name", j.name,
			"type", j.typ,
			"url", j.url,
			"error", err,
		)
		w.reporter.Fail(j.name, failureMessage(err))
		return
	}

	w.reporter.Finish(j.name)
}

func (w *TransferWorker) release(j *job) {
	j.cancel()

	w.mu.Lock()
	if w.running[j.name] == j {
		delete(w.running, j.name)
	}
	w.mu.Unlock()
}

func (w *TransferWorker) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// download fetches j.url into storage. A partial file is resumed with a
// Range request only when an earlier download of the same URL left it.
func (w *TransferWorker) download(j *job) error {
	existingSize := w.resumeOffset(j)

	resp, err := w.get(j, existingSize)
	if err != nil {
		return err
	}
	if existingSize > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		resp.Body.Close()
		w.logger.Warn("resume rejected, restarting download", "name", j.name, "offset", existingSize)
		existingSize = 0
		if resp, err = w.get(j, 0); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if existingSize > 0 && resp.StatusCode != http.StatusPartialContent {
		existingSize = 0
	}

	var total *int64
	if resp.ContentLength >= 0 {
		t := existingSize + resp.ContentLength
		if w.maxFileSize > 0 && t > w.maxFileSize {
			return fmt.Errorf("%w: %d bytes", errpkg.ErrFileTooLarge, t)
		}
		total = &t
	}

	var file afero.File
	if existingSize > 0 {
		file, err = w.fileStorage.OpenFile(j.name, os.O_WRONLY|os.O_APPEND)
		if err != nil {
			return fmt.Errorf("open file for append: %w", err)
		}
	} else {
		w.setPartial(j.name, "")
		file, err = w.fileStorage.CreateFile(j.name)
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}
	}
	defer file.Close()

	w.reporter.Start(j.name)
	w.reporter.Progress(j.name, existingSize, total)

	var body io.Reader = resp.Body
	if w.maxFileSize > 0 {
		body = io.LimitReader(resp.Body, w.maxFileSize-existingSize+1)
	}
	body = newProgressReader(body, existingSize, 0, func(read int64) {
		w.reporter.Progress(j.name, read, total)
	})

	written, err := copyWithContext(j.ctx, file, body)
	if err != nil {
		if existingSize+written > 0 {
			w.setPartial(j.name, j.url)
		}
		return fmt.Errorf("copy data: %w", err)
	}

	if w.maxFileSize > 0 && existingSize+written > w.maxFileSize {
		file.Close()
		_ = w.fileStorage.Remove(j.name)
		w.setPartial(j.name, "")
		return fmt.Errorf("%w: more than %d bytes", errpkg.ErrFileTooLarge, w.maxFileSize)
	}

	w.setPartial(j.name, "")
	w.logger.Info("download finished", "name", j.name, "bytes", existingSize+written)
	return nil
}

func (w *TransferWorker) get(j *job, offset int64) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(j.ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return w.httpClient.Do(req)
}

// resumeOffset returns the size of the partial file j may continue, or 0.
func (w *TransferWorker) resumeOffset(j *job) int64 {
	w.mu.Lock()
	src, ok := w.partial[j.name]
	w.mu.Unlock()
	if !ok || src != j.url {
		return 0
	}

	size, err := w.fileStorage.GetFileSize(j.name)
	if err != nil {
		return 0
	}
	return size
}

// setPartial records that name holds an incomplete download of src. An empty
// src clears the record.
func (w *TransferWorker) setPartial(name, src string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if src == "" {
		delete(w.partial, name)
		return
	}
	w.partial[name] = src
}

// upload streams the stored file to j.url with a PUT request.
func (w *TransferWorker) upload(j *job) error {
	file, size, err := w.fileStorage.Open(j.name)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()

	// net/http treats a zero ContentLength with a non-nil body as unknown
	var body any = http.NoBody
	if size > 0 {
		body = newProgressReader(file, 0, size, func(read int64) {
			w.reporter.Progress(j.name, read, &size)
		})
	}

	req, err := retryablehttp.NewRequestWithContext(j.ctx, http.MethodPut, j.url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	w.reporter.Start(j.name)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	w.logger.Info("upload finished", "name", j.name, "bytes", size)
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
			nr, err := src.Read(buf)
			if nr > 0 {
				nw, err := dst.Write(buf[0:nr])
				if nw > 0 {
					total += int64(nw)
				}
				if err != nil {
					return total, err
				}
				if nr != nw {
					return total, io.ErrShortWrite
				}
			}
			if err != nil {
				if err == io.EOF {
					return total, nil
				}
				return total, err
			}
		}
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "transfer canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "transfer timed out"
	default:
		return err.Error()
	}
}

func nameFromURL(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		base := path.Base(u.Path)
		if validation.ValidateTaskName(base) == nil {
			return base
		}
	}
	return "download-" + uuid.NewString()
}
