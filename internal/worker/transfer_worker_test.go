package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/transfer-tracker/internal/domain"
	errpkg "github.com/veranemoloko/transfer-tracker/internal/errors"
	"github.com/veranemoloko/transfer-tracker/internal/registry"
	"github.com/veranemoloko/transfer-tracker/internal/service"
	"github.com/veranemoloko/transfer-tracker/internal/storage"
)

func makeTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "transferworker_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	dir    string
	svc    *service.TransferService
	worker *TransferWorker
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	dir := makeTempDir(t)
	logger := newTestLogger()

	svc := service.NewTransferService(registry.New(registry.Options{Logger: logger}), logger)
	w := NewTransferWorker(storage.NewFileStorage(dir), svc, logger, opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Shutdown(ctx)
		_ = svc.Shutdown(ctx)
	})

	return &testEnv{dir: dir, svc: svc, worker: w}
}

func (e *testEnv) waitStatus(t *testing.T, name string, status domain.TaskStatus) domain.TransferTask {
	t.Helper()
	var task domain.TransferTask
	require.Eventually(t, func() bool {
		got, err := e.svc.Get(name)
		if err != nil {
			return false
		}
		task = got
		return got.Status == status
	}, 3*time.Second, 10*time.Millisecond, "task %q never reached %s", name, status)
	return task
}

func TestTransferWorker_FullDownload(t *testing.T) {
	env := newTestEnv(t, Options{})

	wantContent := "hello world"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "11")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, wantContent)
	}))
	defer server.Close()

	name, err := env.worker.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "hello.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", name)

	task := env.waitStatus(t, name, domain.TaskStatusCompleted)
	assert.Equal(t, domain.TypeDownload, task.Type)
	assert.Equal(t, int64(11), task.Loaded)
	require.NotNil(t, task.Total)
	assert.Equal(t, int64(11), *task.Total)

	data, err := os.ReadFile(filepath.Join(env.dir, name))
	require.NoError(t, err)
	assert.Equal(t, wantContent, string(data))
}

// writeTruncated declares length bytes but sends only body, so the client
// sees the connection drop mid-transfer.
func writeTruncated(w http.ResponseWriter, body string, length int) {
	w.Header().Set("Content-Length", strconv.Itoa(length))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
	w.(http.Flusher).Flush()
}

func (e *testEnv) download(t *testing.T, req *domain.DownloadRequest) string {
	t.Helper()
	var (
		name string
		err  error
	)
	require.Eventually(t, func() bool {
		name, err = e.worker.Download(context.Background(), req)
		return !errors.Is(err, errpkg.ErrTransferActive)
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	return name
}

func TestTransferWorker_DownloadResumesInterruptedTransfer(t *testing.T) {
	env := newTestEnv(t, Options{})

	var ranges []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		first := len(ranges) == 1
		mu.Unlock()

		if first {
			writeTruncated(w, "hel", 11)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, strings.NewReader("hello world"))
	}))
	defer server.Close()

	req := &domain.DownloadRequest{URL: server.URL, Name: "resume.txt"}
	env.download(t, req)
	env.waitStatus(t, "resume.txt", domain.TaskStatusFailed)

	env.download(t, req)
	task := env.waitStatus(t, "resume.txt", domain.TaskStatusCompleted)
	assert.Equal(t, int64(11), task.Loaded)

	data, err := os.ReadFile(filepath.Join(env.dir, "resume.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "bytes=3-"}, ranges)
}

func TestTransferWorker_DownloadSameURLTwiceStartsOver(t *testing.T) {
	env := newTestEnv(t, Options{})

	var ranged atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			ranged.Store(true)
		}
		http.ServeContent(w, r, "f.txt", time.Time{}, strings.NewReader("fresh"))
	}))
	defer server.Close()

	req := &domain.DownloadRequest{URL: server.URL + "/f.txt"}
	name := env.download(t, req)
	env.waitStatus(t, name, domain.TaskStatusCompleted)

	assert.Equal(t, name, env.download(t, req))
	task := env.waitStatus(t, name, domain.TaskStatusCompleted)
	assert.Equal(t, int64(5), task.Loaded)
	assert.False(t, ranged.Load(), "a completed file must not be resumed")

	data, err := os.ReadFile(filepath.Join(env.dir, name))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestTransferWorker_DownloadSameBasenameReplacesFile(t *testing.T) {
	env := newTestEnv(t, Options{})

	mux := http.NewServeMux()
	mux.HandleFunc("/a/report.pdf", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "report.pdf", time.Time{}, strings.NewReader("AAA"))
	})
	mux.HandleFunc("/b/report.pdf", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "report.pdf", time.Time{}, strings.NewReader("BBBBBB"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	name := env.download(t, &domain.DownloadRequest{URL: server.URL + "/a/report.pdf"})
	require.Equal(t, "report.pdf", name)
	env.waitStatus(t, name, domain.TaskStatusCompleted)

	env.download(t, &domain.DownloadRequest{URL: server.URL + "/b/report.pdf"})
	task := env.waitStatus(t, name, domain.TaskStatusCompleted)
	assert.Equal(t, int64(6), task.Loaded)

	data, err := os.ReadFile(filepath.Join(env.dir, name))
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", string(data))
}

func TestTransferWorker_DownloadRestartsWhenRangeRejected(t *testing.T) {
	env := newTestEnv(t, Options{})

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			writeTruncated(w, "hello world", 20)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, strings.NewReader("hello world"))
	}))
	defer server.Close()

	req := &domain.DownloadRequest{URL: server.URL, Name: "full.txt"}
	env.download(t, req)
	env.waitStatus(t, "full.txt", domain.TaskStatusFailed)

	env.download(t, req)
	env.waitStatus(t, "full.txt", domain.TaskStatusCompleted)
	assert.Equal(t, int32(3), attempts.Load())

	data, err := os.ReadFile(filepath.Join(env.dir, "full.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestTransferWorker_DownloadHTTPError(t *testing.T) {
	env := newTestEnv(t, Options{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server error", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := env.worker.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "broken.bin"})
	require.NoError(t, err)

	task := env.waitStatus(t, "broken.bin", domain.TaskStatusFailed)
	require.NotNil(t, task.Error)
	assert.Contains(t, task.Error.Message, "bad status")
}

func TestTransferWorker_DownloadRetriesServerErrors(t *testing.T) {
	env := newTestEnv(t, Options{Retries: 2, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond})

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "third time")
	}))
	defer server.Close()

	_, err := env.worker.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "flaky.txt"})
	require.NoError(t, err)

	task := env.waitStatus(t, "flaky.txt", domain.TaskStatusCompleted)
	assert.Equal(t, int64(len("third time")), task.Loaded)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestTransferWorker_DownloadTooLarge(t *testing.T) {
	env := newTestEnv(t, Options{MaxFileSize: 5})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello world")
	}))
	defer server.Close()

	_, err := env.worker.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "big.bin"})
	require.NoError(t, err)

	task := env.waitStatus(t, "big.bin", domain.TaskStatusFailed)
	require.NotNil(t, task.Error)
	assert.Contains(t, task.Error.Message, errpkg.ErrFileTooLarge.Error())
}

func TestTransferWorker_DownloadNameFromURL(t *testing.T) {
	env := newTestEnv(t, Options{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "%PDF")
	}))
	defer server.Close()

	name, err := env.worker.Download(context.Background(), &domain.DownloadRequest{URL: server.URL + "/files/report.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", name)

	env.waitStatus(t, "report.pdf", domain.TaskStatusCompleted)
}

func TestNameFromURL(t *testing.T) {
	tests := []struct {
		url    string
		want   string
		prefix bool
	}{
		{url: "https://example.com/a/b/file.zip", want: "file.zip"},
		{url: "https://example.com/my%20file.txt", want: "my file.txt"},
		{url: "https://example.com/", want: "download-", prefix: true},
		{url: "https://example.com", want: "download-", prefix: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := nameFromURL(tt.url)
			if tt.prefix {
				assert.True(t, strings.HasPrefix(got, tt.want), "got %q", got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransferWorker_Upload(t *testing.T) {
	env := newTestEnv(t, Options{})

	payload := bytes.Repeat([]byte("x"), 100*1024)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "payload.bin"), payload, 0o644))

	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	name, err := env.worker.Upload(context.Background(), &domain.UploadRequest{Name: "payload.bin", URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "payload.bin", name)

	task := env.waitStatus(t, name, domain.TaskStatusCompleted)
	assert.Equal(t, domain.TypeUpload, task.Type)
	assert.Equal(t, int64(len(payload)), task.Loaded)
	require.NotNil(t, task.Total)
	assert.Equal(t, int64(len(payload)), *task.Total)

	select {
	case body := <-received:
		assert.Equal(t, payload, body)
	case <-time.After(time.Second):
		t.Fatal("server never received the upload")
	}
}

func TestTransferWorker_UploadMissingSource(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.worker.Upload(context.Background(), &domain.UploadRequest{Name: "missing.bin", URL: "http://example.com"})
	assert.Error(t, err)
	assert.Equal(t, 0, env.svc.Snapshot().Len())
}

func blockingServer(t *testing.T) (*httptest.Server, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "partial")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(server.Close)
	return server, release
}

func TestTransferWorker_Cancel(t *testing.T) {
	env := newTestEnv(t, Options{})
	server, release := blockingServer(t)
	defer close(release)

	_, err := env.worker.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "slow.bin"})
	require.NoError(t, err)

	env.waitStatus(t, "slow.bin", domain.TaskStatusInProgress)

	_, err = env.worker.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "slow.bin"})
	assert.ErrorIs(t, err, errpkg.ErrTransferActive)

	assert.True(t, env.worker.Cancel("slow.bin"))
	task := env.waitStatus(t, "slow.bin", domain.TaskStatusFailed)
	require.NotNil(t, task.Error)

	assert.False(t, env.worker.Cancel("unknown.bin"))
}

// gatedReporter holds Begin until gate is closed.
type gatedReporter struct {
	*service.TransferService
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedReporter) Begin(ctx context.Context, req *domain.BeginRequest) (domain.TransferTask, error) {
	close(g.entered)
	<-g.gate
	return g.TransferService.Begin(ctx, req)
}

func TestTransferWorker_RegistrationDoesNotBlockWorker(t *testing.T) {
	dir := makeTempDir(t)
	logger := newTestLogger()
	svc := service.NewTransferService(registry.New(registry.Options{Logger: logger}), logger)
	reporter := &gatedReporter{TransferService: svc, entered: make(chan struct{}), gate: make(chan struct{})}
	w := NewTransferWorker(storage.NewFileStorage(dir), reporter, logger, Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Shutdown(ctx)
		_ = svc.Shutdown(ctx)
	})

	server, release := blockingServer(t)
	defer close(release)

	errc := make(chan error, 1)
	go func() {
		_, err := w.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "gated.bin"})
		errc <- err
	}()
	<-reporter.entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.False(t, w.Cancel("other.bin"))
		_, err := w.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "gated.bin"})
		assert.ErrorIs(t, err, errpkg.ErrTransferActive)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker calls blocked while a task was being registered")
	}

	close(reporter.gate)
	require.NoError(t, <-errc)

	task, err := svc.Get("gated.bin")
	require.NoError(t, err)
	assert.Contains(t, []domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusInProgress}, task.Status)
}

func TestTransferWorker_PoolLimitKeepsQueuedPending(t *testing.T) {
	env := newTestEnv(t, Options{PoolSize: 1})
	server, release := blockingServer(t)

	_, err := env.worker.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "first.bin"})
	require.NoError(t, err)
	_, err = env.worker.Download(context.Background(), &domain.DownloadRequest{URL: server.URL, Name: "second.bin"})
	require.NoError(t, err)

	env.waitStatus(t, "first.bin", domain.TaskStatusInProgress)

	second, err := env.svc.Get("second.bin")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, second.Status)

	close(release)
	env.waitStatus(t, "first.bin", domain.TaskStatusFailed)
	env.waitStatus(t, "second.bin", domain.TaskStatusFailed)
}

func TestTransferWorker_ShutdownRejectsNewTransfers(t *testing.T) {
	env := newTestEnv(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.worker.Shutdown(ctx))

	_, err := env.worker.Download(context.Background(), &domain.DownloadRequest{URL: "http://example.com/a", Name: "late.bin"})
	assert.ErrorIs(t, err, errpkg.ErrShuttingDown)
	assert.Equal(t, 0, env.svc.Snapshot().Len())
}
