package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"

	"github.com/NamanBalaji/webdl/internal/logger"
	"github.com/NamanBalaji/webdl/internal/repository"
	"github.com/NamanBalaji/webdl/pkg/download"
	httpProto "github.com/NamanBalaji/webdl/pkg/protocol/http"
)

// allowScanningKey is the blob metadata entry recording whether media
// scanners may index the stored file.
const allowScanningKey = "allow-scanning"

var (
	// ErrInvalidRequest is returned by Submit for URLs the engine cannot fetch.
	ErrInvalidRequest = errors.New("invalid download request")

	// ErrEngineNotRunning is returned when an operation requires the engine to be running.
	ErrEngineNotRunning = errors.New("engine is not running")

	// ErrReceiverAlreadyRegistered is returned when a receiver is registered twice.
	ErrReceiverAlreadyRegistered = errors.New("receiver already registered")
)

// Metrics observes finished transfers.
type Metrics interface {
	TransferFinished(success bool, bytes int64)
}

// Config configures an Engine. Zero values fall back to DefaultConfig,
// except DBPath which is required.
type Config struct {
	// DBPath is the bolt file holding the status table.
	DBPath string

	// BucketURL selects the storage, e.g. "file:///home/me/Downloads" or
	// "s3://bucket?region=us-east-1". Drivers other than file and mem must
	// be linked in by the caller.
	BucketURL string

	// Bucket, when set, is used instead of opening BucketURL. BucketURL is
	// still used to build local URIs. The engine does not close it.
	Bucket *blob.Bucket

	DestinationDir string
	MaxConcurrent  int
	MaxRetries     int
	RetryDelay     time.Duration

	// Disabled makes Submit fail with download.ErrServiceDisabled.
	Disabled bool
	// RestrictNotifications rejects requests that want a completion notice.
	RestrictNotifications bool
	// LegacyLocalPath fills Record.LocalFileName for file buckets.
	LegacyLocalPath bool

	HTTP    *httpProto.ClientConfig
	Metrics Metrics
}

// DefaultConfig stores into an in-memory bucket with three concurrent
// transfers and three retries.
func DefaultConfig() *Config {
	return &Config{
		BucketURL:      "mem://",
		DestinationDir: "Download",
		MaxConcurrent:  3,
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

// Engine is a download.Host that fetches over HTTP into a blob bucket and
// keeps one status row per request in bolt.
type Engine struct {
	mu sync.Mutex

	config         *Config
	repository     *repository.BoltDBRepository
	storage        *storage
	client         *httpProto.HTTPClient
	queueProcessor *QueueProcessor

	receivers []download.Receiver
	active    map[uuid.UUID]context.CancelFunc
	reserved  map[string]struct{}
	running   bool

	signalCh   chan struct{}
	stopCh     chan struct{}
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	transfers  sync.WaitGroup
}

var _ download.Host = (*Engine)(nil)

// New opens the status table and the bucket, re-queues rows left
// unfinished by a previous run, and starts the engine.
func New(config *Config) (*Engine, error) {
	logger.Infof("Creating new engine instance")

	if config == nil {
		logger.Debugf("No config provided, using default config")
		config = DefaultConfig()
	}
	cfg := withDefaults(*config)

	if cfg.DBPath == "" {
		return nil, errors.New("engine: DBPath is required")
	}
	if err := ensureDir(filepath.Dir(cfg.DBPath)); err != nil {
		return nil, err
	}

	repo, err := repository.NewBoltDBRepository(cfg.DBPath)
	if err != nil {
		logger.Errorf("Failed to initialize repository: %v", err)
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	store, err := openStorage(ctx, &cfg)
	if err != nil {
		cancelFunc()
		_ = repo.Close()
		return nil, err
	}

	e := &Engine{
		config:     &cfg,
		repository: repo,
		storage:    store,
		client:     httpProto.NewClient(cfg.HTTP),
		active:     make(map[uuid.UUID]context.CancelFunc),
		reserved:   make(map[string]struct{}),
		signalCh:   make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		ctx:        ctx,
		cancelFunc: cancelFunc,
		running:    true,
	}

	logger.Debugf("Creating queue processor with max concurrent downloads: %d", cfg.MaxConcurrent)
	e.queueProcessor = NewQueueProcessor(cfg.MaxConcurrent, e.runTransfer, e.stopCh)

	e.runTask(e.dispatchLoop)

	if err := e.restore(); err != nil {
		_ = e.Shutdown(context.Background())
		return nil, err
	}

	logger.Infof("Engine instance created successfully")
	return e, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.BucketURL == "" {
		cfg.BucketURL = def.BucketURL
	}
	if cfg.DestinationDir == "" {
		cfg.DestinationDir = def.DestinationDir
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return cfg
}

// runTask runs a function in a goroutine tracked by the WaitGroup.
func (e *Engine) runTask(task func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
}

// restore puts rows that were queued or in flight at the last shutdown
// back in the queue.
func (e *Engine) restore() error {
	records, err := e.repository.FindAll()
	if err != nil {
		return fmt.Errorf("failed to load downloads: %w", err)
	}

	for _, rec := range records {
		if rec.Status.IsTerminal() {
			continue
		}
		if _, err := e.repository.Update(rec.ID, func(r *download.Record) error {
			r.Status = download.StatusPending
			return nil
		}); err != nil {
			return fmt.Errorf("failed to reset download %s: %w", rec.ID, err)
		}
		logger.Infof("Resuming download %s from %s", rec.ID, rec.URI)
		e.queueProcessor.Enqueue(rec.ID, rec.Priority)
	}

	return nil
}

// Submit records a pending row and queues the transfer.
func (e *Engine) Submit(ctx context.Context, req download.Request) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if e.config.Disabled {
		return uuid.Nil, download.ErrServiceDisabled
	}
	if !e.isRunning() {
		return uuid.Nil, ErrEngineNotRunning
	}
	if !e.client.Supports(req.URI) {
		return uuid.Nil, fmt.Errorf("%w: unsupported URL %q", ErrInvalidRequest, req.URI)
	}
	if e.config.RestrictNotifications && req.Visibility == download.VisibilityVisibleNotifyCompleted {
		return uuid.Nil, download.ErrPermissionDenied
	}

	now := time.Now()
	rec := &download.Record{
		ID:            uuid.New(),
		URI:           req.URI,
		Title:         req.Title,
		FileName:      req.FileName,
		Headers:       copyHeaders(req.Headers),
		Visibility:    req.Visibility,
		Priority:      req.Priority,
		AllowScanning: req.AllowScanning,
		Status:        download.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.repository.Save(rec); err != nil {
		logger.Errorf("Failed to save download %s: %v", rec.ID, err)
		return uuid.Nil, fmt.Errorf("failed to save download: %w", err)
	}

	logger.Infof("Submitted download %s: %s -> %s", rec.ID, rec.URI, rec.FileName)
	e.queueProcessor.Enqueue(rec.ID, rec.Priority)

	return rec.ID, nil
}

// Query returns the current row for id.
func (e *Engine) Query(_ context.Context, id uuid.UUID) (download.Record, error) {
	rec, err := e.repository.Find(id)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return download.Record{}, fmt.Errorf("%w: %s", download.ErrNotFound, id)
		}
		return download.Record{}, err
	}
	return *rec, nil
}

// List returns every row, oldest first.
func (e *Engine) List(_ context.Context) ([]download.Record, error) {
	records, err := e.repository.FindAll()
	if err != nil {
		return nil, err
	}

	out := make([]download.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b download.Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Remove cancels the transfer for id if it is running, deletes its row and
// stored file, and notifies receivers.
func (e *Engine) Remove(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	if cancel, ok := e.active[id]; ok {
		cancel()
	}
	e.mu.Unlock()

	rec, err := e.repository.Find(id)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", download.ErrNotFound, id)
		}
		return err
	}

	if err := e.repository.Delete(id); err != nil && !errors.Is(err, repository.ErrRecordNotFound) {
		return fmt.Errorf("failed to delete download: %w", err)
	}

	if rec.StorageKey != "" {
		if err := e.storage.delete(ctx, rec.StorageKey); err != nil {
			logger.Warnf("Failed to delete stored file %s: %v", rec.StorageKey, err)
		}
	}

	logger.Infof("Removed download %s", id)
	e.signal()
	return nil
}

// RegisterReceiver adds r to the receivers notified on every completion
// broadcast. Registering the same receiver twice is an error.
func (e *Engine) RegisterReceiver(r download.Receiver) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if slices.Contains(e.receivers, r) {
		return ErrReceiverAlreadyRegistered
	}
	e.receivers = append(e.receivers, r)
	return nil
}

// UnregisterReceiver removes r. It returns download.ErrReceiverNotRegistered
// if r was never registered.
func (e *Engine) UnregisterReceiver(r download.Receiver) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := slices.Index(e.receivers, r)
	if i < 0 {
		return download.ErrReceiverNotRegistered
	}
	e.receivers = slices.Delete(e.receivers, i, i+1)
	return nil
}

// Shutdown stops the queue and the dispatcher, cancels running transfers
// and closes the store. Rows still in flight are resumed by the next New.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	logger.Infof("Shutting down engine")

	close(e.stopCh)
	e.cancelFunc()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.transfers.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("engine shutdown: %w", ctx.Err())
		logger.Warnf("Engine shutdown timed out, closing with transfers in flight")
	}

	_ = e.client.Cleanup()

	return errors.Join(waitErr, e.storage.close(), e.repository.Close())
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// signal requests a broadcast. Signals raised before the dispatcher wakes
// are delivered as one.
func (e *Engine) signal() {
	select {
	case e.signalCh <- struct{}{}:
	default:
	}
}

func (e *Engine) dispatchLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.signalCh:
			e.mu.Lock()
			receivers := slices.Clone(e.receivers)
			e.mu.Unlock()

			for _, r := range receivers {
				r.OnReceive(e.ctx)
			}
		}
	}
}

// track registers a transfer as active. It fails once shutdown has begun.
func (e *Engine) track(id uuid.UUID, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return false
	}
	e.active[id] = cancel
	e.transfers.Add(1)
	return true
}

func (e *Engine) untrack(id uuid.UUID) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
	e.transfers.Done()
}

// claimKey takes key for one transfer. It reports false if another
// transfer already holds it.
func (e *Engine) claimKey(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, held := e.reserved[key]; held {
		return false
	}
	e.reserved[key] = struct{}{}
	return true
}

func (e *Engine) releaseKey(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, held := e.reserved[key]
	delete(e.reserved, key)
	return held
}

// runTransfer is the queue's start function. It returns when the row for
// id has reached a terminal state or the transfer was abandoned.
func (e *Engine) runTransfer(id uuid.UUID) error {
	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	if !e.track(id, cancel) {
		return nil
	}
	defer e.untrack(id)

	rec, err := e.setStatus(id, download.StatusRunning)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			logger.Debugf("Download %s was removed before it started", id)
			return nil
		}
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	for attempt := 0; ; attempt++ {
		key, size, err := e.transfer(ctx, rec)
		if err == nil {
			e.finish(id, func(r *download.Record) {
				r.Status = download.StatusSuccessful
				r.Reason = 0
				r.StorageKey = key
				r.TotalSizeBytes = size
				r.LocalURI = e.storage.localURI(key)
				if e.config.LegacyLocalPath {
					r.LocalFileName = e.storage.localPath(key)
				}
			}, key)
			e.observe(true, size)
			logger.Infof("Download %s completed: %s (%d bytes)", id, key, size)
			return nil
		}

		if ctx.Err() != nil {
			// Removed or shutting down; the row is left for Remove or the next restore.
			logger.Debugf("Download %s interrupted: %v", id, err)
			return nil
		}

		reason, retryable := classify(err)
		if retryable && attempt < e.config.MaxRetries {
			delay := calculateBackoff(attempt, e.config.RetryDelay)
			logger.Warnf("Download %s attempt %d failed, retrying in %v: %v", id, attempt+1, delay, err)

			if _, err := e.setStatus(id, download.StatusPaused); err != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			if _, err := e.setStatus(id, download.StatusRunning); err != nil {
				return nil
			}
			continue
		}

		logger.Errorf("Download %s failed (reason %d): %v", id, reason, err)
		e.finish(id, func(r *download.Record) {
			r.Status = download.StatusFailed
			r.Reason = reason
		}, "")
		e.observe(false, 0)
		return nil
	}
}

// transfer runs one attempt: GET the source and stream it into a fresh key.
func (e *Engine) transfer(ctx context.Context, rec *download.Record) (string, int64, error) {
	resp, err := e.client.Fetch(ctx, rec.URI, rec.Headers)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	key, err := e.storage.reserveKey(ctx, rec.FileName, e.claimKey, e.releaseKey)
	if err != nil {
		if errors.Is(err, errNoFreeName) {
			return "", 0, err
		}
		return "", 0, fileError(err)
	}
	defer e.releaseKey(key)

	writeCtx, abort := context.WithCancel(ctx)
	defer abort()

	contentType := resp.ContentType
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		contentType = ""
	}

	w, err := e.storage.bucket.NewWriter(writeCtx, key, &blob.WriterOptions{
		ContentType: contentType,
		Metadata:    map[string]string{allowScanningKey: strconv.FormatBool(rec.AllowScanning)},
	})
	if err != nil {
		return "", 0, fileError(err)
	}

	n, err := io.Copy(w, resp.Body)
	if err == nil && resp.ContentLength >= 0 && n != resp.ContentLength {
		err = fmt.Errorf("%w: got %d of %d bytes", io.ErrUnexpectedEOF, n, resp.ContentLength)
	}
	if err != nil {
		abort()
		_ = w.Close()
		return "", 0, dataError(err)
	}

	if err := w.Close(); err != nil {
		return "", 0, fileError(err)
	}

	return key, n, nil
}

// finish applies the terminal update and broadcasts. If the row vanished
// meanwhile, the stored file is removed as well.
func (e *Engine) finish(id uuid.UUID, apply func(*download.Record), key string) {
	_, err := e.repository.Update(id, func(r *download.Record) error {
		apply(r)
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) && key != "" {
			if delErr := e.storage.delete(context.Background(), key); delErr != nil {
				logger.Warnf("Failed to delete orphaned file %s: %v", key, delErr)
			}
		}
		logger.Errorf("Failed to record outcome of download %s: %v", id, err)
	}
	e.signal()
}

func (e *Engine) setStatus(id uuid.UUID, status download.Status) (*download.Record, error) {
	return e.repository.Update(id, func(r *download.Record) error {
		if !r.Status.IsTerminal() {
			r.Status = status
		}
		return nil
	})
}

func (e *Engine) observe(success bool, bytes int64) {
	if e.config.Metrics != nil {
		e.config.Metrics.TransferFinished(success, bytes)
	}
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
