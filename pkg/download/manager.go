// Package download wraps a Host download engine with a simple
// enqueue/listen API. Each enqueued download is reported exactly once to
// the Listener when it succeeds, fails or disappears from the host.
package download

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/NamanBalaji/webdl/internal/logger"
)

var (
	// ErrServiceUnavailable is returned by Enqueue when the host refuses
	// the submission outright.
	ErrServiceUnavailable = errors.New("download service unavailable")

	// ErrInvalidState signals a broken internal precondition.
	ErrInvalidState = errors.New("invalid state")
)

// Listener receives terminal reports.
type Listener interface {
	OnDownloadFinish(d CompletedDownload)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(d CompletedDownload)

func (f ListenerFunc) OnDownloadFinish(d CompletedDownload) { f(d) }

// Metrics observes the Manager. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Enqueued()
	Finished(success bool)
	Outstanding(n int)
}

type Option func(*Manager)

// WithMetrics attaches m to the Manager.
func WithMetrics(m Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// Manager enqueues downloads on a Host and reports their outcome.
//
// The Manager subscribes to the host's completion signal lazily on the
// first Enqueue and unsubscribes once nothing is outstanding. Call Destroy
// when the owner goes away.
type Manager struct {
	host     Host
	listener Listener
	metrics  Metrics

	mu          sync.Mutex
	outstanding map[uuid.UUID]*pending
	receiver    *managerReceiver
}

// pending is a download that has not been reported yet.
type pending struct {
	id       uuid.UUID
	uri      string
	fileName string

	success        bool
	failReason     *int
	localFileName  string
	localURI       string
	totalSizeBytes int64
}

func (p *pending) snapshot() CompletedDownload {
	return CompletedDownload{
		uri:            p.uri,
		fileName:       p.fileName,
		success:        p.success,
		failReason:     p.failReason,
		localFileName:  p.localFileName,
		localURI:       p.localURI,
		totalSizeBytes: p.totalSizeBytes,
	}
}

type managerReceiver struct {
	m *Manager
}

func (r *managerReceiver) OnReceive(ctx context.Context) {
	r.m.onDownloadComplete(ctx)
}

// NewManager creates a Manager reporting to listener.
func NewManager(host Host, listener Listener, opts ...Option) *Manager {
	m := &Manager{
		host:        host,
		listener:    listener,
		outstanding: make(map[uuid.UUID]*pending),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Enqueue schedules a download of fromURL saved as toFilename. headers are
// added to the HTTP request and may be nil.
//
// An error wrapping ErrServiceUnavailable means the host refused the
// request; nothing is tracked in that case.
func (m *Manager) Enqueue(ctx context.Context, fromURL, toFilename string, headers map[string]string) error {
	req := Request{
		URI:           fromURL,
		FileName:      toFilename,
		Title:         toFilename,
		Headers:       maps.Clone(headers),
		Visibility:    VisibilityVisibleNotifyCompleted,
		AllowScanning: true,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The receiver has to exist before the host can finish the download.
	if !m.isListening() {
		if err := m.startListening(); err != nil {
			return fmt.Errorf("failed to listen for downloads: %w", err)
		}
	}

	id, err := m.submit(ctx, req)
	if err != nil {
		if len(m.outstanding) == 0 {
			m.stopListening()
		}
		if errors.Is(err, ErrServiceDisabled) {
			return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}
		return fmt.Errorf("failed to enqueue %s: %w", fromURL, err)
	}

	m.outstanding[id] = &pending{id: id, uri: fromURL, fileName: toFilename}
	logger.Infof("Enqueued download %s: %s -> %s", id, fromURL, toFilename)

	if m.metrics != nil {
		m.metrics.Enqueued()
		m.metrics.Outstanding(len(m.outstanding))
	}

	return nil
}

// submit retries once with a relaxed visibility when the host denies the
// default one.
func (m *Manager) submit(ctx context.Context, req Request) (uuid.UUID, error) {
	id, err := m.host.Submit(ctx, req)
	if err == nil || !errors.Is(err, ErrPermissionDenied) {
		return id, err
	}

	logger.Debugf("Submission of %s denied with visibility %d, retrying visible", req.URI, req.Visibility)
	req.Visibility = VisibilityVisible

	return m.host.Submit(ctx, req)
}

// Outstanding returns the number of downloads not yet reported.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.outstanding)
}

// Destroy stops listening for completions. Outstanding downloads are not
// reported afterwards unless a later Enqueue resumes listening. Destroy
// may be called more than once.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopListening()
}

func (m *Manager) isListening() bool {
	return m.receiver != nil
}

func (m *Manager) startListening() error {
	checkState(!m.isListening())

	r := &managerReceiver{m: m}
	if err := m.host.RegisterReceiver(r); err != nil {
		return err
	}
	m.receiver = r
	logger.Debugf("Listening for download completions")

	return nil
}

func (m *Manager) stopListening() {
	if m.receiver == nil {
		return
	}

	if err := m.host.UnregisterReceiver(m.receiver); err != nil {
		logger.Warnf("Failed to unregister download receiver: %v", err)
	}
	m.receiver = nil
	logger.Debugf("Stopped listening for download completions")
}

// onDownloadComplete re-checks every outstanding download because the
// signal does not say which one finished, and rows may have been removed.
func (m *Manager) onDownloadComplete(ctx context.Context) {
	var completed []*pending

	m.mu.Lock()
	for _, p := range m.outstanding {
		done, err := m.fetchIfCompleted(ctx, p)
		switch {
		case errors.Is(err, ErrNotFound):
			logger.Warnf("Download %s disappeared from the host, reporting as failed", p.id)
			p.success = false
			p.failReason = nil
			completed = append(completed, p)
		case err != nil:
			logger.Errorf("Failed to query download %s: %v", p.id, err)
		case done:
			completed = append(completed, p)
		}
	}

	for _, p := range completed {
		delete(m.outstanding, p.id)
	}
	if len(m.outstanding) == 0 {
		m.stopListening()
	}
	if m.metrics != nil {
		m.metrics.Outstanding(len(m.outstanding))
	}
	m.mu.Unlock()

	for _, p := range completed {
		logger.Infof("Download %s finished: success=%v", p.id, p.success)
		if m.metrics != nil {
			m.metrics.Finished(p.success)
		}
		m.listener.OnDownloadFinish(p.snapshot())
	}
}

// fetchIfCompleted copies the host's outcome into p when the row is
// terminal.
func (m *Manager) fetchIfCompleted(ctx context.Context, p *pending) (bool, error) {
	rec, err := m.host.Query(ctx, p.id)
	if err != nil {
		return false, err
	}

	if !rec.Status.IsTerminal() {
		return false, nil
	}

	p.success = rec.Status == StatusSuccessful
	if !p.success {
		reason := rec.Reason
		p.failReason = &reason
	}
	p.localFileName = rec.LocalFileName
	p.localURI = rec.LocalURI
	p.totalSizeBytes = rec.TotalSizeBytes

	return true, nil
}

func checkState(ok bool) {
	if !ok {
		panic(ErrInvalidState)
	}
}
