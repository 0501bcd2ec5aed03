package download

import (
	"context"

	"github.com/NamanBalaji/webdl/internal/logger"
	"github.com/NamanBalaji/webdl/pkg/urlutil"
)

// Enqueuer is the part of Manager a DownloadStartHandler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, fromURL, toFilename string, headers map[string]string) error
}

// DownloadStartHandler turns a web view's download request into an
// Enqueue call with a resolved filename.
type DownloadStartHandler struct {
	Enqueuer Enqueuer

	// Cookies returns the Cookie header for url, or "" for none.
	Cookies func(url string) string

	// OnError is called when Enqueue fails. Errors are logged when nil.
	OnError func(url string, err error)

	// Context used for Enqueue; context.Background when nil.
	Context context.Context
}

// OnDownloadStart has the shape of a web view download listener.
// contentLength is informational only.
func (h *DownloadStartHandler) OnDownloadStart(url, userAgent, contentDisposition, mimeType string, contentLength int64) {
	filename := urlutil.ResolveFilename(url, contentDisposition, mimeType)

	headers := make(map[string]string)
	if userAgent != "" {
		headers["User-Agent"] = userAgent
	}
	if h.Cookies != nil {
		if cookie := h.Cookies(url); cookie != "" {
			headers["Cookie"] = cookie
		}
	}

	ctx := h.Context
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Debugf("Download requested: url=%s, filename=%s, mime=%s, length=%d", url, filename, mimeType, contentLength)

	if err := h.Enqueuer.Enqueue(ctx, url, filename, headers); err != nil {
		if h.OnError != nil {
			h.OnError(url, err)
			return
		}
		logger.Errorf("Failed to enqueue download %s: %v", url, err)
	}
}
