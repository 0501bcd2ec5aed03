package download

import "fmt"

// CompletedDownload is the terminal snapshot of an enqueued download,
// either finished, failed or removed from the host.
type CompletedDownload struct {
	uri            string
	fileName       string
	success        bool
	failReason     *int
	localFileName  string
	localURI       string
	totalSizeBytes int64
}

// URI that was downloaded.
func (d CompletedDownload) URI() string { return d.uri }

// FileName passed to Enqueue.
func (d CompletedDownload) FileName() string { return d.fileName }

// IsSuccess is false for failed and removed downloads.
func (d CompletedDownload) IsSuccess() bool { return d.success }

// FailReason holds the HTTP status code for HTTP errors or one of the
// Reason constants otherwise. ok is false when the download succeeded or
// its host record disappeared.
func (d CompletedDownload) FailReason() (reason int, ok bool) {
	if d.failReason == nil {
		return 0, false
	}
	return *d.failReason, true
}

// LocalFileName is the path of the stored file when the host exposes one.
// Prefer LocalURI.
func (d CompletedDownload) LocalFileName() string { return d.localFileName }

// LocalURI is where the downloaded content is stored.
func (d CompletedDownload) LocalURI() string { return d.localURI }

// TotalSizeBytes is the size of the downloaded content.
func (d CompletedDownload) TotalSizeBytes() int64 { return d.totalSizeBytes }

func (d CompletedDownload) String() string {
	if d.success {
		return fmt.Sprintf("%s -> %s (%d bytes)", d.uri, d.localURI, d.totalSizeBytes)
	}
	if reason, ok := d.FailReason(); ok {
		return fmt.Sprintf("%s failed (reason %d)", d.uri, reason)
	}
	return fmt.Sprintf("%s failed", d.uri)
}
