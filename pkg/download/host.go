package download

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrServiceDisabled is returned by a Host that refuses submissions
	// outright, e.g. because it has been switched off by policy.
	ErrServiceDisabled = errors.New("download service disabled")

	// ErrPermissionDenied is returned when the requested notification
	// visibility is not permitted. Submitting again with VisibilityVisible
	// may succeed.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned by Query when the host has no row for an id.
	ErrNotFound = errors.New("download record not found")

	// ErrReceiverNotRegistered is returned when unregistering a receiver
	// the host does not know about.
	ErrReceiverNotRegistered = errors.New("receiver not registered")
)

// Status of a host record.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusPaused
	StatusSuccessful
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusSuccessful:
		return "successful"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// Visibility controls whether the host shows a notification for a request.
type Visibility int

const (
	// VisibilityVisibleNotifyCompleted keeps the notification after completion.
	VisibilityVisibleNotifyCompleted Visibility = iota
	// VisibilityVisible shows the notification only while running.
	VisibilityVisible
	// VisibilityHidden shows nothing.
	VisibilityHidden
)

// Failure reasons that are not HTTP status codes.
const (
	ReasonUnknown           = 1000
	ReasonFileError         = 1001
	ReasonUnhandledHTTPCode = 1002
	ReasonHTTPDataError     = 1004
	ReasonTooManyRedirects  = 1005
	ReasonInsufficientSpace = 1006
	ReasonCannotResume      = 1008
	ReasonFileAlreadyExists = 1009
)

// Request is a submission to a Host.
type Request struct {
	URI           string
	FileName      string
	Title         string
	Headers       map[string]string
	Visibility    Visibility
	// AllowScanning marks the stored file as indexable by media scanners.
	AllowScanning bool
	Priority      int
}

// Record is a row of the host's status table.
type Record struct {
	ID             uuid.UUID         `json:"id"`
	URI            string            `json:"uri"`
	Title          string            `json:"title"`
	FileName       string            `json:"file_name"`
	Headers        map[string]string `json:"headers,omitempty"`
	Visibility     Visibility        `json:"visibility"`
	Priority       int               `json:"priority"`
	AllowScanning  bool              `json:"allow_scanning"`
	Status         Status            `json:"status"`
	Reason         int               `json:"reason,omitempty"`
	LocalFileName  string            `json:"local_file_name,omitempty"`
	LocalURI       string            `json:"local_uri,omitempty"`
	TotalSizeBytes int64             `json:"total_size_bytes"`
	StorageKey     string            `json:"storage_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at,omitempty"`
}

// Receiver is notified whenever some submission reaches a terminal state.
// The signal does not say which one.
type Receiver interface {
	OnReceive(ctx context.Context)
}

// Host is the download engine a Manager drives. Implementations deliver
// OnReceive calls from a single goroutine.
type Host interface {
	Submit(ctx context.Context, req Request) (uuid.UUID, error)
	Query(ctx context.Context, id uuid.UUID) (Record, error)
	RegisterReceiver(r Receiver) error
	UnregisterReceiver(r Receiver) error
}
