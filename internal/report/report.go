// Package report renders download outcomes for the terminal.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/NamanBalaji/webdl/pkg/download"
)

var (
	gruvboxFg2    = lipgloss.Color("#d5c4a1")
	gruvboxRed    = lipgloss.Color("#fb4934")
	gruvboxGreen  = lipgloss.Color("#b8bb26")
	gruvboxYellow = lipgloss.Color("#fabd2f")
	gruvboxBlue   = lipgloss.Color("#83a598")
	gruvboxAqua   = lipgloss.Color("#8ec07c")
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(gruvboxYellow)

	statusStyleCompleted = lipgloss.NewStyle().
				Foreground(gruvboxGreen).
				Bold(true)

	statusStyleFailed = lipgloss.NewStyle().
				Foreground(gruvboxRed).
				Bold(true)

	statusStyleActive = lipgloss.NewStyle().
				Foreground(gruvboxAqua)

	statusStyleQueued = lipgloss.NewStyle().
				Foreground(gruvboxYellow)

	nameStyle = lipgloss.NewStyle().
			Foreground(gruvboxBlue).
			Bold(true)

	detailStyle = lipgloss.NewStyle().
			Foreground(gruvboxFg2)
)

// Completed renders one finished download as a single line.
func Completed(d download.CompletedDownload) string {
	if d.IsSuccess() {
		where := d.LocalURI()
		if d.LocalFileName() != "" {
			where = d.LocalFileName()
		}
		return fmt.Sprintf("%s %s %s",
			statusStyleCompleted.Render("✓ done"),
			nameStyle.Render(d.FileName()),
			detailStyle.Render(fmt.Sprintf("%s → %s", formatSize(d.TotalSizeBytes()), where)),
		)
	}

	detail := d.URI()
	if reason, ok := d.FailReason(); ok {
		detail = fmt.Sprintf("%s (%s)", d.URI(), ReasonText(reason))
	}
	return fmt.Sprintf("%s %s %s",
		statusStyleFailed.Render("✗ failed"),
		nameStyle.Render(d.FileName()),
		detailStyle.Render(detail),
	)
}

// Rejected renders a URL the host refused to accept.
func Rejected(url string, err error) string {
	return fmt.Sprintf("%s %s %s",
		statusStyleFailed.Render("✗ rejected"),
		nameStyle.Render(url),
		detailStyle.Render(err.Error()),
	)
}

// Summary renders the closing line of a run.
func Summary(succeeded, failed int) string {
	line := fmt.Sprintf("%d succeeded, %d failed", succeeded, failed)
	if failed > 0 {
		return statusStyleFailed.Render(line)
	}
	return statusStyleCompleted.Render(line)
}

// Records renders the status table as a header plus one line per row.
func Records(records []download.Record) string {
	if len(records) == 0 {
		return detailStyle.Render("No downloads recorded.")
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s %-36s %s", "STATUS", "ID", "FILE")))
	for _, r := range records {
		b.WriteString("\n")
		b.WriteString(statusStyle(r.Status).Render(fmt.Sprintf("%-10s", r.Status)))
		b.WriteString(" ")
		b.WriteString(detailStyle.Render(r.ID.String()))
		b.WriteString(" ")
		b.WriteString(nameStyle.Render(r.FileName))
		switch r.Status {
		case download.StatusSuccessful:
			b.WriteString(" ")
			b.WriteString(detailStyle.Render(formatSize(r.TotalSizeBytes)))
		case download.StatusFailed:
			b.WriteString(" ")
			b.WriteString(detailStyle.Render(ReasonText(r.Reason)))
		}
	}
	return b.String()
}

func statusStyle(s download.Status) lipgloss.Style {
	switch s {
	case download.StatusSuccessful:
		return statusStyleCompleted
	case download.StatusFailed:
		return statusStyleFailed
	case download.StatusRunning:
		return statusStyleActive
	default:
		return statusStyleQueued
	}
}

// ReasonText describes a failure reason code.
func ReasonText(reason int) string {
	switch reason {
	case download.ReasonUnknown:
		return "unknown error"
	case download.ReasonFileError:
		return "storage error"
	case download.ReasonUnhandledHTTPCode:
		return "unhandled HTTP code"
	case download.ReasonHTTPDataError:
		return "HTTP data error"
	case download.ReasonTooManyRedirects:
		return "too many redirects"
	case download.ReasonInsufficientSpace:
		return "insufficient space"
	case download.ReasonCannotResume:
		return "cannot resume"
	case download.ReasonFileAlreadyExists:
		return "file already exists"
	}
	if reason >= 100 && reason < 600 {
		return fmt.Sprintf("HTTP %d", reason)
	}
	return fmt.Sprintf("reason %d", reason)
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
