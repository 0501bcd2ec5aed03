// Package urlutil guesses the filename a downloaded resource should be saved
// under from its URL, Content-Disposition header and MIME type.
package urlutil

import (
	"mime"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const defaultFilename = "downloadfile"

var (
	// (inline|attachment); filename*=<charset>'<lang>'<value> as defined by
	// RFC 5987. Only utf-8 and iso-8859-1 are recognized charsets.
	filenameAsteriskPattern = regexp.MustCompile(
		`(?i)(inline|attachment)\s*;\s*filename\*\s*=\s*(utf-8|iso-8859-1)'[^']*'([^;\s]*)`)

	// (inline|attachment); filename="<value>" with optional quotes, anchored
	// at the end of the header.
	filenamePattern = regexp.MustCompile(
		`(?i)(?:inline|attachment)\s*;\s*filename\s*=\s*(?:"([^"]*)"|([^"]*?))\s*$`)
)

// ResolveFilename is GuessFileName with support for the RFC 5987
// filename* parameter, e.g. attachment; filename*=utf-8''success.html.
// An empty contentDisposition is treated as absent.
func ResolveFilename(rawURL, contentDisposition, mimeType string) string {
	return GuessFileName(rawURL, normalizeContentDisposition(contentDisposition), mimeType)
}

// normalizeContentDisposition rewrites a filename* header into the plain
// type;filename="value" form. Other parameters are dropped. Headers
// without a recognized filename* are returned unchanged.
func normalizeContentDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return contentDisposition
	}

	m := filenameAsteriskPattern.FindStringSubmatch(contentDisposition)
	if m == nil {
		return contentDisposition
	}

	return m[1] + `;filename="` + decodeExtValue(m[3]) + `"`
}

// decodeExtValue percent-decodes an RFC 5987 value as UTF-8 whatever the
// declared charset. Malformed escapes, bytes that are not valid UTF-8 and
// values that would break the quoted form are kept verbatim.
func decodeExtValue(value string) string {
	raw, err := url.PathUnescape(value)
	if err != nil || !utf8.ValidString(raw) {
		return value
	}

	if strings.ContainsAny(raw, "\"\r\n") {
		return value
	}

	return raw
}

// GuessFileName derives a filename from the Content-Disposition header,
// then the last URL path segment, then a fixed default. The extension is
// taken from the name or derived from mimeType. The result is never empty.
func GuessFileName(rawURL, contentDisposition, mimeType string) string {
	mimeType = baseMediaType(mimeType)

	var filename string
	if contentDisposition != "" {
		filename = parseContentDisposition(contentDisposition)
		if i := strings.LastIndexByte(filename, '/'); i >= 0 {
			filename = filename[i+1:]
		}
	}

	if filename == "" {
		filename = filenameFromURL(rawURL)
	}

	if filename == "" {
		filename = defaultFilename
	}

	var extension string
	dot := strings.IndexByte(filename, '.')
	if dot < 0 {
		if mimeType != "" {
			extension = extensionFromMimeType(mimeType)
		}
		if extension == "" {
			lower := strings.ToLower(mimeType)
			switch {
			case lower == "text/html":
				extension = ".html"
			case strings.HasPrefix(lower, "text/"):
				extension = ".txt"
			default:
				extension = ".bin"
			}
		}
		return filename + extension
	}

	if mimeType != "" {
		lastDot := strings.LastIndexByte(filename, '.')
		typeFromExt := mimeTypeFromExtension(filename[lastDot+1:])
		if typeFromExt != "" && !strings.EqualFold(typeFromExt, mimeType) {
			extension = extensionFromMimeType(mimeType)
		}
	}
	if extension == "" {
		extension = filename[dot:]
	}

	return filename[:dot] + extension
}

func parseContentDisposition(contentDisposition string) string {
	m := filenamePattern.FindStringSubmatch(contentDisposition)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}

	return m[2]
}

func filenameFromURL(rawURL string) string {
	decoded, err := url.PathUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}

	if i := strings.IndexAny(decoded, "?#"); i > 0 {
		decoded = decoded[:i]
	}
	if strings.HasSuffix(decoded, "/") {
		return ""
	}

	i := strings.LastIndexByte(decoded, '/')
	if i < 0 {
		return ""
	}

	return decoded[i+1:]
}

func baseMediaType(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mt
	}

	return mimeType
}
