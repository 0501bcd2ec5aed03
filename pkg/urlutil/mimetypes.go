package urlutil

import (
	"mime"
	"strings"
)

// preferred maps a MIME type to the extension downloads of that type get.
// It takes precedence over the system tables, which list several
// extensions per type in no useful order. An empty value means the type
// has no extension of its own.
var preferred = map[string]string{
	"application/gzip":         ".gz",
	"application/json":         ".json",
	"application/msword":       ".doc",
	"application/octet-stream": "",
	"application/pdf":          ".pdf",
	"application/x-tar":        ".tar",
	"application/xml":          ".xml",
	"application/zip":          ".zip",
	"audio/mpeg":               ".mp3",
	"audio/ogg":                ".ogg",
	"image/gif":                ".gif",
	"image/jpeg":               ".jpg",
	"image/png":                ".png",
	"image/svg+xml":            ".svg",
	"image/webp":               ".webp",
	"text/css":                 ".css",
	"text/csv":                 ".csv",
	"text/html":                ".html",
	"text/plain":               ".txt",
	"video/mp4":                ".mp4",
	"video/webm":               ".webm",

	"application/vnd.android.package-archive": ".apk",
}

// byExtension is the reverse of preferred plus the aliases it hides.
var byExtension = map[string]string{
	"htm":  "text/html",
	"jpeg": "image/jpeg",
	"jpe":  "image/jpeg",
	"tgz":  "application/gzip",
}

func init() {
	for mt, ext := range preferred {
		if ext != "" {
			byExtension[strings.TrimPrefix(ext, ".")] = mt
		}
	}
}

func extensionFromMimeType(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	if ext, ok := preferred[mimeType]; ok {
		return ext
	}

	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}

	return exts[0]
}

func mimeTypeFromExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "" {
		return ""
	}
	if mt, ok := byExtension[ext]; ok {
		return mt
	}

	return baseMediaType(mime.TypeByExtension("." + ext))
}
