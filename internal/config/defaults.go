package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

const (
	maxConcurrentDownloads = 3
	destinationDir         = "webdl"
	maxRetries             = 3
	retryDelay             = 2 * time.Second
	maxRedirects           = 10
	userAgent              = "webdl/1.0"
)

func defaultBucketURL() string {
	return fileURL(xdg.UserDirs.Download)
}

func defaultDBPath() string {
	return filepath.Join(xdg.DataHome, configFileName, configFileName+".db")
}

// fileURL turns a local directory into a fileblob bucket URL.
func fileURL(dir string) string {
	p := filepath.ToSlash(dir)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}
