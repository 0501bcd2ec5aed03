package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

const (
	defaultFileName  = "downloadfile"
	maxNameAttempts  = 1000
	fileBucketScheme = "file"
)

var errNoFreeName = errors.New("no free file name")

// storage places finished transfers in a blob bucket. Keys are
// "<DestinationDir>/<name>" with forward slashes on every platform.
type storage struct {
	bucket    *blob.Bucket
	ownBucket bool
	base      *url.URL
	destDir   string
}

func openStorage(ctx context.Context, cfg *Config) (*storage, error) {
	base, err := url.Parse(cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket URL %q: %w", cfg.BucketURL, err)
	}

	s := &storage{
		bucket:  cfg.Bucket,
		base:    base,
		destDir: cleanDir(cfg.DestinationDir),
	}

	if s.bucket == nil {
		if base.Scheme == fileBucketScheme {
			if err := ensureDir(base.Path); err != nil {
				return nil, err
			}
		}

		s.bucket, err = blob.OpenBucket(ctx, cfg.BucketURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket %q: %w", cfg.BucketURL, err)
		}
		s.ownBucket = true
	}

	return s, nil
}

func (s *storage) close() error {
	if !s.ownBucket {
		return nil
	}
	return s.bucket.Close()
}

// reserveKey claims the first key under the destination directory that no
// other transfer holds and that does not exist in the bucket. claim must
// atomically take a free key and report false if it is already held;
// release gives back a claimed key that turned out to exist. A clashing
// name gets a "-N" suffix before its extension. The returned key stays
// claimed until the caller releases it.
func (s *storage) reserveKey(ctx context.Context, name string, claim, release func(string) bool) (string, error) {
	name = sanitizeName(name)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		key := path.Join(s.destDir, candidate)

		if !claim(key) {
			continue
		}

		exists, err := s.bucket.Exists(ctx, key)
		if err != nil {
			release(key)
			return "", fmt.Errorf("failed to check %q: %w", key, err)
		}
		if !exists {
			return key, nil
		}
		release(key)
	}

	return "", fmt.Errorf("%w for %q", errNoFreeName, name)
}

// localURI is the URI a reader of the record uses to open the blob.
func (s *storage) localURI(key string) string {
	u := *s.base
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = path.Join("/", u.Path, key)
	u.RawPath = ""
	return u.String()
}

// localPath returns the filesystem path of key, or "" when the bucket is
// not backed by the local filesystem.
func (s *storage) localPath(key string) string {
	if s.base.Scheme != fileBucketScheme {
		return ""
	}
	return filepath.FromSlash(path.Join(s.base.Path, key))
}

func (s *storage) delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && blobNotFound(err) {
		return nil
	}
	return err
}

func cleanDir(dir string) string {
	dir = strings.Trim(path.Clean("/"+filepath.ToSlash(dir)), "/")
	if dir == "." {
		return ""
	}
	return dir
}

// sanitizeName keeps only the final element of name so a hostile
// Content-Disposition cannot escape the destination directory.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == ".." || name == "/" || strings.TrimSpace(name) == "" {
		return defaultFileName
	}
	return name
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	return nil
}

func blobNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
