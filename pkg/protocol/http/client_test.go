package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("creates client with nil config", func(t *testing.T) {
		client := NewClient(nil)
		assert.NotNil(t, client)
		assert.Equal(t, "webdl/1.0", client.config.DefaultHeaders["User-Agent"])
	})

	t.Run("creates client with custom config", func(t *testing.T) {
		config := &ClientConfig{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			MaxRedirects:        5,
			DialTimeout:         5 * time.Second,
		}
		client := NewClient(config)
		assert.NotNil(t, client)
		assert.Equal(t, 5, client.config.MaxRedirects)
		assert.Equal(t, 20, client.transport.MaxConnsPerHost)
	})
}

func TestSupportsMethod(t *testing.T) {
	client := NewClient(nil)

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{
			name: "supports http",
			url:  "http://example.com",
			want: true,
		},
		{
			name: "supports https",
			url:  "https://example.com",
			want: true,
		},
		{
			name: "doesn't support ftp",
			url:  "ftp://example.com",
			want: false,
		},
		{
			name: "doesn't support invalid url",
			url:  "not-a-url",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.Supports(tt.url)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProbe(t *testing.T) {
	t.Run("successful initialization", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodHead, r.Method)
			w.Header().Set("Content-Length", "1000")
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Accept-Ranges", "bytes")
		}))
		defer server.Close()

		client := NewClient(nil)
		fileInfo, err := client.Probe(context.Background(), server.URL, nil)

		require.NoError(t, err)
		assert.NotNil(t, fileInfo)
		assert.Equal(t, int64(1000), fileInfo.Size)
		assert.Equal(t, "text/plain", fileInfo.ContentType)
		assert.True(t, fileInfo.Resumable)
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(nil)
		fileInfo, err := client.Probe(context.Background(), server.URL, nil)

		assert.Error(t, err)
		assert.Nil(t, fileInfo)
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		client := NewClient(nil)
		fileInfo, err := client.Probe(ctx, server.URL, nil)

		assert.Error(t, err)
		assert.Nil(t, fileInfo)
	})

	t.Run("custom headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-value", r.Header.Get("X-Test-Header"))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(nil)
		headers := map[string]string{
			"X-Test-Header": "test-value",
		}
		_, err := client.Probe(context.Background(), server.URL, headers)
		require.NoError(t, err)
	})

	t.Run("HEAD not allowed falls back to range check", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodHead:
				w.WriteHeader(http.StatusMethodNotAllowed)
			case http.MethodGet:
				if r.Header.Get("Range") == "bytes=0-0" {
					w.Header().Set("Content-Range", "bytes 0-0/1000")
					w.Header().Set("Content-Length", "1")
					w.Header().Set("Content-Type", "text/plain")
					w.WriteHeader(http.StatusPartialContent)
				}
			}
		}))
		defer server.Close()

		client := NewClient(nil)
		fileInfo, err := client.Probe(context.Background(), server.URL, nil)

		require.NoError(t, err)
		assert.Equal(t, int64(1000), fileInfo.Size)
		assert.True(t, fileInfo.Resumable)
	})

	t.Run("server doesn't support range requests", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			// Ignore range header and send full response
			w.Header().Set("Content-Length", "1000")
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(nil)
		fileInfo, err := client.Probe(context.Background(), server.URL, nil)

		require.NoError(t, err)
		assert.Equal(t, int64(1000), fileInfo.Size)
		assert.False(t, fileInfo.Resumable)
	})

	t.Run("content disposition filename", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Disposition", `attachment; filename="test.txt"`)
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Content-Length", "1000")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(nil)
		fileInfo, err := client.Probe(context.Background(), server.URL, nil)

		require.NoError(t, err)
		assert.Equal(t, "test.txt", fileInfo.Filename)
	})

	t.Run("filename from URL when no content disposition", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(nil)
		fileInfo, err := client.Probe(context.Background(), server.URL+"/path/testfile.txt", nil)

		require.NoError(t, err)
		assert.Equal(t, "testfile.txt", fileInfo.Filename)
	})

	t.Run("error handling with proper HTTP error types", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(nil)
		_, err := client.Probe(context.Background(), server.URL, nil)

		assert.Error(t, err)
		var httpErr *HTTPError
		assert.True(t, errors.As(err, &httpErr))
		assert.Equal(t, ErrorTypeHTTP, httpErr.Type)
		assert.Equal(t, http.StatusInternalServerError, httpErr.Status)
	})

	t.Run("handles network errors", func(t *testing.T) {
		client := NewClient(nil)
		_, err := client.Probe(context.Background(), "http://invalid.localhost:9999", nil)

		assert.Error(t, err)
		var httpErr *HTTPError
		assert.True(t, errors.As(err, &httpErr))
		assert.Equal(t, ErrorTypeNetwork, httpErr.Type)
	})

	t.Run("HEAD and Range both fail falls back to normal GET", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodHead:
				w.WriteHeader(http.StatusMethodNotAllowed)
			case http.MethodGet:
				// Always return 200 OK with full content
				w.Header().Set("Content-Length", "1000")
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(http.StatusOK)
			}
		}))
		defer server.Close()

		client := NewClient(nil)
		fileInfo, err := client.Probe(context.Background(), server.URL, nil)

		require.NoError(t, err)
		assert.Equal(t, int64(1000), fileInfo.Size)
		assert.False(t, fileInfo.Resumable)
	})
}

func TestCleanup(t *testing.T) {
	t.Run("cleanup succeeds", func(t *testing.T) {
		client := NewClient(nil)
		err := client.Cleanup()
		assert.NoError(t, err)
	})
}

func TestProbeResolvesEncodedFilename(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", "attachment; filename*=utf-8''success.html")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(nil)
	fileInfo, err := client.Probe(context.Background(), server.URL+"/download?id=1", nil)

	require.NoError(t, err)
	assert.Equal(t, "success.html", fileInfo.Filename)
	assert.Equal(t, "attachment; filename*=utf-8''success.html", fileInfo.ContentDisposition)
	assert.Equal(t, "text/html", fileInfo.ContentType)
}

func TestProbeRejectsUnsupportedURLs(t *testing.T) {
	client := NewClient(nil)

	_, err := client.Probe(context.Background(), "", nil)
	assert.Error(t, err)

	_, err = client.Probe(context.Background(), "ftp://example.com/file", nil)
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	t.Run("streams body with headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "session=1", r.Header.Get("Cookie"))
			assert.Equal(t, "webdl/1.0", r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hello world"))
		}))
		defer server.Close()

		client := NewClient(nil)
		resp, err := client.Fetch(context.Background(), server.URL, map[string]string{"Cookie": "session=1"})
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(body))
		assert.Equal(t, int64(11), resp.ContentLength)
		assert.Equal(t, "text/plain", resp.ContentType)
	})

	t.Run("request headers override defaults", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Mozilla/5.0", r.Header.Get("User-Agent"))
		}))
		defer server.Close()

		client := NewClient(nil)
		resp, err := client.Fetch(context.Background(), server.URL, map[string]string{"User-Agent": "Mozilla/5.0"})
		require.NoError(t, err)
		resp.Body.Close()
	})

	t.Run("status errors carry the code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(nil)
		resp, err := client.Fetch(context.Background(), server.URL, nil)

		assert.Nil(t, resp)
		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, ErrorTypeHTTP, httpErr.Type)
		assert.Equal(t, http.StatusNotFound, httpErr.Status)
	})

	t.Run("redirect limit", func(t *testing.T) {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, server.URL+"/again", http.StatusFound)
		}))
		defer server.Close()

		config := DefaultConfig()
		config.MaxRedirects = 2
		client := NewClient(config)
		_, err := client.Fetch(context.Background(), server.URL, nil)

		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, ErrorTypeRedirect, httpErr.Type)
		assert.ErrorIs(t, err, ErrTooManyRedirects)
	})
}
