package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/NamanBalaji/webdl/pkg/urlutil"
)

// FileInfo describes a remote resource as a web view would see it before
// deciding to download it.
type FileInfo struct {
	Size               int64
	Resumable          bool
	Filename           string
	ContentType        string
	ContentDisposition string
	LastModified       string
	ETag               string
}

// Response is an open GET response. Callers must close Body.
type Response struct {
	Body               io.ReadCloser
	ContentLength      int64
	ContentType        string
	ContentDisposition string
}

type HTTPClient struct {
	client    *http.Client
	transport *http.Transport
	config    ClientConfig
}

func NewClient(config *ClientConfig) *HTTPClient {
	if config == nil {
		config = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: config.ExpectContinueTimeout,

		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout,
		}).DialContext,
	}

	if config.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(config.ProxyURL)
	}

	switch {
	case config.TLSConfig != nil:
		transport.TLSClientConfig = config.TLSConfig
	case config.SkipTLSVerify:
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("%w (max: %d)", ErrTooManyRedirects, config.MaxRedirects)
			}
			return nil
		},
	}

	return &HTTPClient{
		client:    client,
		transport: transport,
		config:    *config,
	}
}

// Probe gathers what a web view knows about urlStr before a download starts:
// size, type, disposition and a suggested filename.
func (c *HTTPClient) Probe(ctx context.Context, urlStr string, headers map[string]string) (*FileInfo, error) {
	if len(urlStr) == 0 {
		return nil, fmt.Errorf("url is empty")
	}

	if !c.Supports(urlStr) {
		return nil, fmt.Errorf("url does not support HTTP/HTTPS")
	}

	info, headErr := c.headRequest(ctx, urlStr, headers)
	if headErr == nil {
		return info, nil
	}

	var httpErr *HTTPError
	if isHttpError := errors.As(headErr, &httpErr); !isHttpError {
		return nil, headErr
	}

	if httpErr.Status != http.StatusMethodNotAllowed && httpErr.Status != http.StatusForbidden {
		return nil, headErr
	}

	fallbackInfo, fbErr := c.fallbackRangeCheck(ctx, urlStr, headers)
	if fbErr != nil {
		return nil, fmt.Errorf("HEAD error: %w, fallback GET error: %v", headErr, fbErr)
	}

	return fallbackInfo, nil
}

func (c *HTTPClient) headRequest(ctx context.Context, urlStr string, headers map[string]string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HEAD request: %w", err)
	}

	c.applyHeaders(req, headers)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewHTTPNetworkError("HEAD", urlStr, err)
	}
	defer resp.Body.Close()

	// Some servers return 405 or 403 for HEAD.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewHTTPStatusError("HEAD", urlStr, resp.StatusCode,
			fmt.Errorf("HEAD request returned status %d", resp.StatusCode))
	}

	return c.fileInfo(resp.Header, urlStr, resp.ContentLength,
		strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")), nil
}

func (c *HTTPClient) fallbackRangeCheck(ctx context.Context, urlStr string, headers map[string]string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback GET request: %w", err)
	}

	c.applyHeaders(req, headers)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewHTTPNetworkError("fallbackGET", urlStr, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		totalSize := int64(-1)
		if contentRange := resp.Header.Get("Content-Range"); contentRange != "" {
			// bytes 0-0/1234
			if parts := strings.Split(contentRange, "/"); len(parts) == 2 {
				if size, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
					totalSize = size
				}
			}
		}

		return c.fileInfo(resp.Header, urlStr, totalSize, true), nil

	case http.StatusOK:
		return c.fileInfo(resp.Header, urlStr, resp.ContentLength, false), nil

	default:
		return nil, NewHTTPStatusError("GET", urlStr, resp.StatusCode,
			fmt.Errorf("unexpected status code"))
	}
}

func (c *HTTPClient) fileInfo(header http.Header, urlStr string, size int64, resumable bool) *FileInfo {
	disposition := header.Get("Content-Disposition")
	contentType := header.Get("Content-Type")

	return &FileInfo{
		Size:               size,
		Resumable:          resumable,
		Filename:           urlutil.ResolveFilename(urlStr, disposition, contentType),
		ContentType:        contentType,
		ContentDisposition: disposition,
		LastModified:       header.Get("Last-Modified"),
		ETag:               header.Get("ETag"),
	}
}

// Fetch opens a GET for urlStr. Non-2xx responses are returned as an
// *HTTPError carrying the status code.
func (c *HTTPClient) Fetch(ctx context.Context, urlStr string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}

	c.applyHeaders(req, headers)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewHTTPNetworkError("GET", urlStr, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, NewHTTPStatusError("GET", urlStr, resp.StatusCode,
			fmt.Errorf("GET request returned status %d", resp.StatusCode))
	}

	return &Response{
		Body:               resp.Body,
		ContentLength:      resp.ContentLength,
		ContentType:        resp.Header.Get("Content-Type"),
		ContentDisposition: resp.Header.Get("Content-Disposition"),
	}, nil
}

func (c *HTTPClient) applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range c.config.DefaultHeaders {
		req.Header.Set(k, v)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func (c *HTTPClient) Supports(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return scheme == "http" || scheme == "https"
}

func (c *HTTPClient) Cleanup() error {
	c.transport.CloseIdleConnections()
	return nil
}
