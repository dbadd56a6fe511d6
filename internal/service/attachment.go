package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/octobees/vcardsync/internal/repository"
)

const attachmentExt = ".vcf"

// ErrAttachmentStatus is wrapped when an attachment download answers with a non-2xx status.
var ErrAttachmentStatus = errors.New("unexpected attachment status")

// HTTPClient abstracts HTTP requests to simplify testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AttachmentFetcher downloads one attachment into folder and returns its path
// relative to the snapshot root.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, rawURL, folder, fallbackName string) (string, error)
}

// Fetcher downloads vCards over HTTP.
type Fetcher struct {
	httpClient HTTPClient
	limiter    *rate.Limiter
	userAgent  string
	root       string
}

// FetcherOption configures optional dependencies.
type FetcherOption func(*Fetcher)

// WithFetcherHTTPClient overrides the default HTTP client.
func WithFetcherHTTPClient(client HTTPClient) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// WithFetcherLimiter paces downloads. Every Fetch waits for one token.
func WithFetcherLimiter(l *rate.Limiter) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithFetcherUserAgent sets the User-Agent header.
func WithFetcherUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// NewFetcher builds a fetcher that writes below root.
func NewFetcher(root string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{httpClient: http.DefaultClient, root: root}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// In returns a copy writing below root. The limiter stays shared.
func (f *Fetcher) In(root string) *Fetcher {
	cp := *f
	cp.root = root
	return &cp
}

var _ AttachmentFetcher = (*Fetcher)(nil)

// Fetch implements AttachmentFetcher. The body lands in a temp file first and
// is renamed into place once complete.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, folder, fallbackName string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("attachment url is empty")
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create attachment request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrAttachmentStatus, resp.StatusCode)
	}

	name := AttachmentFilename(rawURL, fallbackName)
	dir := filepath.Join(f.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create attachment temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close attachment: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store attachment: %w", err)
	}

	return path.Join(filepath.ToSlash(folder), name), nil
}

// AttachmentFilename derives the local file name from the last URL path
// segment. Names without the .vcf extension fall back to fallback + ".vcf".
func AttachmentFilename(rawURL, fallback string) string {
	var name string
	if u, err := url.Parse(rawURL); err == nil {
		segments := strings.Split(u.EscapedPath(), "/")
		last := segments[len(segments)-1]
		if unescaped, err := url.PathUnescape(last); err == nil {
			name = unescaped
		} else {
			name = last
		}
	}
	name = repository.SanitizeFilename(strings.TrimSpace(name))
	if !strings.HasSuffix(strings.ToLower(name), attachmentExt) || len(name) == len(attachmentExt) {
		name = repository.SanitizeFilename(strings.TrimSpace(fallback)) + attachmentExt
	}
	return name
}
