// Package hub downloads files from a Hugging Face Hub compatible model
// repository and keeps them in a local cache.
//
// Files are addressed as {endpoint}/{repo}/resolve/{revision}/{file} and cached
// at {cache}/{repo}/{revision}/{file}. A download is written to a temporary
// ".part" file next to its destination and renamed into place once complete,
// so the cache never holds a truncated file.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Defaults for the public Hub.
const (
	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"
)

var (
	// ErrNotFound is returned when the repository or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the Hub rejects the credentials. The Hub
	// also answers this way for repositories that do not exist.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRepo is returned for malformed repository identifiers.
	ErrInvalidRepo = errors.New("invalid repository id")
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Options configures a Client.
type Options struct {
	Endpoint   string
	Token      string
	CacheDir   string
	UserAgent  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client fetches repository files over HTTP.
type Client struct {
	endpoint  string
	token     string
	cacheDir  string
	userAgent string
	http      *http.Client
	log       *slog.Logger
}

// NewClient returns a client for opts. Empty fields fall back to the public
// Hub and http.DefaultClient.
func NewClient(opts Options) *Client {
	c := &Client{
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		token:     opts.Token,
		cacheDir:  opts.CacheDir,
		userAgent: opts.UserAgent,
		http:      opts.HTTPClient,
		log:       opts.Logger,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// ValidateRepoID checks that repo has the form "namespace/name" (or a bare
// name) with no empty or relative components.
func ValidateRepoID(repo string) error {
	if repo == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRepo)
	}
	parts := strings.Split(repo, "/")
	if len(parts) > 2 {
		return fmt.Errorf("%w: %q has more than one '/'", ErrInvalidRepo, repo)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `\:`) {
			return fmt.Errorf("%w: %q", ErrInvalidRepo, repo)
		}
	}
	return nil
}

func validateFile(file string) error {
	if file == "" || path.IsAbs(file) || path.Clean(file) != file || strings.HasPrefix(file, "../") || file == ".." {
		return fmt.Errorf("invalid file name %q", file)
	}
	return nil
}

// FileURL returns the download URL of file in repo at revision.
func (c *Client) FileURL(repo, revision, file string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repo, url.PathEscape(revision), file)
}

// CachePath returns where file is stored locally.
func (c *Client) CachePath(repo, revision, file string) string {
	return filepath.Join(c.cacheDir, filepath.FromSlash(repo), revision, filepath.FromSlash(file))
}

// Download makes file available in the cache and returns its local path.
// A cached copy is reused without contacting the Hub.
func (c *Client) Download(ctx context.Context, repo, revision, file string) (string, error) {
	if err := ValidateRepoID(repo); err != nil {
		return "", err
	}
	if err := validateFile(file); err != nil {
		return "", err
	}
	if revision == "" {
		revision = DefaultRevision
	}

	dst := c.CachePath(repo, revision, file)
	if info, err := os.Stat(dst); err == nil && info.Mode().IsRegular() {
		c.log.Debug("Using cached file", "repo", repo, "file", file, "path", dst)
		return dst, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	src := c.FileURL(repo, revision, file)
	c.log.Info("Downloading file", "repo", repo, "file", file, "revision", revision)
	n, err := c.fetch(ctx, src, dst)
	if err != nil {
		return "", err
	}
	c.log.Info("File downloaded", "repo", repo, "file", file, "bytes", n)
	return dst, nil
}

// ReadFile downloads file and returns its contents.
func (c *Client) ReadFile(ctx context.Context, repo, revision, file string) ([]byte, error) {
	p, err := c.Download(ctx, repo, revision, file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p) //nolint:gosec // G304: path is inside the cache directory
	if err != nil {
		return nil, fmt.Errorf("failed to read cached %s: %w", file, err)
	}
	return data, nil
}

// fetch streams src to dst through a temporary file in dst's directory.
func (c *Client) fetch(ctx context.Context, src, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", src, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("GET %s: %w", src, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, fmt.Errorf("GET %s: %w", src, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return 0, &StatusError{URL: src, Status: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return n, fmt.Errorf("GET %s: %w", src, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("GET %s: truncated body: got %d of %d bytes", src, n, resp.ContentLength)
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return n, fmt.Errorf("failed to move download into cache: %w", err)
	}
	ok = true
	return n, nil
}
