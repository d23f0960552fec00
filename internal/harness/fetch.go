package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mridang/claude-ime-patch/internal/logging"
)

// NotFoundError reports a release artifact that does not exist, which
// marks the unit as ignored rather than failed.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("404 not found: %s", e.URL)
}

// Fetcher downloads release artifacts and keeps them under the cache
// directory.
type Fetcher struct {
	cfg    Config
	fs     afero.Fs
	client *retryablehttp.Client
	log    *zap.Logger
}

// NewFetcher returns a Fetcher caching into fs.
func NewFetcher(cfg Config, fs afero.Fs, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.RetryMax = 1
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = logging.NewLeveled(log)
	return &Fetcher{cfg: cfg, fs: fs, client: client, log: log}
}

// CachePath is where the pristine artifact of version on platform is
// kept.
func (f *Fetcher) CachePath(version, platform string) string {
	return filepath.Join(f.cfg.CacheDir, platform, artifactName(version, platform, false))
}

// Fetch returns the artifact bytes, from the cache when present. URLs
// are tried in order; a 404 on every URL yields *NotFoundError.
func (f *Fetcher) Fetch(ctx context.Context, version, platform string) ([]byte, error) {
	path := f.CachePath(version, platform)
	if data, err := afero.ReadFile(f.fs, path); err == nil {
		f.log.Debug("cache hit", zap.String("path", path))
		return data, nil
	}

	kind := KindBinary
	if platform == PlatformJS {
		kind = KindJS
	}
	urls := f.cfg.urls(kind)
	if len(urls) == 0 {
		return nil, fmt.Errorf("no %s source configured", kind)
	}

	var lastErr error
	for _, tmpl := range urls {
		url := expand(tmpl, f.cfg.Package, version, platform)
		data, err := f.get(ctx, url)
		if err == nil {
			if err := f.store(path, data); err != nil {
				return nil, err
			}
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.log.Warn("download failed", zap.String("url", url), zap.Error(err))
		lastErr = err
	}
	return nil, lastErr
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return f.do(req)
}

func (f *Fetcher) do(req *retryablehttp.Request) ([]byte, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{URL: req.URL.String()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download: %d for %s", resp.StatusCode, req.URL)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL, err)
	}
	return data, nil
}

func (f *Fetcher) store(path string, data []byte) error {
	if err := f.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := afero.WriteFile(f.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// artifactName is the cached file name: cli-<v>.js for the npm script,
// claude-<v>[.exe] for executables, with -patched before the extension
// for rewritten copies.
func artifactName(version, platform string, patched bool) string {
	suffix := ""
	if patched {
		suffix = "-patched"
	}
	if platform == PlatformJS {
		return "cli-" + version + suffix + ".js"
	}
	return "claude-" + version + suffix + exeExt(platform)
}

// isNotFound reports whether err is or wraps a *NotFoundError.
func isNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// removeQuiet deletes a file and ignores a missing one.
func removeQuiet(fs afero.Fs, path string) error {
	if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
