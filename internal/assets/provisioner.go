// Package assets makes sure model artifacts exist on local disk before the
// service starts, downloading missing ones from Google Drive.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Google Drive direct-download endpoint.
const DefaultBaseURL = "https://drive.google.com/uc"

// FetchError reports that an asset could not be fetched. It is fatal at startup.
type FetchError struct {
	Name     string
	RemoteID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch asset %s (id=%s): %v", e.Name, e.RemoteID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Provisioner downloads each missing local file from its remote id.
type Provisioner struct {
	dir      string
	files    map[string]string
	baseURL  string
	client   *http.Client
	progress io.Writer
	logger   *zap.Logger
}

// Option customises a Provisioner.
type Option func(*Provisioner)

// WithBaseURL points downloads at another endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provisioner) { p.baseURL = u }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provisioner) { p.client = c }
}

// WithProgress renders a download progress bar to w.
func WithProgress(w io.Writer) Option {
	return func(p *Provisioner) { p.progress = w }
}

// NewProvisioner builds a provisioner for files, a map of local filename
// (relative to dir) to remote id.
func NewProvisioner(dir string, files map[string]string, logger *zap.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		dir:     dir,
		files:   files,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
		logger:  logger.Named("assets"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure fetches every missing asset. Present files are left untouched.
func (p *Provisioner) Ensure(ctx context.Context) error {
	names := make([]string, 0, len(p.files))
	for name := range p.files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(p.dir, name)
		if _, err := os.Stat(path); err == nil {
			p.logger.Debug("asset present", zap.String("asset", name))
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return &FetchError{Name: name, RemoteID: p.files[name], Err: err}
		}

		id := p.files[name]
		if id == "" {
			return &FetchError{Name: name, Err: errors.New("file is missing and no remote id is configured")}
		}

		p.logger.Info("downloading asset", zap.String("asset", name), zap.String("remote_id", id))
		start := time.Now()
		n, err := p.fetch(ctx, path, id)
		if err != nil {
			return &FetchError{Name: name, RemoteID: id, Err: err}
		}
		p.logger.Info("asset ready",
			zap.String("asset", name),
			zap.Int64("bytes", n),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}

// DownloadURL returns the direct-download link for id.
func (p *Provisioner) DownloadURL(id string) string {
	q := url.Values{}
	q.Set("export", "download")
	q.Set("id", id)
	q.Set("confirm", "t")
	return p.baseURL + "?" + q.Encode()
}

func (p *Provisioner) fetch(ctx context.Context, path, id string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.DownloadURL(id), nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	// Drive answers quota and permission problems with an HTML page.
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "text/html" {
		return 0, errors.New("remote returned an HTML page instead of the file")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	var dst io.Writer = tmp
	if p.progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription("Downloading "+filepath.Base(path)),
			progressbar.OptionSetWriter(p.progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.progress) }),
		)
		dst = io.MultiWriter(tmp, bar)
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("remote returned an empty body")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return n, nil
}
