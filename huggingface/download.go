// download.go - Aufloesen und Herunterladen von Modell-Snapshots
// Hauptfunktionen:
// - Resolve: Lokales Verzeichnis, Cache-Treffer oder Download
// - Downloads laufen parallel (errgroup), mit Wiederholung und Fortsetzen

package huggingface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// Download-Konstanten
const (
	MaxDownloadRetries = 3
	DownloadRetryDelay = 2 * time.Second
	DefaultParallelism = 4
)

// DefaultPatterns sind die Dateien, die fuer Konvertierung und Tokenizer gebraucht werden
var DefaultPatterns = []string{
	"*.json",
	"*.safetensors",
	"tokenizer.model",
	"*.jinja",
}

// ErrNoFiles wird zurueckgegeben wenn kein Repository-Eintrag auf die Patterns passt
var ErrNoFiles = errors.New("no files match the requested patterns")

// Resolve gibt ein lokales Verzeichnis fuer id zurueck.
// Ein existierendes Verzeichnis wird unveraendert verwendet, sonst wird der
// Snapshot aus dem Cache genommen oder heruntergeladen.
func (c *Client) Resolve(ctx context.Context, id, revision string, patterns []string) (string, error) {
	if fi, err := os.Stat(id); err == nil && fi.IsDir() {
		slog.Debug("using local model directory", "path", id)
		return id, nil
	}

	if revision == "" {
		revision = DefaultRevision
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	if err := validateModelID(id); err != nil {
		return "", err
	}

	if dir, ok := CachedSnapshot(c.cacheDir, id, revision, patterns); ok {
		slog.Info("using cached model", "model", id, "revision", revision, "path", dir)
		return dir, nil
	}

	return c.Download(ctx, id, revision, patterns)
}

// Download laedt alle auf patterns passenden Dateien einer Revision in den Cache
func (c *Client) Download(ctx context.Context, id, revision string, patterns []string) (string, error) {
	info, err := c.ModelInfo(ctx, id, revision)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) && c.token == "" {
			return "", fmt.Errorf("%w (set HF_TOKEN for gated models)", err)
		}
		return "", err
	}

	if info.IsGated() && c.token == "" {
		return "", fmt.Errorf("%s: %w (accept the license on the hub and set HF_TOKEN)", id, ErrGatedModel)
	}

	files := filterFiles(info.Siblings, patterns)
	if len(files) == 0 {
		return "", fmt.Errorf("%s: %w %v", id, ErrNoFiles, patterns)
	}

	commit := info.SHA
	if commit == "" {
		commit = revision
	}
	dir := snapshotPath(c.cacheDir, id, commit)

	var size int64
	for _, f := range files {
		size += f.FileSize()
	}
	slog.Info("downloading model", "model", id, "revision", revision, "files", len(files), "size", size)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, f := range files {
		g.Go(func() error {
			target := filepath.Join(dir, f.Filename)
			if fi, err := os.Stat(target); err == nil && (f.FileSize() == 0 || fi.Size() == f.FileSize()) {
				slog.Debug("cached", "file", f.Filename)
				return nil
			}

			if err := c.downloadFile(ctx, c.fileURL(id, commit, f.Filename), target); err != nil {
				return fmt.Errorf("%s: %w", f.Filename, err)
			}
			slog.Info("downloaded", "file", f.Filename, "size", f.FileSize())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if err := markComplete(c.cacheDir, id, commit, patterns, files); err != nil {
		return "", err
	}

	if commit != revision {
		if err := writeRef(c.cacheDir, id, revision, commit); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// downloadFile laedt eine Datei mit Wiederholungen herunter
func (c *Client) downloadFile(ctx context.Context, u, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	var lastErr error
	for attempt := range MaxDownloadRetries {
		if attempt > 0 {
			slog.Warn("retrying download", "url", u, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		lastErr = c.doDownload(ctx, u, target)
		if lastErr == nil {
			return nil
		}

		// 4xx ausser 429 wird nicht wiederholt
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.retryable() {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", MaxDownloadRetries, lastErr)
}

// doDownload schreibt nach target.download und benennt danach um.
// Eine vorhandene Teildatei wird per Range-Request fortgesetzt.
func (c *Client) doDownload(ctx context.Context, u, target string) error {
	tmp := target + ".download"

	header := http.Header{}
	var existing int64
	if fi, err := os.Stat(tmp); err == nil {
		existing = fi.Size()
		header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
	}

	resp, err := c.get(ctx, u, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if existing > 0 && resp.StatusCode == http.StatusPartialContent {
		flags = os.O_WRONLY | os.O_APPEND
	}

	f, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// filterFiles waehlt die Repository-Dateien, die auf eines der Patterns passen
func filterFiles(siblings []APISibling, patterns []string) []APISibling {
	var result []APISibling
	for _, s := range siblings {
		for _, pattern := range patterns {
			if m, _ := filepath.Match(pattern, s.Filename); m {
				result = append(result, s)
				break
			}
		}
	}
	return result
}
