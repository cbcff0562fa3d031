package fetcher

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source is one dataset to download. Path is where the dataset file must
// end up; a zip URL is extracted next to it and must contain that file.
type Source struct {
	Name string
	URL  string
	Path string
}

// Result describes what Sync did for one source.
type Result struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
	Changed bool   `json:"changed"`
}

// Syncer keeps local dataset files in step with their published URLs.
type Syncer struct {
	http        *HTTPFetcher
	concurrency int
}

// NewSyncer creates a Syncer running at most concurrency downloads at once.
func NewSyncer(f *HTTPFetcher, concurrency int) *Syncer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Syncer{http: f, concurrency: concurrency}
}

// Sync downloads every source whose ETag changed since the last sync.
// Results are in source order. The first failure cancels the rest.
func (s *Syncer) Sync(ctx context.Context, sources []Source) ([]Result, error) {
	results := make([]Result, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			res, err := s.syncOne(gctx, src)
			if err != nil {
				return eris.Wrapf(err, "fetcher: sync %s", src.Name)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Syncer) syncOne(ctx context.Context, src Source) (Result, error) {
	res := Result{Name: src.Name, Path: src.Path}
	etagPath := src.Path + ".etag"

	etag, err := cachedETag(src.Path, etagPath)
	if err != nil {
		return res, err
	}

	body, newETag, changed, err := s.http.DownloadIfChanged(ctx, src.URL, etag)
	if err != nil {
		return res, err
	}
	if !changed {
		zap.L().Info("fetcher: dataset unchanged", zap.String("dataset", src.Name))
		return res, nil
	}
	defer body.Close() //nolint:errcheck

	dir := filepath.Dir(src.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, eris.Wrap(err, "fetcher: create data dir")
	}

	if isZip(src.URL) {
		res.Bytes, err = saveArchive(body, dir, src.Path)
	} else {
		res.Bytes, err = saveFile(body, src.Path)
	}
	if err != nil {
		return res, err
	}
	res.Changed = true

	if newETag != "" {
		if err := os.WriteFile(etagPath, []byte(newETag), 0o644); err != nil {
			return res, eris.Wrap(err, "fetcher: write etag")
		}
	}

	zap.L().Info("fetcher: downloaded dataset",
		zap.String("dataset", src.Name),
		zap.String("path", src.Path),
		zap.Int64("bytes", res.Bytes),
	)
	return res, nil
}

// cachedETag returns the stored ETag, or "" when either the dataset or its
// ETag file is missing so that the download is unconditional.
func cachedETag(path, etagPath string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	b, err := os.ReadFile(etagPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "fetcher: read etag")
	}
	return strings.TrimSpace(string(b)), nil
}

func isZip(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(filepath.Ext(u.Path), ".zip")
}

// saveFile writes body to a temp file beside path and renames it into
// place so a failed download never leaves a truncated dataset.
func saveFile(body io.Reader, path string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return n, eris.Wrap(err, "fetcher: write download")
	}
	if err := tmp.Close(); err != nil {
		return n, eris.Wrap(err, "fetcher: close download")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, eris.Wrap(err, "fetcher: move download into place")
	}
	return n, nil
}

func saveArchive(body io.Reader, dir, want string) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".download-*.zip")
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create temp archive")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return n, eris.Wrap(err, "fetcher: write archive")
	}
	if err := tmp.Close(); err != nil {
		return n, eris.Wrap(err, "fetcher: close archive")
	}

	base := filepath.Base(want)
	files, err := ExtractDataset(tmp.Name(), dir, strings.TrimSuffix(base, filepath.Ext(base)))
	if err != nil {
		return n, err
	}
	if !slices.Contains(files, filepath.Join(dir, base)) {
		return n, eris.Errorf("fetcher: archive has no %s", base)
	}
	return n, nil
}
