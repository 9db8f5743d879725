// Package archive rebuilds a bundle as one ZIP stream on the download side.
//
// Fetches run concurrently and spool to temp files; a single writer
// goroutine owns the zip.Writer and appends spooled files one at a time.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/logging"
	"github.com/dmitrijs2005/dropbin/internal/netx"
)

// DefaultParallelism is the number of concurrent fetches.
const DefaultParallelism = 4

// Fetcher opens the body behind a read location.
type Fetcher interface {
	Fetch(ctx context.Context, loc bundle.ReadLocation) (io.ReadCloser, error)
}

// HTTPFetcher GETs presigned URLs.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, loc bundle.ReadLocation) (io.ReadCloser, error) {
	body, _, err := netx.GetPresigned(ctx, f.Client, loc.URL)
	return body, err
}

// Result summarises an archive run.
type Result struct {
	Files    []FileProgress
	Archived int
	Failed   int
}

type Archiver struct {
	fetcher  Fetcher
	parallel int
	tempDir  string
	logger   logging.Logger
	now      func() time.Time
}

type Option func(*Archiver)

func WithParallelism(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.parallel = n
		}
	}
}

// WithTempDir sets where fetched bodies are spooled. Empty means os.TempDir.
func WithTempDir(dir string) Option { return func(a *Archiver) { a.tempDir = dir } }

func WithLogger(l logging.Logger) Option { return func(a *Archiver) { a.logger = l } }

func NewArchiver(f Fetcher, opts ...Option) *Archiver {
	a := &Archiver{fetcher: f, parallel: DefaultParallelism, logger: logging.Nop{}, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("module", "archive")
	return a
}

type spooled struct {
	index int
	file  *os.File
	size  int64
}

// Archive fetches every location and writes one ZIP to dst. A failed fetch
// marks that file as errored and leaves it out; the run only fails with
// common.ErrDownloadFailed when nothing could be archived. onProgress may be
// nil.
func (a *Archiver) Archive(ctx context.Context, locs []bundle.ReadLocation, dst io.Writer, onProgress func(Progress)) (*Result, error) {
	if len(locs) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", common.ErrDownloadFailed)
	}

	names := entryNames(locs)
	st := newState(locs, names, onProgress)
	zw := zip.NewWriter(dst)

	queue := make(chan spooled, len(locs))
	writerErr := make(chan error, 1)
	go func() {
		writerErr <- a.writeEntries(zw, names, queue, st)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallel)
	for i := range locs {
		g.Go(func() error {
			sp, err := a.fetch(gctx, i, locs[i], st)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				st.fail(i, err)
				a.logger.Warn(ctx, "fetch failed, file skipped", "name", locs[i].FileName, "error", err)
				return nil
			}
			queue <- sp
			return nil
		})
	}
	fetchErr := g.Wait()
	st.setOverall(OverallCompressing)
	close(queue)
	werr := <-writerErr

	if fetchErr == nil && werr == nil && ctx.Err() != nil {
		fetchErr = ctx.Err()
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrCancelled, fetchErr)
	}
	if werr != nil {
		return nil, fmt.Errorf("write archive: %w", werr)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	res := st.result()
	if res.Archived == 0 {
		return res, fmt.Errorf("%w: %d of %d files failed", common.ErrDownloadFailed, res.Failed, len(locs))
	}
	st.setOverall(OverallComplete)
	return res, nil
}

func (a *Archiver) fetch(ctx context.Context, i int, loc bundle.ReadLocation, st *state) (spooled, error) {
	st.phase(i, PhaseDownloading)

	body, err := a.fetcher.Fetch(ctx, loc)
	if err != nil {
		return spooled{}, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(a.tempDir, "dropbin-fetch-*")
	if err != nil {
		return spooled{}, err
	}
	pr := netx.NewProgressReader(body, func(n int64) { st.downloaded(i, n) })
	n, err := io.Copy(tmp, pr)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		discard(tmp)
		return spooled{}, err
	}
	st.phase(i, PhaseDownloaded)
	return spooled{index: i, file: tmp, size: n}, nil
}

// writeEntries is the only user of zw. After an error it keeps draining the
// queue so spooled files are removed.
func (a *Archiver) writeEntries(zw *zip.Writer, names []string, queue <-chan spooled, st *state) error {
	var failed error
	for sp := range queue {
		if failed != nil {
			discard(sp.file)
			continue
		}
		st.phase(sp.index, PhaseCompressing)
		err := a.writeEntry(zw, names[sp.index], sp, st)
		discard(sp.file)
		if err != nil {
			st.fail(sp.index, err)
			failed = err
			continue
		}
		st.phase(sp.index, PhaseDone)
	}
	return failed
}

func (a *Archiver) writeEntry(zw *zip.Writer, name string, sp spooled, st *state) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: a.now(),
	})
	if err != nil {
		return err
	}
	pr := netx.NewProgressReader(sp.file, func(n int64) { st.compressed(sp.index, n) })
	if _, err := io.Copy(w, pr); err != nil {
		return err
	}
	return nil
}

func discard(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}

// entryNames picks one unique name per location in bundle order; repeats
// get a -N suffix before the extension.
func entryNames(locs []bundle.ReadLocation) []string {
	out := make([]string, len(locs))
	used := make(map[string]bool, len(locs))
	for i, loc := range locs {
		name := path.Base(strings.ReplaceAll(loc.FileName, "\\", "/"))
		if name == "." || name == "/" || name == "" {
			name = fmt.Sprintf("file-%d", i+1)
		}
		candidate := name
		ext := path.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for n := 1; used[strings.ToLower(candidate)]; n++ {
			candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
		}
		used[strings.ToLower(candidate)] = true
		out[i] = candidate
	}
	return out
}
