// Package transfer streams the files of a bundle to their write slots, one
// goroutine per file, and reports byte progress as progress.Events.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/logging"
	"github.com/dmitrijs2005/dropbin/internal/netx"
	"github.com/dmitrijs2005/dropbin/internal/progress"
)

// DefaultStagger delays the start of file i by i*DefaultStagger.
const DefaultStagger = 50 * time.Millisecond

// ErrSlotMismatch means the slots do not line up with the files.
var ErrSlotMismatch = errors.New("slots do not match files")

// TransferError is the first genuine failure of a session.
type TransferError struct {
	Index int
	Name  string
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("file %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is makes every TransferError match common.ErrTransferFailed.
func (e *TransferError) Is(target error) bool { return target == common.ErrTransferFailed }

// Uploader writes one file body to its slot.
type Uploader interface {
	Put(ctx context.Context, slot bundle.Slot, body io.Reader, size int64, contentType string) error
}

// HTTPUploader PUTs to presigned URLs.
type HTTPUploader struct {
	Client *http.Client
}

func (u HTTPUploader) Put(ctx context.Context, slot bundle.Slot, body io.Reader, size int64, contentType string) error {
	return netx.PutPresigned(ctx, u.Client, slot.URL, body, size, contentType)
}

// Engine runs parallel transfers.
type Engine struct {
	uploader Uploader
	stagger  time.Duration
	logger   logging.Logger
}

type Option func(*Engine)

// WithStagger overrides the per-index start delay. Zero disables it.
func WithStagger(d time.Duration) Option {
	return func(e *Engine) { e.stagger = d }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(u Uploader, opts ...Option) *Engine {
	e := &Engine{uploader: u, stagger: DefaultStagger, logger: logging.Nop{}}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("module", "transfer")
	return e
}

// Transfer uploads files[i] to slots[i] concurrently. events may be nil.
//
// The first failure that is not a cancellation aborts the other writes and
// is returned as *TransferError. If ctx is cancelled before every file
// completed, Transfer returns an error matching common.ErrCancelled. A
// session where all files completed succeeds even if ctx is cancelled
// afterwards.
func (e *Engine) Transfer(ctx context.Context, files []bundle.File, slots []bundle.Slot, events chan<- progress.Event) error {
	if len(files) != len(slots) {
		return fmt.Errorf("%w: %d files, %d slots", ErrSlotMismatch, len(files), len(slots))
	}
	for i, s := range slots {
		if s.Index != i || s.URL == "" {
			return fmt.Errorf("%w: slot %d", ErrSlotMismatch, i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	var completed atomic.Int64

	for i := range files {
		g.Go(func() error {
			if err := sleepCtx(gctx, time.Duration(i)*e.stagger); err != nil {
				return err
			}
			if err := e.transferOne(gctx, i, files[i], slots[i], events); err != nil {
				return err
			}
			completed.Add(1)
			return nil
		})
	}

	err := g.Wait()
	if completed.Load() == int64(len(files)) {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", common.ErrCancelled, ctx.Err())
	}
	return err
}

func (e *Engine) transferOne(ctx context.Context, i int, f bundle.File, slot bundle.Slot, events chan<- progress.Event) error {
	fail := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(ctx, events, progress.Event{Index: i, Total: f.Size, Phase: bundle.PhaseFailed})
		e.logger.Warn(ctx, "file transfer failed", "index", i, "name", f.Name, "error", err)
		return &TransferError{Index: i, Name: f.Name, Err: err}
	}

	if f.Open == nil {
		return fail(errors.New("no content source"))
	}
	rc, err := f.Open()
	if err != nil {
		return fail(err)
	}
	defer rc.Close()

	emit(ctx, events, progress.Event{Index: i, Total: f.Size, Phase: bundle.PhaseTransferring})
	body := netx.NewProgressReader(rc, func(loaded int64) {
		emit(ctx, events, progress.Event{Index: i, Loaded: loaded, Total: f.Size, Phase: bundle.PhaseTransferring})
	})

	if err := e.uploader.Put(ctx, slot, body, f.Size, f.ContentType); err != nil {
		return fail(err)
	}

	emit(ctx, events, progress.Event{Index: i, Loaded: f.Size, Total: f.Size, Phase: bundle.PhaseComplete})
	e.logger.Debug(ctx, "file transferred", "index", i, "name", f.Name, "bytes", body.N())
	return nil
}

func emit(ctx context.Context, events chan<- progress.Event, ev progress.Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
