package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/logging"
	"github.com/dmitrijs2005/dropbin/internal/progress"
)

// DefaultCancelTimeout bounds the rollback call made after a user abort.
const DefaultCancelTimeout = 10 * time.Second

// DefaultFinalizeTimeout bounds the commit call.
const DefaultFinalizeTimeout = 30 * time.Second

// ErrBusy is returned when Upload is called while a session is running.
var ErrBusy = errors.New("an upload session is already running")

// Transferer moves file bytes to their slots. *transfer.Engine implements it.
type Transferer interface {
	Transfer(ctx context.Context, files []bundle.File, slots []bundle.Slot, events chan<- progress.Event) error
}

// Uploader runs upload sessions one at a time.
type Uploader struct {
	cp      ControlPlane
	engine  Transferer
	machine *Machine
	logger  logging.Logger

	tick            time.Duration
	cancelTimeout   time.Duration
	finalizeTimeout time.Duration
}

type Option func(*Uploader)

func WithLogger(l logging.Logger) Option { return func(u *Uploader) { u.logger = l } }

// WithTick sets the progress smoothing interval.
func WithTick(d time.Duration) Option { return func(u *Uploader) { u.tick = d } }

func WithCancelTimeout(d time.Duration) Option {
	return func(u *Uploader) { u.cancelTimeout = d }
}

func WithFinalizeTimeout(d time.Duration) Option {
	return func(u *Uploader) { u.finalizeTimeout = d }
}

func NewUploader(cp ControlPlane, engine Transferer, opts ...Option) *Uploader {
	u := &Uploader{
		cp:              cp,
		engine:          engine,
		machine:         NewMachine(),
		logger:          logging.Nop{},
		tick:            progress.DefaultTick,
		cancelTimeout:   DefaultCancelTimeout,
		finalizeTimeout: DefaultFinalizeTimeout,
	}
	for _, o := range opts {
		o(u)
	}
	u.logger = u.logger.With("module", "session")
	return u
}

// Machine exposes the lifecycle for subscribers.
func (u *Uploader) Machine() *Machine { return u.machine }

// Upload negotiates slots for d, transfers every file and commits the
// bundle. onProgress may be nil; it is never called after Upload returns.
//
// Cancelling ctx aborts the transfer, rolls the provisional bundle back and
// returns common.ErrUserCancelled. A failed transfer returns the
// *transfer.TransferError and the bundle is left to expire server side.
func (u *Uploader) Upload(ctx context.Context, d *bundle.Descriptor, antiAbuseToken string, onProgress func(progress.Snapshot)) (*bundle.Receipt, error) {
	if err := u.machine.Reset(); err != nil {
		return nil, ErrBusy
	}
	if err := u.machine.Transition(StatePreparing); err != nil {
		return nil, err
	}

	handle, slots, err := Negotiate(ctx, u.cp, d, antiAbuseToken)
	if err != nil {
		if ctx.Err() != nil {
			u.move(ctx, StateCancelled)
			return nil, fmt.Errorf("%w: %w", common.ErrUserCancelled, ctx.Err())
		}
		u.move(ctx, StateFailed)
		return nil, err
	}
	log := u.logger.With("slug", handle.Slug)
	log.Info(ctx, "slots negotiated", "files", len(slots), "bytes", d.TotalSize())

	u.move(ctx, StateTransferring)
	err = u.transfer(ctx, d, slots, onProgress)

	switch {
	case err == nil:
	case errors.Is(err, common.ErrCancelled) || ctx.Err() != nil:
		u.move(ctx, StateCancelling)
		u.rollback(ctx, log, handle)
		u.move(ctx, StateCancelled)
		return nil, fmt.Errorf("%w: %w", common.ErrUserCancelled, err)
	default:
		log.Error(ctx, "transfer failed", "error", err)
		u.move(ctx, StateFailed)
		return nil, err
	}

	u.move(ctx, StateFinalizing)
	receipt, err := u.finalize(ctx, handle, d)
	if err != nil {
		log.Error(ctx, "finalize failed", "error", err)
		u.move(ctx, StateFailed)
		return nil, err
	}
	log.Info(ctx, "bundle committed", "expires_at", receipt.ExpiresAt)
	u.move(ctx, StateDone)
	return receipt, nil
}

// transfer runs the engine and the progress tracker side by side. The
// tracker goroutine has exited by the time it returns. The tracker is only
// stopped when the engine fails: if every file landed, a late cancel of ctx
// still gets the final snapshot published.
func (u *Uploader) transfer(ctx context.Context, d *bundle.Descriptor, slots []bundle.Slot, onProgress func(progress.Snapshot)) error {
	trackCtx, stopTracking := context.WithCancel(context.WithoutCancel(ctx))
	defer stopTracking()

	events := make(chan progress.Event, 4*len(slots)+1)
	ticker := time.NewTicker(u.tick)
	defer ticker.Stop()

	publish := onProgress
	if publish == nil {
		publish = func(progress.Snapshot) {}
	}

	tracker := progress.NewTracker(d.Sizes())
	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		tracker.Run(trackCtx, events, ticker.C, publish)
	}()

	err := u.engine.Transfer(ctx, d.Files(), slots, events)
	if err != nil {
		stopTracking()
	}
	close(events)
	<-trackerDone
	return err
}

// finalize commits the bundle. The call is detached from ctx: once every
// file landed, completion wins over a late cancel.
func (u *Uploader) finalize(ctx context.Context, h *bundle.Handle, d *bundle.Descriptor) (*bundle.Receipt, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.finalizeTimeout)
	defer cancel()

	resp, err := u.cp.Finalize(fctx, bundle.FinalizeRequestFor(h, d))
	if err != nil {
		return nil, err
	}
	retention := bundle.Retention(resp.RetentionTimeCode)
	if retention == "" {
		retention = h.Retention
	}
	slug := resp.Slug
	if slug == "" {
		slug = h.Slug
	}
	return &bundle.Receipt{Slug: slug, Retention: retention, ExpiresAt: resp.ExpiresAt}, nil
}

// rollback is best effort; failures are logged and never surface.
func (u *Uploader) rollback(ctx context.Context, log logging.Logger, h *bundle.Handle) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cancelTimeout)
	defer cancel()

	err := u.cp.Cancel(cctx, bundle.CancelRequest{Slug: h.Slug, CancelToken: h.Credentials.CancelToken()})
	if err != nil {
		log.Warn(cctx, "bundle rollback failed, it will expire server side", "error", err)
		return
	}
	log.Info(cctx, "bundle rolled back")
}

func (u *Uploader) move(ctx context.Context, s State) {
	if err := u.machine.Transition(s); err != nil {
		u.logger.Error(ctx, "state machine", "error", err)
	}
}
