package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/descriptor"
	"github.com/dmitrijs2005/dropbin/internal/progress"
	"github.com/dmitrijs2005/dropbin/internal/transfer"
)

type fakeControlPlane struct {
	negotiateErr error
	finalizeErr  error
	cancelErr    error

	negotiateCalls atomic.Int32
	finalizeCalls  atomic.Int32
	cancelCalls    atomic.Int32

	mu          sync.Mutex
	lastCancel  bundle.CancelRequest
	lastFinal   bundle.FinalizeRequest
	cancelCtxOK bool
}

func (f *fakeControlPlane) Negotiate(ctx context.Context, req bundle.NegotiateRequest) (*bundle.NegotiateResponse, error) {
	f.negotiateCalls.Add(1)
	if f.negotiateErr != nil {
		return nil, f.negotiateErr
	}
	resp := &bundle.NegotiateResponse{
		Slug:              "abcd1234",
		RetentionTimeCode: req.RetentionTimeCode,
		FinalizeToken:     "fin",
		CancelToken:       "can",
	}
	for i := range req.FileNames {
		resp.Slots = append(resp.Slots, bundle.SlotResponse{URL: "http://storage.invalid/" + req.FileNames[i], Key: req.FileNames[i]})
	}
	return resp, nil
}

func (f *fakeControlPlane) Finalize(ctx context.Context, req bundle.FinalizeRequest) (*bundle.FinalizeResponse, error) {
	f.finalizeCalls.Add(1)
	f.mu.Lock()
	f.lastFinal = req
	f.mu.Unlock()
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	return &bundle.FinalizeResponse{Slug: req.Slug, RetentionTimeCode: req.RetentionTimeCode, ExpiresAt: time.Unix(1700000000, 0)}, nil
}

func (f *fakeControlPlane) Cancel(ctx context.Context, req bundle.CancelRequest) error {
	f.cancelCalls.Add(1)
	f.mu.Lock()
	f.lastCancel = req
	f.cancelCtxOK = ctx.Err() == nil
	f.mu.Unlock()
	return f.cancelErr
}

// storage simulates object storage for the transfer engine.
type storage struct {
	put func(ctx context.Context, slot bundle.Slot, body io.Reader) error
}

func (s storage) Put(ctx context.Context, slot bundle.Slot, body io.Reader, size int64, contentType string) error {
	if s.put != nil {
		return s.put(ctx, slot, body)
	}
	_, err := io.Copy(io.Discard, body)
	return err
}

func mkDescriptor(t *testing.T, contents ...string) *bundle.Descriptor {
	t.Helper()
	var files []bundle.File
	for i, c := range contents {
		c := c
		files = append(files, bundle.File{
			Name: string(rune('a'+i)) + ".txt",
			Size: int64(len(c)),
			Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(c)), nil },
		})
	}
	d, _, err := descriptor.Build(files, bundle.Options{}, bundle.TierAnonymous)
	require.NoError(t, err)
	return d
}

type snapshots struct {
	mu  sync.Mutex
	all []progress.Snapshot
}

func (s *snapshots) add(snap progress.Snapshot) {
	s.mu.Lock()
	s.all = append(s.all, snap)
	s.mu.Unlock()
}

func (s *snapshots) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}

func (s *snapshots) last() progress.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.all[len(s.all)-1]
}

func newUploader(cp ControlPlane, st storage) *Uploader {
	return NewUploader(cp, transfer.NewEngine(st, transfer.WithStagger(0)), WithTick(2*time.Millisecond))
}

func TestUpload_Success(t *testing.T) {
	cp := &fakeControlPlane{}
	u := newUploader(cp, storage{})

	var states []State
	u.Machine().Subscribe(func(c Change) { states = append(states, c.To) })

	var snaps snapshots
	receipt, err := u.Upload(context.Background(), mkDescriptor(t, "hello", "world!!"), "pow", snaps.add)
	require.NoError(t, err)

	assert.Equal(t, "abcd1234", receipt.Slug)
	assert.Equal(t, bundle.DefaultRetention, receipt.Retention)
	assert.EqualValues(t, 1, cp.finalizeCalls.Load())
	assert.EqualValues(t, 0, cp.cancelCalls.Load())
	assert.Equal(t, "fin", cp.lastFinal.FinalizeToken)
	assert.Len(t, cp.lastFinal.Files, 2)

	require.Positive(t, snaps.len())
	final := snaps.last()
	assert.True(t, final.Final)
	assert.Equal(t, 100, final.Percent)
	assert.Equal(t, 100.0, final.Display)

	assert.Equal(t, []State{StatePreparing, StateTransferring, StateFinalizing, StateDone}, states)
}

func TestUpload_SecondFileFailsNeverFinalizes(t *testing.T) {
	cp := &fakeControlPlane{}
	st := storage{put: func(ctx context.Context, slot bundle.Slot, body io.Reader) error {
		if slot.Index == 1 {
			return errors.New("upload failed: 403 Forbidden")
		}
		_, err := io.Copy(io.Discard, body)
		return err
	}}
	u := newUploader(cp, st)

	_, err := u.Upload(context.Background(), mkDescriptor(t, "one", "two", "three"), "", nil)

	require.ErrorIs(t, err, common.ErrTransferFailed)
	assert.Equal(t, StateFailed, u.Machine().State())
	assert.EqualValues(t, 0, cp.finalizeCalls.Load())
	assert.EqualValues(t, 0, cp.cancelCalls.Load())
}

func TestUpload_CancelMidTransfer(t *testing.T) {
	cp := &fakeControlPlane{}
	reading := make(chan struct{}, 3)
	st := storage{put: func(ctx context.Context, slot bundle.Slot, body io.Reader) error {
		buf := make([]byte, 2)
		_, _ = body.Read(buf)
		reading <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}}
	u := newUploader(cp, st)

	ctx, cancel := context.WithCancel(context.Background())
	var snaps snapshots
	done := make(chan error, 1)
	go func() {
		_, err := u.Upload(ctx, mkDescriptor(t, "aaaaaaaa", "bbbbbbbb", "cccccccc"), "", snaps.add)
		done <- err
	}()

	for i := 0; i < 3; i++ {
		<-reading
	}
	time.Sleep(10 * time.Millisecond)
	cancel()

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not return after cancellation")
	}

	require.ErrorIs(t, err, common.ErrUserCancelled)
	require.NotErrorIs(t, err, common.ErrTransferFailed)
	assert.Equal(t, StateCancelled, u.Machine().State())

	after := snaps.len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, snaps.len(), "no progress published after cancellation")

	assert.EqualValues(t, 1, cp.cancelCalls.Load())
	assert.EqualValues(t, 0, cp.finalizeCalls.Load())
	assert.Equal(t, "abcd1234", cp.lastCancel.Slug)
	assert.Equal(t, "can", cp.lastCancel.CancelToken)
	assert.True(t, cp.cancelCtxOK, "rollback must not inherit the cancelled context")
}

// landThenCancel reports every file as complete, then cancels the caller's
// context before returning success, as when the user aborts just after the
// last byte was written.
type landThenCancel struct {
	cancel context.CancelFunc
}

func (e landThenCancel) Transfer(ctx context.Context, files []bundle.File, slots []bundle.Slot, events chan<- progress.Event) error {
	for i, f := range files {
		events <- progress.Event{Index: i, Loaded: f.Size, Total: f.Size, Phase: bundle.PhaseComplete}
	}
	e.cancel()
	<-ctx.Done()
	return nil
}

func TestUpload_LateCancelStillPublishesFinalSnapshot(t *testing.T) {
	cp := &fakeControlPlane{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u := NewUploader(cp, landThenCancel{cancel: cancel}, WithTick(time.Hour))

	var snaps snapshots
	receipt, err := u.Upload(ctx, mkDescriptor(t, "hello", "world!!"), "", snaps.add)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, StateDone, u.Machine().State())
	assert.EqualValues(t, 1, cp.finalizeCalls.Load())
	assert.EqualValues(t, 0, cp.cancelCalls.Load())

	require.Equal(t, 1, snaps.len(), "the final snapshot must be published")
	final := snaps.last()
	assert.True(t, final.Final)
	assert.Equal(t, 100, final.Percent)
	assert.Equal(t, 100.0, final.Display)
}

func TestUpload_CancelFailureStillCancelled(t *testing.T) {
	cp := &fakeControlPlane{cancelErr: common.ErrNetwork}
	st := storage{put: func(ctx context.Context, slot bundle.Slot, body io.Reader) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	u := newUploader(cp, st)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := u.Upload(ctx, mkDescriptor(t, "x"), "", nil)
	require.ErrorIs(t, err, common.ErrUserCancelled)
	assert.Equal(t, StateCancelled, u.Machine().State())
	assert.EqualValues(t, 1, cp.cancelCalls.Load())
}

func TestUpload_NegotiationErrorsPassThrough(t *testing.T) {
	cp := &fakeControlPlane{negotiateErr: common.ErrRateLimited}
	u := newUploader(cp, storage{})

	_, err := u.Upload(context.Background(), mkDescriptor(t, "x"), "", nil)
	require.ErrorIs(t, err, common.ErrRateLimited)
	assert.Equal(t, StateFailed, u.Machine().State())
	assert.EqualValues(t, 0, cp.cancelCalls.Load())

	// a fresh session may start after a terminal one
	cp.negotiateErr = nil
	_, err = u.Upload(context.Background(), mkDescriptor(t, "x"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, StateDone, u.Machine().State())
}

func TestUpload_FinalizeError(t *testing.T) {
	cp := &fakeControlPlane{finalizeErr: common.ErrTokenUsed}
	u := newUploader(cp, storage{})

	_, err := u.Upload(context.Background(), mkDescriptor(t, "x"), "", nil)
	require.ErrorIs(t, err, common.ErrTokenUsed)
	assert.Equal(t, StateFailed, u.Machine().State())
}

func TestNegotiate_SlotCountMismatch(t *testing.T) {
	cp := &shortControlPlane{}
	_, _, err := Negotiate(context.Background(), cp, mkDescriptor(t, "a", "b"), "")
	require.ErrorIs(t, err, common.ErrRejected)
}

type shortControlPlane struct{ fakeControlPlane }

func (s *shortControlPlane) Negotiate(ctx context.Context, req bundle.NegotiateRequest) (*bundle.NegotiateResponse, error) {
	return &bundle.NegotiateResponse{Slug: "abcd", FinalizeToken: "f", CancelToken: "c", Slots: []bundle.SlotResponse{{URL: "u"}}}, nil
}

func TestNegotiate_BuildsHandle(t *testing.T) {
	cp := &fakeControlPlane{}
	h, slots, err := Negotiate(context.Background(), cp, mkDescriptor(t, "a", "b"), "")
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", h.Slug)
	assert.Equal(t, "fin", h.Credentials.FinalizeToken())
	assert.NotContains(t, h.Credentials.String(), "fin")
	require.Len(t, slots, 2)
	assert.Equal(t, 1, slots[1].Index)
	assert.Equal(t, "b.txt", slots[1].Key)
}

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine()
	require.ErrorIs(t, m.Transition(StateTransferring), ErrInvalidTransition)

	require.NoError(t, m.Transition(StatePreparing))
	require.NoError(t, m.Transition(StateTransferring))
	require.ErrorIs(t, m.Transition(StateDone), ErrInvalidTransition)
	require.ErrorIs(t, m.Reset(), ErrInvalidTransition)

	require.NoError(t, m.Transition(StateCancelling))
	require.NoError(t, m.Transition(StateCancelled))
	assert.True(t, m.State().Terminal())

	for _, s := range []State{StatePreparing, StateTransferring, StateFailed, StateDone} {
		require.ErrorIs(t, m.Transition(s), ErrInvalidTransition, s.String())
	}

	var seen []Change
	m.Subscribe(func(c Change) { seen = append(seen, c) })
	require.NoError(t, m.Reset())
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, []Change{{From: StateCancelled, To: StateIdle}}, seen)
}
