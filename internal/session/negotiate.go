package session

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
)

// ControlPlane is the server side of an upload session.
type ControlPlane interface {
	Negotiate(ctx context.Context, req bundle.NegotiateRequest) (*bundle.NegotiateResponse, error)
	Finalize(ctx context.Context, req bundle.FinalizeRequest) (*bundle.FinalizeResponse, error)
	Cancel(ctx context.Context, req bundle.CancelRequest) error
}

// Negotiate asks the control plane for one slot per file and wraps the
// answer into a Handle. Slots come back in file order.
func Negotiate(ctx context.Context, cp ControlPlane, d *bundle.Descriptor, antiAbuseToken string) (*bundle.Handle, []bundle.Slot, error) {
	resp, err := cp.Negotiate(ctx, bundle.NegotiateRequestFor(d, antiAbuseToken))
	if err != nil {
		return nil, nil, err
	}
	if len(resp.Slots) != d.Len() {
		return nil, nil, fmt.Errorf("%w: got %d slots for %d files", common.ErrRejected, len(resp.Slots), d.Len())
	}
	if resp.Slug == "" || resp.FinalizeToken == "" || resp.CancelToken == "" {
		return nil, nil, fmt.Errorf("%w: incomplete negotiation response", common.ErrRejected)
	}

	slots := make([]bundle.Slot, len(resp.Slots))
	for i, s := range resp.Slots {
		slots[i] = bundle.Slot{Index: i, URL: s.URL, Key: s.Key}
	}

	retention := bundle.Retention(resp.RetentionTimeCode)
	if retention == "" {
		retention = d.Options().Retention
	}
	h := &bundle.Handle{
		Slug:        resp.Slug,
		Retention:   retention,
		Credentials: bundle.NewSessionCredentials(resp.FinalizeToken, resp.CancelToken),
	}
	return h, slots, nil
}
