// Package api is the client side of the dropbin control plane.
//
// # Overview
//
// Client talks JSON over HTTP to the server routes under /api/v1 and
// implements session.ControlPlane, so an upload session can negotiate slots,
// commit and roll back through it. ReadLocations feeds the archiver on the
// download path.
//
// # Error Handling
//
// Every failure is translated into one of a few kinds before it leaves the
// package, matched with errors.Is:
//
//   - common.ErrRateLimited: the server answered 429. The error is a
//     *RateLimitedError carrying Remaining and RetryAfter.
//   - common.ErrRejected: any other non-2xx answer, as *RejectedError. It
//     also matches the sentinel of its status (ErrValidation, ErrForbidden,
//     ErrSlugTaken, ErrTokenUsed...).
//   - common.ErrNetwork: the request never got an answer.
//
// Context cancellation is returned untouched so callers never mistake a user
// abort for a failure.
package api
