// Package common defines shared constants and sentinel errors used across
// client and server layers of dropbin. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
	ErrForbidden  = errors.New("forbidden")
	ErrSlugTaken  = errors.New("slug already taken")

	// Local validation, raised before any network call.
	ErrValidation = errors.New("validation error")

	// Control-plane outcomes as seen by the client.
	ErrRateLimited = errors.New("rate limited")
	ErrRejected    = errors.New("request rejected")
	ErrNetwork     = errors.New("network failure")

	// Transfer pipeline outcomes.
	ErrTransferFailed = errors.New("transfer failed")
	ErrCancelled      = errors.New("transfer cancelled")
	ErrUserCancelled  = errors.New("cancelled by user")
	ErrDownloadFailed = errors.New("no file could be downloaded")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")
	ErrTokenUsed    = errors.New("token already used")
)
