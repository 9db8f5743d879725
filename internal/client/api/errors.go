package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/dropbin/internal/common"
)

// RateLimitedError is returned for 429 answers.
type RateLimitedError struct {
	Message    string
	Remaining  int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s (%d attempts remaining)", e.RetryAfter, e.Remaining)
}

func (e *RateLimitedError) Is(target error) bool { return target == common.ErrRateLimited }

// RejectedError is any other non-2xx answer.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request rejected: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("request rejected (%d): %s", e.StatusCode, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	if target == common.ErrRejected {
		return true
	}
	s, ok := statusSentinels[e.StatusCode]
	return ok && s == target
}

var statusSentinels = map[int]error{
	http.StatusBadRequest:   common.ErrValidation,
	http.StatusUnauthorized: common.ErrInvalidToken,
	http.StatusForbidden:    common.ErrForbidden,
	http.StatusNotFound:     common.ErrorNotFound,
	http.StatusConflict:     common.ErrSlugTaken,
	http.StatusGone:         common.ErrTokenUsed,
}
