package common

const (
	// AntiAbuseHeaderName carries the proof-of-work nonce on negotiate calls
	// made by clients that cannot put it in the body.
	AntiAbuseHeaderName = "X-Anti-Abuse-Token"

	// RetryAfterHeaderName is the standard header set on 429 responses.
	RetryAfterHeaderName = "Retry-After"

	// RateLimitRemainingHeaderName reports the attempts left in the window.
	RateLimitRemainingHeaderName = "X-RateLimit-Remaining"
)
