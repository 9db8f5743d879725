package bundle

// SessionCredentials carries the finalize and cancel secrets of one upload
// session. The fields are unexported so the secrets only travel with the
// Handle they were issued for.
type SessionCredentials struct {
	finalize string
	cancel   string
}

// NewSessionCredentials wraps the tokens returned by slot negotiation.
func NewSessionCredentials(finalizeToken, cancelToken string) SessionCredentials {
	return SessionCredentials{finalize: finalizeToken, cancel: cancelToken}
}

// FinalizeToken returns the secret that commits the bundle.
func (c SessionCredentials) FinalizeToken() string { return c.finalize }

// CancelToken returns the secret that rolls the bundle back.
func (c SessionCredentials) CancelToken() string { return c.cancel }

// IsZero reports whether no credentials were issued.
func (c SessionCredentials) IsZero() bool { return c.finalize == "" && c.cancel == "" }

// String never reveals the secrets, so credentials are safe to log.
func (c SessionCredentials) String() string {
	if c.IsZero() {
		return "SessionCredentials(empty)"
	}
	return "SessionCredentials(redacted)"
}

// GoString keeps %#v from leaking the secrets as well.
func (c SessionCredentials) GoString() string { return c.String() }
