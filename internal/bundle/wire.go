package bundle

import "time"

// NegotiateRequest asks the control plane for one write slot per file.
type NegotiateRequest struct {
	Slug              string   `json:"slug,omitempty"`
	FileNames         []string `json:"fileNames"`
	ContentTypes      []string `json:"contentTypes"`
	FileSizes         []int64  `json:"fileSizes"`
	IsPrivate         bool     `json:"isPrivate"`
	AccessCode        string   `json:"accessCode,omitempty"`
	IsPubliclyListed  bool     `json:"isPubliclyListed"`
	RetentionTimeCode string   `json:"retentionTimeCode"`
	AntiAbuseToken    string   `json:"antiAbuseToken"`
}

// SlotResponse is one presigned write location. Slots are returned in the
// order of the submitted files.
type SlotResponse struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// NegotiateResponse carries the provisional bundle and its secrets.
type NegotiateResponse struct {
	Slots             []SlotResponse `json:"slots"`
	Slug              string         `json:"slug"`
	RetentionTimeCode string         `json:"retentionTimeCode"`
	FinalizeToken     string         `json:"finalizeToken"`
	CancelToken       string         `json:"cancelToken"`
}

// ManifestFile is one entry of the finalize manifest.
type ManifestFile struct {
	FileName     string    `json:"fileName"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType"`
	LastModified time.Time `json:"lastModified"`
}

// FinalizeRequest commits a provisional bundle.
type FinalizeRequest struct {
	Slug              string         `json:"slug"`
	Files             []ManifestFile `json:"files"`
	IsPrivate         bool           `json:"isPrivate"`
	IsPubliclyListed  bool           `json:"isPubliclyListed"`
	AccessCode        string         `json:"accessCode,omitempty"`
	RetentionTimeCode string         `json:"retentionTimeCode"`
	FinalizeToken     string         `json:"finalizeToken"`
	CancelToken       string         `json:"cancelToken"`
}

// FinalizeResponse confirms the committed bundle.
type FinalizeResponse struct {
	Slug              string    `json:"slug"`
	RetentionTimeCode string    `json:"retentionTimeCode"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// CancelRequest rolls a provisional bundle back.
type CancelRequest struct {
	Slug        string `json:"slug"`
	CancelToken string `json:"cancelToken"`
}

// ReadLocationsRequest asks for short-lived read URLs of a bundle. When
// StoragePaths is empty every file of the bundle is returned.
type ReadLocationsRequest struct {
	Slug         string   `json:"slug"`
	AccessCode   string   `json:"accessCode,omitempty"`
	StoragePaths []string `json:"storagePaths,omitempty"`
}

// ReadLocation is one presigned read URL.
type ReadLocation struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	Key      string `json:"key"`
}

// ReadLocationsResponse lists read URLs in bundle order.
type ReadLocationsResponse struct {
	Files []ReadLocation `json:"files"`
}

// ErrorResponse is the body of every non-2xx answer. Remaining and
// RetryAfter (seconds) are set on 429 answers only; Remaining is a pointer
// so a zero budget is still sent.
type ErrorResponse struct {
	Error      string `json:"error"`
	Remaining  *int   `json:"remaining,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// NegotiateRequestFor builds the wire request for a validated descriptor.
func NegotiateRequestFor(d *Descriptor, antiAbuseToken string) NegotiateRequest {
	opts := d.Options()
	req := NegotiateRequest{
		Slug:              opts.Slug,
		IsPrivate:         opts.Private,
		AccessCode:        opts.AccessCode,
		IsPubliclyListed:  opts.Public,
		RetentionTimeCode: string(opts.Retention),
		AntiAbuseToken:    antiAbuseToken,
	}
	for _, f := range d.files {
		req.FileNames = append(req.FileNames, f.Name)
		req.ContentTypes = append(req.ContentTypes, f.ContentType)
		req.FileSizes = append(req.FileSizes, f.Size)
	}
	return req
}

// FinalizeRequestFor builds the commit request for a negotiated session.
func FinalizeRequestFor(h *Handle, d *Descriptor) FinalizeRequest {
	opts := d.Options()
	req := FinalizeRequest{
		Slug:              h.Slug,
		IsPrivate:         opts.Private,
		IsPubliclyListed:  opts.Public,
		AccessCode:        opts.AccessCode,
		RetentionTimeCode: string(h.Retention),
		FinalizeToken:     h.Credentials.FinalizeToken(),
		CancelToken:       h.Credentials.CancelToken(),
	}
	for _, f := range d.files {
		req.Files = append(req.Files, ManifestFile{
			FileName:     f.Name,
			Size:         f.Size,
			ContentType:  f.ContentType,
			LastModified: f.LastModified,
		})
	}
	return req
}
