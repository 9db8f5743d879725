// Package models defines server-side data models persisted in the database.
package models

import "time"

// Bundle status values.
const (
	StatusProvisional = "provisional"
	StatusCommitted   = "committed"
	StatusCancelled   = "cancelled"
)

// File upload status values.
const (
	UploadPending   = "pending"
	UploadCommitted = "committed"
)

// Bundle is one upload: a provisional reservation until finalize commits it.
type Bundle struct {
	ID        string
	Slug      string
	Status    string
	Retention string
	IsPrivate bool
	IsPublic  bool
	// AccessCodeHash is the bcrypt hash of the access code of private bundles.
	AccessCodeHash []byte
	// FinalizeJTI and CancelJTI are the ids of the session tokens issued at
	// negotiation. A guarded update on them makes each token single use.
	FinalizeJTI string
	CancelJTI   string
	Tier        string
	ClientIP    string
	CreatedAt   time.Time
	CommittedAt *time.Time
	ExpiresAt   *time.Time
}

// File is one file of a bundle, in submission order.
type File struct {
	BundleID     string
	Index        int
	FileName     string
	ContentType  string
	Size         int64
	StorageKey   string
	LastModified *time.Time
	UploadStatus string
}
