// Package bundle defines the data model shared by the dropbin client and
// control plane: file descriptors, transfer descriptors, slots and bundle
// handles, plus the JSON shapes exchanged over the wire.
package bundle

import (
	"io"
	"time"
)

const (
	// MaxFiles is the largest number of files a single bundle may carry.
	MaxFiles = 20
	// AccessCodeLength is the exact length of a private bundle's access code.
	AccessCodeLength = 6
)

// File describes one file of a transfer.
type File struct {
	Name         string
	Size         int64
	ContentType  string
	LastModified time.Time

	// Open yields the file content. It is nil on the server side, where only
	// metadata is known.
	Open func() (io.ReadCloser, error)
}

// Options are the transfer-level settings chosen by the user.
type Options struct {
	// Slug is the requested short name; empty lets the server pick one.
	Slug       string
	Private    bool
	AccessCode string
	Public     bool
	Retention  Retention
}

// Descriptor is a validated, immutable set of files plus options.
// Build it with descriptor.Build.
type Descriptor struct {
	files   []File
	options Options
}

// NewDescriptor is used by the builder once validation has passed.
func NewDescriptor(files []File, options Options) *Descriptor {
	cp := make([]File, len(files))
	copy(cp, files)
	return &Descriptor{files: cp, options: options}
}

// Files returns a copy of the ordered file list.
func (d *Descriptor) Files() []File {
	cp := make([]File, len(d.files))
	copy(cp, d.files)
	return cp
}

// Len returns the number of files.
func (d *Descriptor) Len() int { return len(d.files) }

// Options returns the transfer options.
func (d *Descriptor) Options() Options { return d.options }

// Sizes returns the declared size of every file, in order.
func (d *Descriptor) Sizes() []int64 {
	out := make([]int64, len(d.files))
	for i, f := range d.files {
		out[i] = f.Size
	}
	return out
}

// TotalSize is the sum of the declared file sizes.
func (d *Descriptor) TotalSize() int64 {
	var total int64
	for _, f := range d.files {
		total += f.Size
	}
	return total
}

// Slot is a single-use write location for the file at Index.
type Slot struct {
	Index int
	URL   string
	Key   string
}

// Handle identifies a provisional bundle for the rest of an upload session.
type Handle struct {
	Slug        string
	Retention   Retention
	Credentials SessionCredentials
}

// Receipt confirms a committed bundle.
type Receipt struct {
	Slug      string
	Retention Retention
	ExpiresAt time.Time
}

// FilePhase is the lifecycle of one file inside a transfer session.
type FilePhase int

const (
	PhasePending FilePhase = iota
	PhaseTransferring
	PhaseComplete
	PhaseFailed
)

func (p FilePhase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseTransferring:
		return "transferring"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
