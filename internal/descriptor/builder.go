// Package descriptor validates and normalizes a set of files into an
// immutable bundle.Descriptor before any network call is made. The control
// plane runs the same checks on what it receives.
package descriptor

import (
	"github.com/dmitrijs2005/dropbin/internal/bundle"
)

// Build validates files and opts against the caller's tier and returns the
// immutable descriptor. Renamed files are reported as notices, not errors.
func Build(files []bundle.File, opts bundle.Options, tier bundle.Tier) (*bundle.Descriptor, []Notice, error) {
	if len(files) == 0 {
		return nil, nil, invalid("files", "at least one file is required")
	}
	if len(files) > bundle.MaxFiles {
		return nil, nil, invalid("files", "at most %d files per bundle, got %d", bundle.MaxFiles, len(files))
	}

	limit := bundle.TierLimit(tier)
	var notices []Notice
	var total int64
	out := make([]bundle.File, len(files))

	for i, f := range files {
		name := SanitizeName(f.Name)
		if name == "" {
			return nil, nil, invalid("files", "file %d: name %q has no usable characters", i+1, f.Name)
		}
		if len(name) > MaxNameLength {
			return nil, nil, invalid("files", "file %d: name longer than %d bytes", i+1, MaxNameLength)
		}
		if name != f.Name {
			notices = append(notices, Notice{Index: i, Original: f.Name, Sanitized: name})
		}
		if f.Size < 0 {
			return nil, nil, invalid("files", "file %d: negative size", i+1)
		}
		if f.Size > limit {
			return nil, nil, invalid("files", "file %q is %d bytes, limit is %d", name, f.Size, limit)
		}
		total += f.Size
		if total > limit {
			return nil, nil, invalid("files", "bundle exceeds %d bytes", limit)
		}

		f.Name = name
		if f.ContentType == "" {
			f.ContentType = "application/octet-stream"
		}
		out[i] = f
	}

	if err := ValidateSlug(opts.Slug); err != nil {
		return nil, nil, err
	}

	if opts.Retention == "" {
		opts.Retention = bundle.DefaultRetention
	}
	if _, err := opts.Retention.Duration(); err != nil {
		return nil, nil, invalid("retention", "%v", err)
	}

	if opts.Private {
		if err := validateAccessCode(opts.AccessCode); err != nil {
			return nil, nil, err
		}
		opts.Public = false
	} else {
		opts.AccessCode = ""
	}

	return bundle.NewDescriptor(out, opts), notices, nil
}

func validateAccessCode(code string) error {
	if len(code) != bundle.AccessCodeLength {
		return invalid("accessCode", "must be exactly %d characters", bundle.AccessCodeLength)
	}
	for _, r := range code {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return invalid("accessCode", "must be letters and digits only")
		}
	}
	return nil
}
