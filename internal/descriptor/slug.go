package descriptor

import "strings"

const (
	MinSlugLength = 4
	MaxSlugLength = 16
)

// reservedSlugs collide with application routes. A slug may neither equal
// nor start with one of them.
var reservedSlugs = []string{"upload", "search", "faq", "api", "admin", "auth", "panel", "success", "schowek"}

func allowedSlugRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}

// ValidateSlug checks a user-chosen slug. An empty slug is valid and means
// "let the server generate one".
func ValidateSlug(slug string) error {
	if slug == "" {
		return nil
	}
	if n := len(slug); n < MinSlugLength || n > MaxSlugLength {
		return invalid("slug", "must be %d-%d characters long", MinSlugLength, MaxSlugLength)
	}
	for _, r := range slug {
		if !allowedSlugRune(r) {
			return invalid("slug", "contains disallowed character %q", r)
		}
	}
	lower := strings.ToLower(slug)
	for _, word := range reservedSlugs {
		if strings.HasPrefix(lower, word) {
			return invalid("slug", "%q is reserved", word)
		}
	}
	return nil
}
