package descriptor

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxNameLength is the longest accepted file name, in bytes.
const MaxNameLength = 255

// letters that carry no combining mark after NFD, so they are mapped by hand.
var foldLetters = map[rune]string{
	'ł': "l", 'Ł': "L",
	'đ': "d", 'Đ': "D",
	'ø': "o", 'Ø': "O",
	'ß': "ss",
	'æ': "ae", 'Æ': "AE",
	'œ': "oe", 'Œ': "OE",
	'þ': "th", 'Þ': "Th",
}

func allowedNameRune(r rune) bool {
	return r < unicode.MaxASCII && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
		r == '.' || r == '-' || r == '_')
}

// SanitizeName rewrites name into the storage-safe alphabet [A-Za-z0-9._-].
// Accented letters lose their marks, whitespace becomes '_', anything else
// outside the alphabet is dropped. The function is idempotent.
func SanitizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastUnderscore := false
	write := func(s string) {
		for _, r := range s {
			if r == '_' {
				if lastUnderscore {
					continue
				}
				lastUnderscore = true
			} else {
				lastUnderscore = false
			}
			b.WriteRune(r)
		}
	}

	for _, r := range folded {
		switch {
		case allowedNameRune(r):
			write(string(r))
		case unicode.IsSpace(r):
			write("_")
		default:
			if s, ok := foldLetters[r]; ok {
				write(s)
			}
		}
	}

	return strings.TrimLeft(b.String(), ".")
}
