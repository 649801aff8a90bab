package mediafetch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const MaxFilenameBytes = 120

// SanitizeFilename strips path separators and control characters and caps the length (keeping the extension), so
// the result is safe to hand to a delivery layer or use as a local file name.
func SanitizeFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '_'
		case unicode.IsControl(r) || r == utf8.RuneError:
			return -1
		default:
			return r
		}
	}, name)
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "media"
	}
	if len(cleaned) <= MaxFilenameBytes {
		return cleaned
	}

	ext := ""
	if i := strings.LastIndexByte(cleaned, '.'); i > 0 && len(cleaned)-i <= 8 {
		ext = cleaned[i:]
	}
	return truncateUTF8(cleaned[:len(cleaned)-len(ext)], MaxFilenameBytes-len(ext)) + ext
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return strings.TrimSpace(s[:max])
}
