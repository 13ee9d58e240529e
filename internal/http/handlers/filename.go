package handlers

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFilenameRunes = 200

// sanitizeFilename returns a header-safe base name without the .pdf
// extension. It never returns an empty string.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	for {
		trimmed := strings.TrimSpace(name)
		if len(trimmed) >= 4 && strings.EqualFold(trimmed[len(trimmed)-4:], ".pdf") {
			name = trimmed[:len(trimmed)-4]
			continue
		}
		name = trimmed
		break
	}

	var b strings.Builder
	n := 0
	for _, r := range name {
		if n >= maxFilenameRunes {
			break
		}
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			continue
		case strings.ContainsRune(`"\/:*?<>|;`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
		n++
	}

	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "resume"
	}
	return out
}

// contentDisposition builds the attachment header for base + ".pdf". Names
// outside ASCII get an ASCII fallback plus an RFC 5987 filename*.
func contentDisposition(base string) string {
	name := base + ".pdf"
	if isASCII(name) {
		return fmt.Sprintf(`attachment; filename="%s"`, name)
	}
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, asciiFallback(name), encodeRFC5987(name))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func asciiFallback(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func encodeRFC5987(s string) string {
	const attrChars = "!#$&+-.^_`|~"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < utf8.RuneSelf && (unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) || strings.IndexByte(attrChars, c) >= 0) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}
