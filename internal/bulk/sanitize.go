package bulk

import (
	"strings"
	"unicode/utf8"
)

// maxDirNameLength bounds a sanitized destination directory name.
const maxDirNameLength = 128

// reservedNames are device names Windows refuses as directory names.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Sanitize turns a repository name into a safe directory name. Path
// separators, control characters, and reserved device names become
// underscores; consecutive underscores collapse; leading and trailing dots
// and spaces are stripped; the result is at most 128 bytes. Idempotent:
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':':
			sb.WriteByte('_')
		case r < 0x20 || r == 0x7f:
			sb.WriteByte('_')
		default:
			sb.WriteRune(r)
		}
	}
	out := sb.String()

	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, ". ")

	if len(out) > maxDirNameLength {
		cut := maxDirNameLength
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		// Truncation may expose a trailing dot or space.
		out = strings.Trim(out[:cut], ". ")
	}

	if out == "" {
		return "_"
	}
	base, _, _ := strings.Cut(out, ".")
	if _, reserved := reservedNames[strings.ToUpper(base)]; reserved {
		return "_"
	}
	return out
}
