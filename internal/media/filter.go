package media

import "strings"

// EscapeFilterPath escapes a file path for use inside an ffmpeg filter
// string, where colons, backslashes and quotes are special.
func EscapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

// EscapeDrawtext escapes overlay text for the drawtext filter. Percent signs
// trigger expansion, colons end the option, quotes end the value.
func EscapeDrawtext(text string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		":", "\\:",
		"'", "\\\\\\'",
		"%", "\\%",
	)
	return r.Replace(text)
}
