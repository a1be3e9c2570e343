package normalize

import "regexp"

// templateArtifact matches broken Go-style template substitutions such as
// "%!f(<nil>)" or "%!s(<nil>)" that leak through when an upstream template
// engine formats a missing value.
var templateArtifact = regexp.MustCompile(`%![a-zA-Z]\(<nil>\)`)

// Sanitize replaces broken template artifacts with "N/A". An empty string
// is returned unchanged; SanitizeOr supplies a fallback for that case.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	return templateArtifact.ReplaceAllString(s, "N/A")
}

// SanitizeOr sanitizes s, returning fallback when the result is empty.
func SanitizeOr(s, fallback string) string {
	s = Sanitize(s)
	if s == "" {
		return fallback
	}
	return s
}
