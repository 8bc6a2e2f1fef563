package config

import "strings"

// NormalizeRepository canonicalizes a repository reference down to
// "owner/repo", accepting bare "owner/repo", full HTTPS URLs, and SSH remotes.
func NormalizeRepository(repository string) string {
	normalized := strings.ToLower(strings.TrimSpace(repository))
	normalized = strings.TrimSuffix(normalized, "/")
	normalized = strings.TrimSuffix(normalized, ".git")
	normalized = strings.TrimSuffix(normalized, "/")

	for _, prefix := range []string{
		"https://github.com/",
		"http://github.com/",
		"github.com/",
		"git@github.com:",
	} {
		if strings.HasPrefix(normalized, prefix) {
			normalized = strings.TrimPrefix(normalized, prefix)
			break
		}
	}

	return normalized
}

// SplitRepository splits a normalized "owner/repo" string into its parts.
func SplitRepository(repository string) (owner, repo string, ok bool) {
	parts := strings.SplitN(NormalizeRepository(repository), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
