package gitx

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// tokenUser is the username paired with a token in an authenticated URL.
const tokenUser = "x-access-token"

// NormalizeURL converts a git remote URL into a canonical repo_id.
//
// Rules:
//   - Strip protocol (https://, git://, ssh://) and user (git@)
//   - Convert git@host:path to host/path
//   - Lowercase the host portion
//   - Strip trailing ".git"
//   - Strip trailing slashes
//
// Examples:
//
//	git@github.com:Org/Repo.git  → github.com/Org/Repo
//	https://github.com/Org/Repo.git → github.com/Org/Repo
func NormalizeURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	var host, path string

	// Handle SSH shorthand: git@host:path
	if i := strings.Index(rawURL, "@"); i >= 0 && !strings.Contains(rawURL[:i], "://") {
		// SSH shorthand like git@github.com:Org/Repo.git
		rest := rawURL[i+1:]
		if colonIdx := strings.Index(rest, ":"); colonIdx >= 0 {
			host = rest[:colonIdx]
			path = rest[colonIdx+1:]
		}
	} else {
		// URL with protocol
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return rawURL
		}
		host = parsed.Hostname()
		path = strings.TrimPrefix(parsed.Path, "/")
	}

	host = strings.ToLower(host)
	path = strings.TrimSuffix(path, ".git")
	path = strings.TrimRight(path, "/")

	if host == "" {
		return path
	}
	return host + "/" + path
}

// PrimaryRemote selects the preferred remote from a list.
// Prefers "origin", falls back to first alphabetically.
func PrimaryRemote(remoteNames []string) string {
	if len(remoteNames) == 0 {
		return ""
	}
	for _, name := range remoteNames {
		if name == "origin" {
			return "origin"
		}
	}
	sorted := make([]string, len(remoteNames))
	copy(sorted, remoteNames)
	sort.Strings(sorted)
	return sorted[0]
}

// IsHTTPURL reports whether rawURL uses the http or https scheme.
func IsHTTPURL(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "https" || parsed.Scheme == "http") && parsed.Host != ""
}

// OriginKey returns "scheme://host[:port]" for an http(s) URL. Credentials
// are stored per origin key.
func OriginKey(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" || parsed.Host == "" {
		return "", fmt.Errorf("remote url %q is not an http(s) url", StripToken(rawURL))
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host), nil
}

// WithToken embeds token into an http(s) URL, replacing any existing
// userinfo. Non-http URLs and empty tokens are returned unchanged.
func WithToken(rawURL, token string) string {
	if token == "" || !IsHTTPURL(rawURL) {
		return rawURL
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	parsed.User = url.UserPassword(tokenUser, token)
	return parsed.String()
}

// StripToken removes userinfo from an http(s) URL so it is safe to log.
func StripToken(rawURL string) string {
	if !IsHTTPURL(rawURL) {
		return rawURL
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	parsed.User = nil
	return parsed.String()
}

var credentialsInURL = regexp.MustCompile(`(https?://)[^/@\s'"]+@`)

// RedactCredentials removes userinfo from every http(s) URL embedded in text.
func RedactCredentials(text string) string {
	return credentialsInURL.ReplaceAllString(text, "$1")
}
