package job

import (
	"net/url"
	"strings"
)

// TargetUser is an account discovered through a source item's reaction list.
type TargetUser struct {
	URL      string
	Username string
}

func NewTargetUser(rawURL string) TargetUser {
	return TargetUser{URL: rawURL, Username: DeriveUsername(rawURL)}
}

// DeriveUsername extracts the dedup key from a profile URL: the last
// non-empty path segment, unescaped and lower-cased.
func DeriveUsername(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if p, err := url.PathUnescape(path); err == nil {
		path = p
	}
	return strings.ToLower(strings.TrimSpace(path))
}

// Usernames maps a target list to its dedup keys, preserving order.
func Usernames(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, DeriveUsername(t))
	}
	return out
}
