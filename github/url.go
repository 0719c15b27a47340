package github

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseRepoURL extracts owner and repo from the forms people actually say
// or paste: https URLs, scp-like ssh remotes, bare host paths and owner/repo.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", fmt.Errorf("empty repository URL")
	}

	var path string
	switch {
	case strings.HasPrefix(s, "git@"):
		_, after, ok := strings.Cut(s, ":")
		if !ok {
			return "", "", fmt.Errorf("invalid ssh repository URL %q", raw)
		}
		path = after
	case strings.Contains(s, "://"):
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", fmt.Errorf("parsing repository URL %q: %w", raw, perr)
		}
		path = u.Path
	case strings.HasPrefix(s, "github.com/"), strings.HasPrefix(s, "www.github.com/"):
		_, path, _ = strings.Cut(s, "/")
	default:
		path = s
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository URL %q does not name owner/repo", raw)
	}
	return parts[0], parts[1], nil
}
