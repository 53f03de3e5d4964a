// Package giturl classifies and parses the clone URL syntaxes git understands
package giturl

import (
	"fmt"
	"regexp"
	"strings"
)

type Scheme string

const (
	SchemeSCP   Scheme = "scp"
	SchemeSSH   Scheme = "ssh"
	SchemeHTTPS Scheme = "https"
	SchemeLocal Scheme = "local"
)

var (
	// The repository name can contain
	// ASCII letters, digits, and the characters ., -, and _.

	// user@host.xz:path/to/repo.git
	scpURLRgx = regexp.MustCompile(`^(?P<user>[\w\-\.]+)@(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)?):(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+(\.git)?)$`)

	// ssh://user@host.xz[:port]/path/to/repo.git
	sshURLRgx = regexp.MustCompile(`^ssh://(?P<user>[\w\-\.]+)@(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)??)/(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+(\.git)?)$`)

	// https://[user@]host.xz[:port]/path/to/repo.git
	httpsURLRgx = regexp.MustCompile(`^https://((?P<user>[\w\-\.]+)@)?(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)?)/(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+(\.git)?)$`)

	// file:///path/to/repo.git
	localURLRgx = regexp.MustCompile(`^file:///(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+(\.git)?)$`)
)

// URL represents parsed git url
type URL struct {
	Scheme Scheme
	User   string // might be empty for http and local urls
	Host   string // host or host:port, empty for local urls
	Path   string // path (org) of the repo
	Repo   string // repository name from the path includes .git
}

// Name returns the repository name without the '.git' suffix
func (u *URL) Name() string {
	return strings.TrimSuffix(u.Repo, ".git")
}

// Parse parses a raw clone url. Case is preserved since repository names
// are used as directory names.
// valid git urls are...
//   - user@host.xz:path/to/repo.git
//   - ssh://user@host.xz[:port]/path/to/repo.git
//   - https://host.xz[:port]/path/to/repo.git
//   - file:///path/to/repo.git
func Parse(rawURL string) (*URL, error) {
	rawURL = strings.TrimRight(strings.TrimSpace(rawURL), "/")

	var rgx *regexp.Regexp
	gURL := &URL{}

	switch {
	case IsSCPURL(rawURL):
		rgx, gURL.Scheme = scpURLRgx, SchemeSCP
	case IsSSHURL(rawURL):
		rgx, gURL.Scheme = sshURLRgx, SchemeSSH
	case IsHTTPSURL(rawURL):
		rgx, gURL.Scheme = httpsURLRgx, SchemeHTTPS
	case IsLocalURL(rawURL):
		rgx, gURL.Scheme = localURLRgx, SchemeLocal
	default:
		return nil, fmt.Errorf(
			"provided '%s' remote url is invalid, supported urls are 'user@host.xz:path/to/repo.git','ssh://user@host.xz/path/to/repo.git', 'https://host.xz/path/to/repo.git' or 'file:///path/to/repo.git'",
			rawURL)
	}

	sections := rgx.FindStringSubmatch(rawURL)
	group := func(name string) string {
		if i := rgx.SubexpIndex(name); i >= 0 {
			return sections[i]
		}
		return ""
	}
	gURL.User = group("user")
	gURL.Host = group("host")
	// scp path doesn't have leading "/"
	// also removing training "/" for consistency
	gURL.Path = strings.Trim(group("path"), "/")
	gURL.Repo = group("repo")

	if gURL.Scheme != SchemeLocal && gURL.Path == "" {
		return nil, fmt.Errorf("repo path (org) cannot be empty")
	}
	if gURL.Repo == "" || gURL.Repo == ".git" {
		return nil, fmt.Errorf("repo name is invalid")
	}

	return gURL, nil
}

// IsSCPURL returns true if supplied URL is scp-like syntax
func IsSCPURL(rawURL string) bool {
	return scpURLRgx.MatchString(rawURL)
}

// IsSSHURL returns true if supplied URL is SSH URL
func IsSSHURL(rawURL string) bool {
	return sshURLRgx.MatchString(rawURL)
}

// IsHTTPSURL returns true if supplied URL is HTTPS URL
func IsHTTPSURL(rawURL string) bool {
	return httpsURLRgx.MatchString(rawURL)
}

// IsLocalURL returns true if supplied URL is a file:// URL
func IsLocalURL(rawURL string) bool {
	return localURLRgx.MatchString(rawURL)
}

// UsesSSH returns true for URLs git fetches over ssh
func UsesSSH(rawURL string) bool {
	return IsSCPURL(rawURL) || IsSSHURL(rawURL)
}
