package hub

import (
	"net/url"
	"regexp"
	"strings"
)

// RepoRef is a repository reference parsed from user input
type RepoRef struct {
	RepoID   string `json:"repo_id"`
	Revision string `json:"revision,omitempty"`
	Filename string `json:"filename,omitempty"`
}

var (
	reRepoID  = regexp.MustCompile(`^(?P<repo>[\w.\-]+/[\w.\-]+)$`)
	reRepoURL = regexp.MustCompile(`^https?://(?:www\.)?(?:huggingface\.co|hf\.co)/(?P<repo>[\w.\-]+/[\w.\-]+)(?:/(?:blob|resolve|tree)/(?P<rev>[^/]+)(?:/(?P<file>.+))?)?/?$`)
)

// ParseRepoRef accepts "namespace/name" or a hub URL for a repository, a
// tree, or a single file. It returns nil when input is neither.
func ParseRepoRef(input string) *RepoRef {
	input = strings.TrimSpace(input)
	if m := reRepoID.FindStringSubmatch(input); m != nil {
		return &RepoRef{RepoID: m[1]}
	}

	if u, err := url.Parse(input); err == nil && (u.RawQuery != "" || u.Fragment != "") {
		u.RawQuery, u.Fragment = "", ""
		input = u.String()
	}

	matches := reRepoURL.FindStringSubmatch(input)
	if matches == nil {
		return nil
	}

	names := reRepoURL.SubexpNames()
	result := make(map[string]string)
	for i, match := range matches {
		if i > 0 && names[i] != "" {
			result[names[i]] = match
		}
	}

	ref := &RepoRef{RepoID: result["repo"], Revision: result["rev"]}
	if file := result["file"]; file != "" {
		if unescaped, err := url.PathUnescape(file); err == nil {
			file = unescaped
		}
		ref.Filename = file
	}
	return ref
}
