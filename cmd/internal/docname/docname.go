// Package docname derives the canonical collaboration document identifier.
//
// The same function names the document shown to the browser and the document bound into
// the backend token; any divergence silently splits a session from its authorization.
package docname

import (
	"strconv"
	"strings"
)

// Context is the application context a document is derived from.
// Zero values mean "absent".
type Context struct {
	IssueID       int64
	ProjectID     int64
	WikiPageID    int64
	WikiPageTitle string
}

// Name returns the document id for c, or false when c names no document.
//
// Precedence, first match wins:
//
//	issue-{issueId}
//	wiki-{projectId|0}-{sanitized page title, else page id}
//	project-{projectId}
func Name(c Context) (string, bool) {
	if c.IssueID > 0 {
		return "issue-" + strconv.FormatInt(c.IssueID, 10), true
	}

	if key := wikiKey(c); key != "" {
		project := int64(0)
		if c.ProjectID > 0 {
			project = c.ProjectID
		}
		return "wiki-" + strconv.FormatInt(project, 10) + "-" + key, true
	}

	if c.ProjectID > 0 {
		return "project-" + strconv.FormatInt(c.ProjectID, 10), true
	}

	return "", false
}

func wikiKey(c Context) string {
	if t := strings.TrimSpace(c.WikiPageTitle); t != "" {
		return Sanitize(t)
	}
	if c.WikiPageID > 0 {
		return Sanitize(strconv.FormatInt(c.WikiPageID, 10))
	}
	return ""
}

// Sanitize keeps [a-zA-Z0-9_-], replaces every other byte with '-', and lowercases.
// It works on bytes, so a multi-byte rune becomes one '-' per byte.
func Sanitize(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b[i] = c + ('a' - 'A')
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
			b[i] = c
		default:
			b[i] = '-'
		}
	}
	return string(b)
}

// Valid reports whether id has a shape Name could have produced.
// The proxy uses it to refuse path segments that cannot route to a real document.
func Valid(id string) bool {
	if id == "" || len(id) > maxIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return false
		}
	}
	switch {
	case strings.HasPrefix(id, "issue-"):
		return isDigits(id[len("issue-"):])
	case strings.HasPrefix(id, "project-"):
		return isDigits(id[len("project-"):])
	case strings.HasPrefix(id, "wiki-"):
		project, key, ok := strings.Cut(id[len("wiki-"):], "-")
		return ok && isDigits(project) && key != ""
	}
	return false
}

const maxIDLen = 512

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
