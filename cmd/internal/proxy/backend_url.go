package proxy

import (
	"fmt"
	"strings"
)

// BackendURL joins the internal base URL and a document id into the backend leg URL.
//
// Schemes are normalized for WebSocket dialing: http -> ws, https -> wss, and a bare
// host[:port] gets ws. Trailing slashes on the base are dropped.
//
//	BackendURL("backend:1234", "issue-42") == "ws://backend:1234/issue-42"
func BackendURL(base, documentID string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", ErrConfigurationMissing
	}
	if documentID == "" {
		return "", fmt.Errorf("%w: empty document id", ErrProtocolViolation)
	}

	scheme, rest, ok := strings.Cut(base, "://")
	if !ok {
		scheme, rest = "ws", base
	}
	switch strings.ToLower(scheme) {
	case "http", "ws":
		scheme = "ws"
	case "https", "wss":
		scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported backend scheme %q", ErrConfigurationMissing, scheme)
	}

	rest = strings.TrimRight(rest, "/")
	if rest == "" {
		return "", fmt.Errorf("%w: backend url has no host", ErrConfigurationMissing)
	}
	return scheme + "://" + rest + "/" + documentID, nil
}
