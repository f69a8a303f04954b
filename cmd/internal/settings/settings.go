// Package settings resolves the gateway's administrative options into one typed value.
//
// Callers resolve Settings once per request (or per proxied session) and pass the value down;
// nothing reads options ambiently.
package settings

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"syncgate/cmd/security/token"
)

// ErrConfig is returned for unusable settings input.
var ErrConfig = errors.New("invalid settings")

// Kind names a collaborative resource family.
type Kind string

const (
	KindWiki  Kind = "wiki"
	KindIssue Kind = "issue"
)

// Settings is the complete set of recognized options.
type Settings struct {
	ProxyEnabled       bool
	InternalBackendURL string
	SigningSecret      string

	// InsecureLegacyIdentity allows an unsigned identity blob when no secret is configured.
	InsecureLegacyIdentity bool

	CollabWiki   bool
	CollabIssues bool
}

// Collab reports whether collaborative editing is enabled for kind.
func (s Settings) Collab(kind Kind) bool {
	switch kind {
	case KindWiki:
		return s.CollabWiki
	case KindIssue:
		return s.CollabIssues
	default:
		return false
	}
}

// CredentialMode reports how backend credentials are minted under s.
func (s Settings) CredentialMode() token.Mode {
	return token.ModeFor(s.SigningSecret, s.InsecureLegacyIdentity)
}

// ProxyReady reports whether every precondition for proxying holds.
func (s Settings) ProxyReady() bool {
	return s.ProxyEnabled &&
		strings.TrimSpace(s.InternalBackendURL) != "" &&
		s.CredentialMode() != token.ModeDisabled
}

// Source yields the current Settings.
type Source interface {
	Settings(ctx context.Context) (Settings, error)
}

// Static is a Source returning a fixed value.
type Static Settings

// Settings implements Source.
func (s Static) Settings(context.Context) (Settings, error) { return Settings(s), nil }

// FromEnv reads Settings from SYNCGATE_* environment variables.
// The signing secret comes from token.SecretEnvKey.
func FromEnv() Settings {
	return Settings{
		ProxyEnabled:           envBool("SYNCGATE_PROXY_ENABLED", false),
		InternalBackendURL:     strings.TrimSpace(os.Getenv("SYNCGATE_BACKEND_URL")),
		SigningSecret:          token.SecretFromEnv(),
		InsecureLegacyIdentity: envBool("SYNCGATE_INSECURE_IDENTITY", false),
		CollabWiki:             envBool("SYNCGATE_COLLAB_WIKI", true),
		CollabIssues:           envBool("SYNCGATE_COLLAB_ISSUES", true),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
