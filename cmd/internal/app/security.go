package app

import (
	"errors"
	"fmt"

	"syncgate/cmd/internal/settings"
	"syncgate/cmd/security/token"
)

// minSecretBytes is the shortest signing secret accepted under RequireSyncSecret.
// Measured in bytes because the secret is used as a raw HMAC key.
const minSecretBytes = 32

// ValidateSecurityConfig checks the credential policy at startup.
//
// With RequireSyncSecret it fails fast on a proxy that would mint weak or legacy
// credentials. Without it, the same findings are returned as warnings and the
// proxy keeps serving (a misconfigured collaboration layer must not take the
// host application down).
func ValidateSecurityConfig(cfg Config, s settings.Settings) (warnings []string, err error) {
	if !s.ProxyEnabled {
		return nil, nil
	}

	var problems []string
	switch s.CredentialMode() {
	case token.ModeDisabled:
		problems = append(problems, "proxy enabled without a signing secret")
	case token.ModeInsecureLegacy:
		problems = append(problems, "proxy enabled in insecure legacy credential mode")
	case token.ModeSigned:
		if len(s.SigningSecret) < minSecretBytes {
			problems = append(problems, fmt.Sprintf("signing secret shorter than %d bytes", minSecretBytes))
		}
	}

	if len(problems) == 0 {
		return nil, nil
	}
	if cfg.RequireSyncSecret {
		return nil, errors.New("security policy: SYNCGATE_REQUIRE_SYNC_SECRET=true but " + problems[0])
	}
	return problems, nil
}
