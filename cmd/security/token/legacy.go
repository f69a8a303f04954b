package token

import (
	"encoding/json"
	"fmt"
	"time"
)

// legacyIdentity is the unsigned identity blob understood by older sync backends.
type legacyIdentity struct {
	UID   string `json:"uid"`
	Login string `json:"login"`
	Doc   string `json:"doc"`
}

// LegacyIdentity encodes an UNSIGNED identity blob: base64url(JSON{uid,login,doc}).
// Anyone can forge it. It exists only for deployments running in explicit insecure mode.
func LegacyIdentity(subjectID, subjectLogin, documentID string) string {
	raw, _ := json.Marshal(legacyIdentity{UID: subjectID, Login: subjectLogin, Doc: documentID})
	return enc.EncodeToString(raw)
}

// Mode selects how the backend credential is produced for one deployment.
type Mode uint8

const (
	ModeDisabled Mode = iota
	ModeSigned
	ModeInsecureLegacy
)

func (m Mode) String() string {
	switch m {
	case ModeSigned:
		return "signed"
	case ModeInsecureLegacy:
		return "insecure_legacy"
	default:
		return "disabled"
	}
}

// ModeFor picks the credential mode. A configured secret always wins, so the two modes
// are never mixed within one deployment; the legacy blob requires an explicit opt-in.
func ModeFor(secret string, insecure bool) Mode {
	switch {
	case secret != "":
		return ModeSigned
	case insecure:
		return ModeInsecureLegacy
	default:
		return ModeDisabled
	}
}

// Mint produces the credential sent as "Authorization: Bearer <credential>" to the backend.
func Mint(secret string, insecure bool, subjectID, subjectLogin, documentID string, now time.Time) (string, Mode, error) {
	mode := ModeFor(secret, insecure)
	switch mode {
	case ModeSigned:
		t, err := Issue(secret, subjectID, subjectLogin, documentID, now)
		if err != nil {
			return "", mode, err
		}
		s, err := t.Serialize(secret)
		if err != nil {
			return "", mode, fmt.Errorf("serialize token: %w", err)
		}
		return s, mode, nil
	case ModeInsecureLegacy:
		return LegacyIdentity(subjectID, subjectLogin, documentID), mode, nil
	default:
		return "", mode, ErrNoSecretConfigured
	}
}
