package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// SecretEnvKey is the env var consulted when no secret is present in settings.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "SYNCGATE_SYNC_SECRET"

	// Lifetime is the fixed validity window of every issued token.
	Lifetime = 10 * time.Minute
)

var enc = base64.RawURLEncoding.Strict()

// Token is the immutable claim set bound to one user and one document.
type Token struct {
	SubjectID    string
	SubjectLogin string
	DocumentID   string
	ExpiresAt    time.Time
}

// Claims is what a successful Verify yields.
type Claims struct {
	SubjectID    string
	SubjectLogin string
	DocumentID   string
	ExpiresAt    time.Time
}

// payload fixes the JSON field order of the wire format.
type payload struct {
	UID   string `json:"uid"`
	Login string `json:"login"`
	Doc   string `json:"doc"`
	Exp   int64  `json:"exp"`
}

// Issue builds a token expiring Lifetime after now.
func Issue(secret, subjectID, subjectLogin, documentID string, now time.Time) (Token, error) {
	if strings.TrimSpace(secret) == "" {
		return Token{}, ErrNoSecretConfigured
	}
	if strings.TrimSpace(subjectID) == "" || strings.TrimSpace(documentID) == "" {
		return Token{}, ErrInvalidClaims
	}
	return Token{
		SubjectID:    subjectID,
		SubjectLogin: subjectLogin,
		DocumentID:   documentID,
		ExpiresAt:    now.Add(Lifetime).Truncate(time.Second),
	}, nil
}

// Serialize encodes and signs t with secret.
func (t Token) Serialize(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrNoSecretConfigured
	}
	raw, err := json.Marshal(payload{
		UID:   t.SubjectID,
		Login: t.SubjectLogin,
		Doc:   t.DocumentID,
		Exp:   t.ExpiresAt.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal token payload: %w", err)
	}
	return enc.EncodeToString(raw) + "." + enc.EncodeToString(Sign(raw, []byte(secret))), nil
}

// Verify checks signature and expiry of a serialized token.
// The encoded signature is compared in constant time before the payload is parsed.
func Verify(secret, serialized string, now time.Time) (Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return Claims{}, ErrNoSecretConfigured
	}

	encPayload, encSig, ok := strings.Cut(serialized, ".")
	if !ok || encPayload == "" || encSig == "" {
		return Claims{}, ErrBadFormat
	}

	raw, err := enc.DecodeString(encPayload)
	if err != nil {
		return Claims{}, ErrBadFormat
	}

	// Compare the encoded form so that every signature string except the canonical one
	// is rejected, including those decoding to the same bytes.
	want := enc.EncodeToString(Sign(raw, []byte(secret)))
	if !hmac.Equal([]byte(encSig), []byte(want)) {
		return Claims{}, ErrBadSignature
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		return Claims{}, ErrBadFormat
	}
	if p.UID == "" || p.Doc == "" || p.Exp == 0 {
		return Claims{}, ErrBadFormat
	}

	if now.Unix() > p.Exp {
		return Claims{}, ErrExpired
	}

	return Claims{
		SubjectID:    p.UID,
		SubjectLogin: p.Login,
		DocumentID:   p.Doc,
		ExpiresAt:    time.Unix(p.Exp, 0).UTC(),
	}, nil
}

// Sign returns HMAC-SHA256(key, msg).
func Sign(msg, key []byte) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(msg)
	return m.Sum(nil)
}

// SecretFromEnv returns the trimmed signing secret from the environment, or "".
func SecretFromEnv() string {
	return strings.TrimSpace(os.Getenv(SecretEnvKey))
}
