package resources

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"syncgate/cmd/internal/auth"
	"syncgate/cmd/internal/reconcile"
)

// MergeCookieName holds the per-browser handle under which anonymous editors find their
// pending merges.
const MergeCookieName = "syncgate_merge"

// mergeOwner returns the mailbox principal for r. Authenticated users own their merges by
// ID. Anonymous users own them through the merge cookie; ok is false when none is present.
func mergeOwner(r *http.Request) (owner string, ok bool) {
	if p := auth.FromContext(r.Context()); !p.IsAnonymous() {
		return p.ID, true
	}
	c, err := r.Cookie(MergeCookieName)
	if err != nil || !validMergeHandle(c.Value) {
		return "", false
	}
	return anonymousOwner(c.Value), true
}

// anonymousOwner keeps the raw handle out of mailbox keys and logs.
func anonymousOwner(handle string) string {
	sum := sha256.Sum256([]byte(handle))
	return "anonymous:" + hex.EncodeToString(sum[:16])
}

// validMergeHandle accepts the output of rand.Text: 26 characters of base32.
func validMergeHandle(v string) bool {
	if len(v) != 26 {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < 'A' || c > 'Z') && (c < '2' || c > '7') {
			return false
		}
	}
	return true
}

func newMergeCookie(r *http.Request) *http.Cookie {
	return &http.Cookie{
		Name:     MergeCookieName,
		Value:    rand.Text(),
		Path:     "/",
		MaxAge:   int(reconcile.DefaultMergeTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}
