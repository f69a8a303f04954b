// Package token implements the signed access tokens that gate a document stream on the
// internal sync backend.
//
// Wire format (bit-exact, verifiable by an independent implementation):
//
//	token   = payload "." signature
//	payload = base64url(json)                      ; RFC 4648 §5, no padding
//	json    = {"uid":<string>,"login":<string>,"doc":<string>,"exp":<int>}
//	sig     = base64url(HMAC-SHA256(secret, json)) ; MAC over the raw JSON bytes
//
// "exp" is a Unix-epoch second. A token is valid while now <= exp.
// Tokens are issued with a fixed 10 minute lifetime and are never renewed.
//
// Environment:
//   - SYNCGATE_SYNC_SECRET: fallback source for the shared signing secret.
package token
