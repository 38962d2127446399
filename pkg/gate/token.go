package gate

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/rs/xid"
)

// Codec issues and verifies bearer tokens of the form "id:signature".
// The signature is HMAC-SHA256 over the id, keyed by secret||scope, so a
// token is only ever valid for the scope it was issued under.
type Codec struct {
	secret []byte
}

// NewCodec creates a token codec with the given signing secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Issue builds a token for the given account id and scope.
func (c *Codec) Issue(id string, scope Scope) string {
	return id + ":" + c.sign(id, scope)
}

// Verify checks a token against the given scope and returns the embedded
// account id. It returns false for any malformed input or signature
// mismatch, and never panics regardless of input shape.
func (c *Codec) Verify(token string, scope Scope) (string, bool) {
	if token == "" {
		return "", false
	}
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return "", false
	}
	id, sig := parts[0], parts[1]
	if !hmac.Equal([]byte(c.sign(id, scope)), []byte(sig)) {
		return "", false
	}
	return id, true
}

func (c *Codec) sign(value string, scope Scope) string {
	mac := hmac.New(sha256.New, append(append([]byte{}, c.secret...), scope...))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewID returns a URL-safe random account id.
func NewID() string {
	return xid.New().String()
}

// NewShortID returns a URL-safe random id of the given length, matching the
// compact ids used in shared account URLs.
func NewShortID(length int) string {
	buf := make([]byte, (length*3+3)/4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to xid
		// rather than returning a predictable id.
		return xid.New().String()[:length]
	}
	s := base64.RawURLEncoding.EncodeToString(buf)
	if len(s) > length {
		s = s[:length]
	}
	return s
}
