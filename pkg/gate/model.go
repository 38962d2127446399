package gate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultAllowedModels is the fixed set of model names the gateway will
// create upstream sessions for.
var DefaultAllowedModels = []string{
	"gpt-4o-mini-realtime-preview",
	"gpt-4o-realtime-preview-2024-10-01",
	"gpt-4o-realtime-preview-2024-12-17",
	"gpt-4o-realtime-preview",
	"gpt-4o-transcribe",
}

// ModelSigner signs and verifies model names so clients cannot request
// arbitrary models. Signed form is "name.signature" with the bare secret
// (no scope salt). Verification checks the signature first, then the
// allow-list; failing either is the same opaque rejection.
type ModelSigner struct {
	secret  []byte
	allowed map[string]struct{}
}

// NewModelSigner creates a signer for the given secret and allow-list.
// A nil allow-list means DefaultAllowedModels.
func NewModelSigner(secret string, allowed []string) *ModelSigner {
	if allowed == nil {
		allowed = DefaultAllowedModels
	}
	set := make(map[string]struct{}, len(allowed))
	for _, m := range allowed {
		set[m] = struct{}{}
	}
	return &ModelSigner{secret: []byte(secret), allowed: set}
}

// Allowed reports whether the model name is on the allow-list.
func (s *ModelSigner) Allowed(name string) bool {
	_, ok := s.allowed[name]
	return ok
}

// Sign returns the signed form of an allow-listed model name.
func (s *ModelSigner) Sign(name string) (string, error) {
	if !s.Allowed(name) {
		return "", ErrModelNotAllowed
	}
	return name + "." + s.sign(name), nil
}

// Verify checks a signed model string and returns the model name.
// Rejects tampered signatures and names absent from the allow-list, even
// when the signature itself is valid.
func (s *ModelSigner) Verify(signed string) (string, error) {
	parts := strings.Split(signed, ".")
	if len(parts) != 2 {
		return "", ErrModelNotAllowed
	}
	name, sig := parts[0], parts[1]
	if !hmac.Equal([]byte(s.sign(name)), []byte(sig)) {
		return "", ErrModelNotAllowed
	}
	if !s.Allowed(name) {
		return "", ErrModelNotAllowed
	}
	return name, nil
}

func (s *ModelSigner) sign(name string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(name))
	return hex.EncodeToString(mac.Sum(nil))
}
