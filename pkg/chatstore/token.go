package chatstore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// newETag returns a fresh opaque etag for the embedded backends. Random,
// deliberately not time-ordered, so etags carry no information beyond
// identity. The Cosmos backend surfaces the service's native _etag instead.
func newETag() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("chatstore: etag entropy unavailable: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// continuation is the decoded form of a continuation token. Offset-based
// backends use O; Cosmos wraps its native token in C. The struct is never
// exposed: clients only ever see the base64 envelope.
type continuation struct {
	V int    `json:"v"`
	O int    `json:"o,omitempty"`
	C string `json:"c,omitempty"`
}

// encodeOffsetToken wraps a listing offset into an opaque token.
func encodeOffsetToken(offset int) string {
	raw, _ := json.Marshal(continuation{V: 1, O: offset})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeOffsetToken unwraps a token produced by encodeOffsetToken.
// An empty token means offset 0.
func decodeOffsetToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	c, err := decodeToken(token)
	if err != nil {
		return 0, err
	}
	if c.O < 0 {
		return 0, ErrBadToken
	}
	return c.O, nil
}

// encodeNativeToken wraps a backend-native continuation string.
func encodeNativeToken(native string) string {
	if native == "" {
		return ""
	}
	raw, _ := json.Marshal(continuation{V: 1, C: native})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeNativeToken unwraps a token produced by encodeNativeToken.
func decodeNativeToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	c, err := decodeToken(token)
	if err != nil {
		return "", err
	}
	return c.C, nil
}

func decodeToken(token string) (*continuation, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	var c continuation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if c.V != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadToken, c.V)
	}
	return &c, nil
}

// clampLimit resolves a requested page size against defaults and caps.
func clampLimit(requested, def, max int) int {
	if requested <= 0 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}
