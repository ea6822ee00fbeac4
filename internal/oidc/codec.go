package oidc

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
)

// compactToken is a decoded three-segment signed token.
type compactToken struct {
	header       map[string]any
	payload      map[string]any
	signingInput string
	signature    []byte
}

func (t *compactToken) alg() string {
	alg, _ := t.header["alg"].(string)
	return alg
}

func (t *compactToken) kid() string {
	kid, _ := t.header["kid"].(string)
	return kid
}

// parseCompact splits and decodes a header.payload.signature token without
// trusting any of it.
func parseCompact(token string) (*compactToken, error) {
	segments := strings.Split(strings.TrimSpace(token), ".")
	if len(segments) != 3 {
		return nil, errors.New("token must have three segments")
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return nil, errors.New("malformed token header")
	}
	payloadJSON, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, errors.New("malformed token payload")
	}
	signature, err := base64.RawURLEncoding.DecodeString(segments[2])
	if err != nil {
		return nil, errors.New("malformed token signature")
	}
	var header map[string]any
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, errors.New("malformed token header")
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, errors.New("malformed token payload")
	}
	return &compactToken{
		header:       header,
		payload:      payload,
		signingInput: segments[0] + "." + segments[1],
		signature:    signature,
	}, nil
}

// sha256DigestInfo is the DER prefix of a PKCS#1 v1.5 DigestInfo for
// SHA-256, followed by the 32-byte digest.
var sha256DigestInfo = []byte{
	0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86,
	0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05,
	0x00, 0x04, 0x20,
}

// verifyRS256 performs RSA PKCS#1 v1.5 signature verification from first
// principles: raw modular exponentiation with the public exponent, then
// validation of the 00 01 FF..FF 00 DigestInfo padding structure, then a
// constant-time digest comparison. Pure function, no side effects.
func verifyRS256(n *big.Int, e int, signingInput string, signature []byte) bool {
	if n == nil || n.Sign() <= 0 || e < 3 {
		return false
	}
	k := (n.BitLen() + 7) / 8
	if len(signature) != k || k < len(sha256DigestInfo)+sha256.Size+11 {
		return false
	}

	c := new(big.Int).SetBytes(signature)
	if c.Cmp(n) >= 0 {
		return false
	}
	m := new(big.Int).Exp(c, big.NewInt(int64(e)), n)
	em := m.FillBytes(make([]byte, k))

	// EM = 0x00 || 0x01 || PS (0xFF, at least 8) || 0x00 || DigestInfo || digest
	if em[0] != 0x00 || em[1] != 0x01 {
		return false
	}
	sep := -1
	for i := 2; i < len(em); i++ {
		if em[i] == 0xff {
			continue
		}
		if em[i] == 0x00 {
			sep = i
		}
		break
	}
	if sep < 0 || sep-2 < 8 {
		return false
	}

	rest := em[sep+1:]
	if len(rest) != len(sha256DigestInfo)+sha256.Size {
		return false
	}
	if !hmac.Equal(rest[:len(sha256DigestInfo)], sha256DigestInfo) {
		return false
	}
	digest := sha256.Sum256([]byte(signingInput))
	return subtle.ConstantTimeCompare(rest[len(sha256DigestInfo):], digest[:]) == 1
}

// verifyHS256 checks an HMAC-SHA256 signature in constant time.
func verifyHS256(secret []byte, signingInput string, signature []byte) bool {
	if len(secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signingInput))
	return hmac.Equal(mac.Sum(nil), signature)
}

func claimString(payload map[string]any, name string) string {
	v, _ := payload[name].(string)
	return v
}

// claimAudience handles "aud" being either a string or a list.
func claimAudience(payload map[string]any) []string {
	switch v := payload["aud"].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func claimInt64(payload map[string]any, name string) (int64, bool) {
	switch v := payload[name].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
