package oidc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// statePayload is the signed content of a login-attempt state token.
type statePayload struct {
	Nonce string `json:"nonce"`
	Exp   int64  `json:"exp"`
}

// signState produces payload.signature over base64url segments, HMAC-SHA256
// with the state secret.
func signState(secret []byte, payload statePayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	seg := base64.RawURLEncoding.EncodeToString(raw)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(seg))
	return seg + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// verifyState checks the signature and expiry of a state token and returns
// its payload. Every failure is ErrStateMismatch: the caller cannot tell a
// forged token from an expired one.
func verifyState(secret []byte, token string, now time.Time) (statePayload, error) {
	seg, sig, ok := splitStateToken(token)
	if !ok {
		return statePayload{}, ErrStateMismatch
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return statePayload{}, ErrStateMismatch
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(seg))
	if !hmac.Equal(mac.Sum(nil), sigBytes) {
		return statePayload{}, ErrStateMismatch
	}

	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return statePayload{}, ErrStateMismatch
	}
	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return statePayload{}, ErrStateMismatch
	}
	if payload.Nonce == "" || now.Unix() >= payload.Exp {
		return statePayload{}, ErrStateMismatch
	}
	return payload, nil
}

func splitStateToken(token string) (seg, sig string, ok bool) {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 || i == len(token)-1 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}
