package oidc

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func signRS256(t *testing.T, key *rsa.PrivateKey, signingInput string) []byte {
	t.Helper()
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}
	return sig
}

func TestVerifyRS256AcceptsRealSignature(t *testing.T) {
	key := testRSAKey(t)
	input := "header.payload"
	sig := signRS256(t, key, input)
	if !verifyRS256(key.N, key.E, input, sig) {
		t.Fatal("valid signature rejected")
	}
}

func TestVerifyRS256RejectsModifiedInput(t *testing.T) {
	key := testRSAKey(t)
	sig := signRS256(t, key, "header.payload")
	if verifyRS256(key.N, key.E, "header.tampered", sig) {
		t.Fatal("signature over different input accepted")
	}
}

func TestVerifyRS256RejectsBitFlip(t *testing.T) {
	key := testRSAKey(t)
	input := "header.payload"
	sig := signRS256(t, key, input)
	sig[len(sig)/2] ^= 0x01
	if verifyRS256(key.N, key.E, input, sig) {
		t.Fatal("corrupted signature accepted")
	}
}

func TestVerifyRS256RejectsWrongKey(t *testing.T) {
	signer := testRSAKey(t)
	other := testRSAKey(t)
	input := "header.payload"
	sig := signRS256(t, signer, input)
	if verifyRS256(other.N, other.E, input, sig) {
		t.Fatal("signature verified against the wrong key")
	}
}

func TestVerifyRS256RejectsBadShapes(t *testing.T) {
	key := testRSAKey(t)
	input := "header.payload"
	sig := signRS256(t, key, input)

	if verifyRS256(nil, key.E, input, sig) {
		t.Fatal("nil modulus accepted")
	}
	if verifyRS256(key.N, 1, input, sig) {
		t.Fatal("exponent below 3 accepted")
	}
	if verifyRS256(key.N, key.E, input, sig[:len(sig)-1]) {
		t.Fatal("truncated signature accepted")
	}
	if verifyRS256(key.N, key.E, input, append(sig, 0x00)) {
		t.Fatal("oversized signature accepted")
	}
	if verifyRS256(key.N, key.E, input, make([]byte, len(sig))) {
		t.Fatal("zero signature accepted")
	}
}

func TestVerifyHS256(t *testing.T) {
	secret := []byte("client-secret")
	input := "header.payload"
	tok := buildHS256Token(t, secret, map[string]any{"alg": "HS256"}, map[string]any{"sub": "u"})
	parsed, err := parseCompact(tok)
	if err != nil {
		t.Fatalf("parseCompact: %v", err)
	}
	if !verifyHS256(secret, parsed.signingInput, parsed.signature) {
		t.Fatal("valid hmac rejected")
	}
	if verifyHS256([]byte("other-secret"), parsed.signingInput, parsed.signature) {
		t.Fatal("hmac verified with the wrong secret")
	}
	if verifyHS256(nil, input, parsed.signature) {
		t.Fatal("empty secret accepted")
	}
}

func TestParseCompactRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"only-one-segment",
		"two.segments",
		"a.b.c.d",
		"!!!.e30.c2ln",
		"e30.!!!.c2ln",
		"e30.e30.!!!",
	}
	for _, tok := range cases {
		if _, err := parseCompact(tok); err == nil {
			t.Fatalf("token %q: expected error", tok)
		}
	}
}

func TestClaimAudienceForms(t *testing.T) {
	if got := claimAudience(map[string]any{"aud": "client-1"}); len(got) != 1 || got[0] != "client-1" {
		t.Fatalf("string aud: %v", got)
	}
	if got := claimAudience(map[string]any{"aud": []any{"a", "b"}}); len(got) != 2 {
		t.Fatalf("list aud: %v", got)
	}
	if got := claimAudience(map[string]any{"aud": 42}); got != nil {
		t.Fatalf("numeric aud: %v", got)
	}
}

func encodeSegment(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal segment: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}
