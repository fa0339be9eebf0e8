package security

import (
	"encoding/base32"
	"testing"
	"time"
)

const totpTestSecret = "JBSWY3DPEHPK3PXP"

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	counter := time.Now().Unix() / int64(totpPeriod/time.Second)
	return hotp(key, uint64(counter))
}

func TestTOTPVerify(t *testing.T) {
	verifier := NewTOTPVerifier()

	code := currentCode(t, totpTestSecret)
	if !verifier.Verify(totpTestSecret, code) {
		t.Fatal("current code must verify")
	}
	if !verifier.Verify(totpTestSecret, " "+code+" ") {
		t.Fatal("surrounding whitespace must be tolerated")
	}
}

func TestTOTPVerifyRejects(t *testing.T) {
	verifier := NewTOTPVerifier()
	code := currentCode(t, totpTestSecret)

	cases := []struct {
		name   string
		secret string
		code   string
	}{
		{"wrong secret", "MFRGGZDFMZTWQ2LK", code},
		{"wrong length", totpTestSecret, "12345"},
		{"empty code", totpTestSecret, ""},
		{"not base32", "not-a-secret!", code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if verifier.Verify(tc.secret, tc.code) {
				t.Fatal("must not verify")
			}
		})
	}
}

func TestTOTPVerifyAcceptsAdjacentPeriod(t *testing.T) {
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(totpTestSecret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	counter := time.Now().Unix() / int64(totpPeriod/time.Second)

	verifier := NewTOTPVerifier()
	if !verifier.Verify(totpTestSecret, hotp(key, uint64(counter-1))) {
		t.Fatal("previous period must verify within the skew window")
	}
	if verifier.Verify(totpTestSecret, hotp(key, uint64(counter-2))) {
		t.Fatal("two periods back must be outside the skew window")
	}
}
