package security

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	totpPeriod = 30 * time.Second
	totpDigits = 6
	// totpSkew allows one period of clock drift either way.
	totpSkew = 1
)

// TOTPVerifier checks RFC 6238 time-based one-time codes.
type TOTPVerifier struct{}

func NewTOTPVerifier() TOTPVerifier { return TOTPVerifier{} }

func (TOTPVerifier) Verify(secret string, code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false
	}

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		return false
	}

	counter := time.Now().Unix() / int64(totpPeriod/time.Second)
	for delta := int64(-totpSkew); delta <= totpSkew; delta++ {
		if subtle.ConstantTimeCompare([]byte(hotp(key, uint64(counter+delta))), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", totpDigits, value%1000000)
}
