package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

const (
	OTPDigits = 6
	// OTPTTL is how long an issued code stays valid.
	OTPTTL = 10 * time.Minute
)

var otpSpace = big.NewInt(1_000_000)

// GenerateOTP draws a uniformly distributed six digit code from crypto/rand.
// Leading zeros are kept, so the result is always OTPDigits characters long.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}

// OTPEqual compares codes in constant time.
func OTPEqual(stored, supplied string) bool {
	if len(stored) != OTPDigits || len(supplied) != OTPDigits {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
