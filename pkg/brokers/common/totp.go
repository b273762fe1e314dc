package common

import (
	"errors"
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTP derives the current 30s-window code from the shared
// secret, used as the second authentication factor by venues that
// require it.
func GenerateTOTP(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("totp secret not configured")
	}
	return totp.GenerateCode(secret, time.Now())
}
