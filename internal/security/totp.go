package security

import (
	"fmt"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret creates a new TOTP secret for an admin account.
func GenerateTOTPSecret(issuer, account string) (string, error) {
	key, errGen := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if errGen != nil {
		return "", fmt.Errorf("security: generate totp secret: %w", errGen)
	}
	return key.Secret(), nil
}

// ValidateTOTP checks a one-time code against the stored secret.
func ValidateTOTP(secret, code string) bool {
	if secret == "" {
		return false
	}
	return totp.Validate(code, secret)
}
