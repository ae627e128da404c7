package security

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// totpSecretBytes is the raw secret size; 20 bytes = 160 bits per RFC 4226.
	totpSecretBytes = 20
	totpPeriod      = 30
	totpDigits      = otp.DigitsSix
)

// GenerateTOTPSecret returns a freshly generated base32-encoded shared secret
// compatible with standard authenticator apps.
func GenerateTOTPSecret() (string, error) {
	buf := make([]byte, totpSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}

	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// TOTPProvisioningURI builds an otpauth:// URI embedding issuer and account
// label for QR rendering by an external collaborator.
func TOTPProvisioningURI(secret, accountLabel, issuer string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("totp secret is required")
	}
	if accountLabel == "" {
		return "", fmt.Errorf("account label is required")
	}

	values := url.Values{}
	values.Set("secret", secret)
	values.Set("algorithm", otp.AlgorithmSHA1.String())
	values.Set("digits", totpDigits.String())
	values.Set("period", fmt.Sprintf("%d", totpPeriod))

	label := accountLabel
	if issuer != "" {
		values.Set("issuer", issuer)
		label = issuer + ":" + label
	}

	uri := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + label,
		RawQuery: values.Encode(),
	}

	return uri.String(), nil
}

// GenerateTOTPCode computes the 6-digit code for the secret at the given time.
func GenerateTOTPCode(secret string, at time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("totp secret is required")
	}

	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}

	return code, nil
}

// VerifyTOTPCode validates a candidate code against the secret, accepting
// codes from the adjacent steps within the skew window to tolerate clock
// drift. The underlying comparison is constant time.
func VerifyTOTPCode(secret, candidate string, at time.Time, skew uint) (bool, error) {
	if secret == "" {
		return false, fmt.Errorf("totp secret is required")
	}

	valid, err := totp.ValidateCustom(candidate, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      skew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("validate totp code: %w", err)
	}

	return valid, nil
}
