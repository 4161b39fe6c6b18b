package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"
)

const (
	recoveryCodeCount = 8
	recoveryCodeHalf  = 4
	qrCodeSize        = 256
)

// Uppercase alphanumerics without the look-alikes 0/O and 1/I/L.
const recoveryCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// TOTPSetup is a freshly generated, not yet confirmed, TOTP secret.
type TOTPSetup struct {
	Secret string // base32
	URL    string // otpauth://
	QRCode []byte // PNG
}

// RecoveryCodes holds one-time login codes in both forms.
type RecoveryCodes struct {
	Plaintext []string
	Hashed    []string
}

// GenerateTOTPSecret creates a TOTP secret for accountName and renders its
// otpauth URL as a QR code.
func GenerateTOTPSecret(issuer, accountName string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("generating TOTP secret: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("generating QR code: %w", err)
	}

	return &TOTPSetup{Secret: key.Secret(), URL: key.URL(), QRCode: png}, nil
}

// ValidateTOTPCode validates a code against secret for the current window.
func ValidateTOTPCode(code, secret string) bool {
	return totp.Validate(strings.TrimSpace(code), secret)
}

// GenerateRecoveryCodes returns eight XXXX-XXXX codes and their bcrypt
// hashes.
func GenerateRecoveryCodes() (*RecoveryCodes, error) {
	codes := &RecoveryCodes{
		Plaintext: make([]string, recoveryCodeCount),
		Hashed:    make([]string, recoveryCodeCount),
	}

	for i := range recoveryCodeCount {
		code, err := generateRecoveryCode()
		if err != nil {
			return nil, fmt.Errorf("generating recovery code %d: %w", i, err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing recovery code %d: %w", i, err)
		}
		codes.Plaintext[i] = code
		codes.Hashed[i] = string(hash)
	}
	return codes, nil
}

// MatchRecoveryCode returns the index of the hash matching code, or -1.
func MatchRecoveryCode(code string, hashed []string) int {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return -1
	}
	for i, h := range hashed {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(normalized)) == nil {
			return i
		}
	}
	return -1
}

func generateRecoveryCode() (string, error) {
	n := big.NewInt(int64(len(recoveryCodeAlphabet)))
	buf := make([]byte, 0, recoveryCodeHalf*2+1)

	for i := range recoveryCodeHalf * 2 {
		if i == recoveryCodeHalf {
			buf = append(buf, '-')
		}
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("generating random character: %w", err)
		}
		buf = append(buf, recoveryCodeAlphabet[idx.Int64()])
	}
	return string(buf), nil
}
