package services

import (
	"fmt"
	"regexp"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/jmfrees/warden/core"
	"github.com/jmfrees/warden/pkg/crypto"
)

const (
	totpPeriod     = 30 // seconds per time step
	totpSkew       = 2  // accepted steps of clock drift either way
	backupCodeLen  = 8
	totpSecretSize = 32
)

var backupCodeFormat = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// MFAEngine generates and verifies time-based one-time codes and
// single-use backup codes. It holds no per-user state: enrollment
// returns everything as one unit and persistence belongs to the
// caller, as does removing a backup code once it verifies.
type MFAEngine struct {
	issuer    string
	codeCount int
	macKey    []byte
}

func NewMFAEngine(config core.MFAConfig, macKey []byte) *MFAEngine {
	if config.Issuer == "" {
		config.Issuer = core.DefaultMFAConfig().Issuer
	}
	if config.BackupCodeCount <= 0 {
		config.BackupCodeCount = core.DefaultMFAConfig().BackupCodeCount
	}
	return &MFAEngine{
		issuer:    config.Issuer,
		codeCount: config.BackupCodeCount,
		macKey:    macKey,
	}
}

// Enrollment is the full product of Enroll. PlainCodes are shown to the
// user exactly once; HashedCodes are what gets stored.
type Enrollment struct {
	Secret      string
	QRCodeURL   string
	PlainCodes  []string
	HashedCodes []string
}

// Enroll generates a fresh shared secret, its otpauth provisioning URL,
// and the backup code set. Nothing is persisted here.
func (e *MFAEngine) Enroll(userEmail string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: userEmail,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	plain := make([]string, 0, e.codeCount)
	hashed := make([]string, 0, e.codeCount)
	for i := 0; i < e.codeCount; i++ {
		code, err := crypto.RandomCode(backupCodeLen, crypto.BackupCodeAlphabet)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		plain = append(plain, code)
		hashed = append(hashed, e.HashBackupCode(code))
	}

	return &Enrollment{
		Secret:      key.Secret(),
		QRCodeURL:   key.URL(),
		PlainCodes:  plain,
		HashedCodes: hashed,
	}, nil
}

// VerifyTOTP checks a submitted code against the shared secret,
// tolerating up to two 30-second steps of clock skew either way.
// Malformed secrets or codes verify false rather than erroring.
func (e *MFAEngine) VerifyTOTP(code, secret string) bool {
	return e.verifyTOTPAt(code, secret, time.Now())
}

func (e *MFAEngine) verifyTOTPAt(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// VerifyBackupCode reports whether code is well-formed and still in the
// unused set. The engine does not mutate the set: on true, the caller
// must remove HashBackupCode(code) from it, or the code stays spendable.
func (e *MFAEngine) VerifyBackupCode(code string, hashedRemaining []string) bool {
	if !backupCodeFormat.MatchString(code) {
		return false
	}
	return crypto.ConstantTimeContains(hashedRemaining, e.HashBackupCode(code))
}

// HashBackupCode is the stored (one-way, keyed) form of a backup code.
func (e *MFAEngine) HashBackupCode(code string) string {
	return crypto.MAC(e.macKey, code)
}
