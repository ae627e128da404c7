package domain

import "time"

// TwoFactorMethod enumerates the supported second factors.
type TwoFactorMethod string

const (
	TwoFactorNone  TwoFactorMethod = "none"
	TwoFactorEmail TwoFactorMethod = "email"
	TwoFactorSMS   TwoFactorMethod = "sms"
	TwoFactorApp   TwoFactorMethod = "app"
)

// TwoFactorState tracks the setup lifecycle of the second factor.
type TwoFactorState string

const (
	TwoFactorDisabled     TwoFactorState = "disabled"
	TwoFactorPendingSetup TwoFactorState = "pending_setup"
	TwoFactorEnabled      TwoFactorState = "enabled"
)

// User mirrors the persisted representation in the users table.
type User struct {
	ID                 string
	Username           string
	Email              string
	Phone              *string
	PasswordHash       string
	IsActive           bool
	EmailVerified      bool
	PhoneVerified      bool
	TwoFactorState     TwoFactorState
	TwoFactorMethod    TwoFactorMethod
	TwoFactorSecret    *string
	FailedAttempts     int
	LockoutEnd         *time.Time
	LastPasswordChange time.Time
	CreatedAt          time.Time
	DeletedAt          *time.Time
}

// IsDeleted reports whether the account has been soft-deleted.
func (u User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// IsLockedOut reports whether the account lockout window is still in effect.
func (u User) IsLockedOut(at time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(at)
}

// TwoFactorActive reports whether login must be completed with a second factor.
func (u User) TwoFactorActive() bool {
	return u.TwoFactorState == TwoFactorEnabled && u.TwoFactorMethod != TwoFactorNone
}

// RegisterFailedAttempt increments the failure counter and, once the
// threshold is reached, starts the lockout window. The counter is not reset
// when a lockout expires; only a successful login clears it.
// Returns true when this attempt triggered the lockout transition.
func (u *User) RegisterFailedAttempt(maxAttempts int, lockout time.Duration, at time.Time) bool {
	u.FailedAttempts++
	if maxAttempts > 0 && u.FailedAttempts >= maxAttempts {
		end := at.Add(lockout)
		u.LockoutEnd = &end
		return true
	}
	return false
}

// ResetFailedAttempts clears the failure counter and any lockout window.
func (u *User) ResetFailedAttempts() {
	u.FailedAttempts = 0
	u.LockoutEnd = nil
}

// BeginTwoFactorSetup stores a freshly generated secret and moves the account
// into the pending state. Any previous secret is discarded.
func (u *User) BeginTwoFactorSetup(method TwoFactorMethod, secret string) {
	u.TwoFactorState = TwoFactorPendingSetup
	u.TwoFactorMethod = method
	if secret != "" {
		secretCopy := secret
		u.TwoFactorSecret = &secretCopy
	} else {
		u.TwoFactorSecret = nil
	}
}

// ConfirmTwoFactor transitions a pending setup to enabled.
// Returns false when the account is not awaiting confirmation.
func (u *User) ConfirmTwoFactor() bool {
	if u.TwoFactorState != TwoFactorPendingSetup {
		return false
	}
	u.TwoFactorState = TwoFactorEnabled
	return true
}

// DisableTwoFactor clears the secret and returns the account to the disabled
// state. Recovery codes must be purged by the caller in the same unit of work.
func (u *User) DisableTwoFactor() {
	u.TwoFactorState = TwoFactorDisabled
	u.TwoFactorMethod = TwoFactorNone
	u.TwoFactorSecret = nil
}
