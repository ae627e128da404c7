package domain

import "time"

// LoginSucceededEvent represents the payload for auth.login.succeeded messages.
type LoginSucceededEvent struct {
	EventID    string
	UserID     string
	Username   string
	IPAddress  *string
	OccurredAt time.Time
	Metadata   map[string]any
}

// LoginFailedEvent represents the payload for auth.login.failed messages.
type LoginFailedEvent struct {
	EventID        string
	UserID         *string
	Identifier     string
	Reason         string
	IPAddress      *string
	FailedAttempts int
	OccurredAt     time.Time
	Metadata       map[string]any
}

// AccountLockedEvent represents the payload for auth.account.locked messages.
type AccountLockedEvent struct {
	EventID    string
	UserID     string
	LockoutEnd time.Time
	IPAddress  *string
	OccurredAt time.Time
	Metadata   map[string]any
}

// PasswordChangedEvent represents the payload for auth.password.changed messages.
type PasswordChangedEvent struct {
	EventID       string
	UserID        string
	ChangedAt     time.Time
	TokensRevoked int
	Metadata      map[string]any
}

// TwoFactorChangedEvent represents the payload for auth.twofactor.changed messages.
type TwoFactorChangedEvent struct {
	EventID    string
	UserID     string
	Enabled    bool
	Method     TwoFactorMethod
	OccurredAt time.Time
	Metadata   map[string]any
}

// TokensRevokedEvent represents the payload for auth.tokens.revoked messages.
type TokensRevokedEvent struct {
	EventID    string
	UserID     string
	Reason     string
	Count      int
	OccurredAt time.Time
	Metadata   map[string]any
}

// RolesChangedEvent represents the payload for auth.roles.changed messages.
type RolesChangedEvent struct {
	EventID    string
	UserID     string
	RoleID     string
	RoleName   string
	Assigned   bool
	OccurredAt time.Time
	Metadata   map[string]any
}
