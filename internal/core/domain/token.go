package domain

import "time"

// RefreshToken represents a persisted refresh token (stored as a hash) with
// rotation support. ReplacedByID chains each rotated token to its successor.
type RefreshToken struct {
	ID           string
	UserID       string
	TokenHash    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	CreatedByIP  *string
	RevokedAt    *time.Time
	RevokedByIP  *string
	RevokeReason *string
	ReplacedByID *string
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsRevoked reports whether the token has been explicitly revoked.
func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive returns true when the token can still be presented for rotation.
func (t RefreshToken) IsActive(at time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(at)
}

// Revoke marks the token as revoked with the supplied reason.
// Returns true if the token transitioned to the revoked state.
func (t *RefreshToken) Revoke(at time.Time, ip, reason string) bool {
	if t.RevokedAt != nil {
		return false
	}
	timeCopy := at
	t.RevokedAt = &timeCopy
	if ip != "" {
		ipCopy := ip
		t.RevokedByIP = &ipCopy
	}
	if reason != "" {
		reasonCopy := reason
		t.RevokeReason = &reasonCopy
	}
	return true
}

// Supersede revokes the token and records its replacement in the rotation chain.
func (t *RefreshToken) Supersede(at time.Time, ip, replacedByID string) bool {
	if !t.Revoke(at, ip, "rotated") {
		return false
	}
	idCopy := replacedByID
	t.ReplacedByID = &idCopy
	return true
}

// RecoveryCode is a single-use backup credential for two-factor bypass.
// Only a SHA-256 hash of the code is persisted.
type RecoveryCode struct {
	ID        string
	UserID    string
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// IsExpired reports whether the code can still be redeemed.
func (c RecoveryCode) IsExpired(at time.Time) bool {
	return !c.ExpiresAt.After(at)
}

// Consume marks the code as used. Returns true only on the first
// consumption of an unexpired code.
func (c *RecoveryCode) Consume(at time.Time) bool {
	if c.Used || c.IsExpired(at) {
		return false
	}
	c.Used = true
	timeCopy := at
	c.UsedAt = &timeCopy
	return true
}
