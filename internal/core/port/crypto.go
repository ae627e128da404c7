package port

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
	// NeedsRehash reports whether the encoded hash was produced with
	// parameters weaker than the active policy.
	NeedsRehash(encoded string) bool
}

// PasswordPolicyValidator enforces password strength requirements and
// reports every violated rule, not just the first.
type PasswordPolicyValidator interface {
	Validate(password string, userInputs ...string) error
}
