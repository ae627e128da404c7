package security

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PolicyError aggregates every violated password rule.
type PolicyError struct {
	Violations []*PasswordValidationError
}

// Error implements error for PolicyError.
func (e *PolicyError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "password policy violation"
	}
	messages := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		messages = append(messages, v.Message)
	}
	return strings.Join(messages, "; ")
}

// PasswordRule validates a password according to a specific policy rule.
type PasswordRule interface {
	Validate(password string) *PasswordValidationError
}

// PasswordRuleFunc adapts a function to be used as a PasswordRule.
type PasswordRuleFunc func(password string) *PasswordValidationError

// Validate executes the underlying rule function.
func (f PasswordRuleFunc) Validate(password string) *PasswordValidationError {
	return f(password)
}

// PasswordValidator applies a sequence of password rules and reports every
// violation rather than stopping at the first.
type PasswordValidator struct {
	rules []PasswordRule
}

// NewPasswordValidator constructs a validator with the provided rules.
func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordValidator{rules: copied}
}

// Validate executes all rules. The returned error, when non-nil, is a
// *PolicyError listing each violated rule.
func (v *PasswordValidator) Validate(password string) error {
	if v == nil {
		return fmt.Errorf("password validator not configured")
	}

	var violations []*PasswordValidationError
	for _, rule := range v.rules {
		if violation := rule.Validate(password); violation != nil {
			violations = append(violations, violation)
		}
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}

// MinLengthRule ensures the password has at least min characters.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		if len([]rune(password)) < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	})
}

// MaxLengthRule ensures the password has at most max characters.
func MaxLengthRule(max int) PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		if max > 0 && len([]rune(password)) > max {
			return &PasswordValidationError{
				Code:    "max_length",
				Message: fmt.Sprintf("password must be at most %d characters long", max),
			}
		}
		return nil
	})
}

// RequireUppercaseRule ensures the password contains at least one uppercase letter.
func RequireUppercaseRule() PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		for _, r := range password {
			if unicode.IsUpper(r) {
				return nil
			}
		}
		return &PasswordValidationError{
			Code:    "uppercase",
			Message: "password must include at least one uppercase letter",
		}
	})
}

// RequireLowercaseRule ensures the password contains at least one lowercase letter.
func RequireLowercaseRule() PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		for _, r := range password {
			if unicode.IsLower(r) {
				return nil
			}
		}
		return &PasswordValidationError{
			Code:    "lowercase",
			Message: "password must include at least one lowercase letter",
		}
	})
}

// RequireDigitRule ensures the password contains at least one digit.
func RequireDigitRule() PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		for _, r := range password {
			if unicode.IsDigit(r) {
				return nil
			}
		}
		return &PasswordValidationError{
			Code:    "digit",
			Message: "password must include at least one digit",
		}
	})
}

// RequireSymbolRule ensures the password contains at least one symbol (punctuation/mark).
func RequireSymbolRule() PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		for _, r := range password {
			if unicode.IsSymbol(r) || unicode.IsPunct(r) {
				return nil
			}
		}
		return &PasswordValidationError{
			Code:    "symbol",
			Message: "password must include at least one symbol",
		}
	})
}

// MaxRepeatedRunRule rejects passwords containing a run of the same character
// longer than max.
func MaxRepeatedRunRule(max int) PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		if max <= 0 {
			return nil
		}

		run := 0
		var prev rune
		for i, r := range password {
			if i == 0 || r != prev {
				run = 1
				prev = r
				continue
			}
			run++
			if run > max {
				return &PasswordValidationError{
					Code:    "repeated_run",
					Message: fmt.Sprintf("password must not repeat the same character more than %d times in a row", max),
				}
			}
		}
		return nil
	})
}

// RequirePasswordStrengthRule enforces a minimum zxcvbn score to reject weak passwords.
func RequirePasswordStrengthRule(minScore int, userInputs ...string) PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		if minScore <= 0 {
			return nil
		}
		if minScore > 4 {
			minScore = 4
		}

		result := zxcvbn.PasswordStrength(password, userInputs)
		if result.Score >= minScore {
			return nil
		}

		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	})
}
