package security

// PasswordPolicySettings captures the configurable strength thresholds.
type PasswordPolicySettings struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSymbol    bool
	MaxRepeatedRun   int
	MinStrengthScore int
}

// DefaultPasswordPolicySettings returns the built-in service password policy.
func DefaultPasswordPolicySettings() PasswordPolicySettings {
	return PasswordPolicySettings{
		MinLength:        10,
		MaxLength:        128,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSymbol:    true,
		MaxRepeatedRun:   3,
		MinStrengthScore: 3,
	}
}

// PasswordPolicy adapts the password validator to the port-level interface,
// folding contextual user inputs (username, email) into the strength check.
type PasswordPolicy struct {
	settings PasswordPolicySettings
}

// NewPasswordPolicy builds a policy from the supplied settings.
func NewPasswordPolicy(settings PasswordPolicySettings) *PasswordPolicy {
	return &PasswordPolicy{settings: settings}
}

// Validate applies the configured rules and returns a *PolicyError listing
// every violation when the password does not meet policy.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	s := p.settings

	rules := []PasswordRule{MinLengthRule(s.MinLength)}
	if s.MaxLength > 0 {
		rules = append(rules, MaxLengthRule(s.MaxLength))
	}
	if s.RequireUppercase {
		rules = append(rules, RequireUppercaseRule())
	}
	if s.RequireLowercase {
		rules = append(rules, RequireLowercaseRule())
	}
	if s.RequireDigit {
		rules = append(rules, RequireDigitRule())
	}
	if s.RequireSymbol {
		rules = append(rules, RequireSymbolRule())
	}
	if s.MaxRepeatedRun > 0 {
		rules = append(rules, MaxRepeatedRunRule(s.MaxRepeatedRun))
	}
	if s.MinStrengthScore > 0 {
		inputs := make([]string, 0, len(userInputs))
		for _, input := range userInputs {
			if input != "" {
				inputs = append(inputs, input)
			}
		}
		rules = append(rules, RequirePasswordStrengthRule(s.MinStrengthScore, inputs...))
	}

	return NewPasswordValidator(rules...).Validate(password)
}
