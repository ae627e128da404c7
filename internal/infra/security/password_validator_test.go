package security

import (
	"errors"
	"testing"
)

func violationCodes(t *testing.T, err error) map[string]bool {
	t.Helper()

	var policyErr *PolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected *PolicyError, got %T: %v", err, err)
	}

	codes := make(map[string]bool, len(policyErr.Violations))
	for _, violation := range policyErr.Violations {
		codes[violation.Code] = true
	}
	return codes
}

func TestPasswordPolicyAcceptsStrongPassword(t *testing.T) {
	policy := NewPasswordPolicy(DefaultPasswordPolicySettings())

	if err := policy.Validate("Tr4vel&Quartz!Mtn"); err != nil {
		t.Fatalf("expected strong password to pass, got: %v", err)
	}
}

func TestPasswordPolicyReportsAllViolations(t *testing.T) {
	policy := NewPasswordPolicy(DefaultPasswordPolicySettings())

	err := policy.Validate("aaaa")
	if err == nil {
		t.Fatal("expected weak password to be rejected")
	}

	codes := violationCodes(t, err)
	for _, expected := range []string{"min_length", "uppercase", "digit", "symbol", "repeated_run"} {
		if !codes[expected] {
			t.Errorf("expected violation %q to be reported, got %v", expected, codes)
		}
	}
}

func TestPasswordPolicyRepeatedRun(t *testing.T) {
	policy := NewPasswordPolicy(DefaultPasswordPolicySettings())

	err := policy.Validate("Go0d!PassWooooord")
	if err == nil {
		t.Fatal("expected repeated-run password to be rejected")
	}
	if codes := violationCodes(t, err); !codes["repeated_run"] {
		t.Fatalf("expected repeated_run violation, got %v", codes)
	}
}

func TestPasswordPolicyMaxLength(t *testing.T) {
	settings := DefaultPasswordPolicySettings()
	settings.MaxLength = 12
	policy := NewPasswordPolicy(settings)

	err := policy.Validate("V3ry!Long-Password-Indeed")
	if err == nil {
		t.Fatal("expected over-length password to be rejected")
	}
	if codes := violationCodes(t, err); !codes["max_length"] {
		t.Fatalf("expected max_length violation, got %v", codes)
	}
}

func TestRequirePasswordStrengthRule(t *testing.T) {
	rule := RequirePasswordStrengthRule(3)

	if violation := rule.Validate("password"); violation == nil {
		t.Fatal("expected dictionary password to be rejected")
	} else if violation.Code != "weak_password" {
		t.Fatalf("unexpected violation code %q", violation.Code)
	}

	if violation := rule.Validate("Tr4vel&Quartz!Mtn"); violation != nil {
		t.Fatalf("expected strong password to pass, got %v", violation)
	}
}
