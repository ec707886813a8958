package auth

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/tendant/simple-idm-session/pkg/domain"
)

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// DefaultPasswordPolicy only enforces a minimum length.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8}
}

// PolicyError lists every requirement a password missed.
type PolicyError struct {
	Missing []string
}

func (e *PolicyError) Error() string {
	return "password must contain " + strings.Join(e.Missing, ", ")
}

func (e *PolicyError) Unwrap() error { return domain.ErrWeakPassword }

type passwordRule struct {
	enabled bool
	label   string
	ok      func(string) bool
}

// Check returns a *PolicyError naming every unmet requirement, or nil.
func (p PasswordPolicy) Check(password string) error {
	rules := []passwordRule{
		{p.MinLength > 0, "at least " + strconv.Itoa(p.MinLength) + " characters", func(s string) bool {
			return len([]rune(s)) >= p.MinLength
		}},
		{p.RequireUppercase, "one uppercase letter", containsAny(unicode.IsUpper)},
		{p.RequireLowercase, "one lowercase letter", containsAny(unicode.IsLower)},
		{p.RequireNumber, "one number", containsAny(unicode.IsDigit)},
		{p.RequireSpecial, "one special character", containsAny(isSpecial)},
	}

	var missing []string
	for _, rule := range rules {
		if rule.enabled && !rule.ok(password) {
			missing = append(missing, rule.label)
		}
	}
	if len(missing) > 0 {
		return &PolicyError{Missing: missing}
	}
	return nil
}

func containsAny(match func(rune) bool) func(string) bool {
	return func(s string) bool {
		return strings.IndexFunc(s, match) >= 0
	}
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}
