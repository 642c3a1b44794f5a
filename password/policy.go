package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSymbols is the symbol alphabet used when Policy.Symbols is empty.
const DefaultSymbols = "!@#$%^&*()-_=+[]{}<>?"

const (
	lowerAlphabet = "abcdefghijklmnopqrstuvwxyz"
	upperAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitAlphabet = "0123456789"
)

// ErrPolicyViolation is wrapped by Policy.Check with the failed rule.
var ErrPolicyViolation = errors.New("password: policy violation")

// Policy describes the character classes and length a password must satisfy.
// MaxLength of zero means unbounded.
type Policy struct {
	MinLength     int
	MaxLength     int
	RequireLower  bool
	RequireUpper  bool
	RequireDigit  bool
	RequireSymbol bool
	Symbols       string
}

// DefaultPolicy requires twelve characters drawn from all four classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     12,
		MaxLength:     128,
		RequireLower:  true,
		RequireUpper:  true,
		RequireDigit:  true,
		RequireSymbol: true,
		Symbols:       DefaultSymbols,
	}
}

func (p Policy) symbols() string {
	if p.Symbols == "" {
		return DefaultSymbols
	}
	return p.Symbols
}

// Check reports the first rule secret breaks, wrapped in ErrPolicyViolation.
func (p Policy) Check(secret string) error {
	n := utf8.RuneCountInString(secret)
	if n < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPolicyViolation, p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrPolicyViolation, p.MaxLength)
	}

	var lower, upper, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || strings.ContainsRune(p.symbols(), r):
			symbol = true
		}
	}

	switch {
	case p.RequireLower && !lower:
		return fmt.Errorf("%w: must contain a lowercase letter", ErrPolicyViolation)
	case p.RequireUpper && !upper:
		return fmt.Errorf("%w: must contain an uppercase letter", ErrPolicyViolation)
	case p.RequireDigit && !digit:
		return fmt.Errorf("%w: must contain a digit", ErrPolicyViolation)
	case p.RequireSymbol && !symbol:
		return fmt.Errorf("%w: must contain a symbol", ErrPolicyViolation)
	}
	return nil
}

// Validate rejects a policy that no password can satisfy.
func (p Policy) Validate() error {
	if p.MinLength < 1 {
		return fmt.Errorf("%w: minimum length must be >= 1", ErrInvalidConfig)
	}
	if p.MaxLength > 0 && p.MaxLength < p.MinLength {
		return fmt.Errorf("%w: maximum length below minimum", ErrInvalidConfig)
	}
	if p.MaxLength > 0 && p.MaxLength < p.requiredClasses() {
		return fmt.Errorf("%w: maximum length below required classes", ErrInvalidConfig)
	}
	return nil
}

func (p Policy) requiredClasses() int {
	n := 0
	for _, b := range []bool{p.RequireLower, p.RequireUpper, p.RequireDigit, p.RequireSymbol} {
		if b {
			n++
		}
	}
	return n
}
