package types

import (
	"fmt"
	"strings"
)

// Well-known program identifiers.
const (
	// CreditsProgram is the built-in program that owns account balances and fees.
	CreditsProgram = "credits.aleo"

	// FeeFunction is the credits function attached to executions as the fee.
	FeeFunction = "fee_public"

	// ProgramSuffix is the network suffix every program id carries.
	ProgramSuffix = ".aleo"
)

// ErrInvalidProgramID is returned for malformed program identifiers.
var ErrInvalidProgramID = fmt.Errorf("invalid program id: must be <name>%s", ProgramSuffix)

// ValidateProgramID checks that id has the form "<identifier>.aleo".
func ValidateProgramID(id string) error {
	name, ok := strings.CutSuffix(id, ProgramSuffix)
	if !ok || name == "" {
		return fmt.Errorf("%w: %q", ErrInvalidProgramID, id)
	}
	if err := ValidateIdentifier(name); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidProgramID, id)
	}
	return nil
}

// ValidateIdentifier checks that s is a letter-led identifier of [A-Za-z0-9_].
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("empty identifier")
	}
	if s[0] < 'a' || s[0] > 'z' {
		if s[0] < 'A' || s[0] > 'Z' {
			return fmt.Errorf("identifier %q must start with a letter", s)
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return fmt.Errorf("identifier %q contains invalid character %q", s, c)
		}
	}
	return nil
}

// Locator names a function (or future) inside a program: "program.aleo/name".
type Locator struct {
	Program  string
	Resource string
}

// ParseLocator parses "program.aleo/name".
func ParseLocator(s string) (Locator, error) {
	program, resource, ok := strings.Cut(s, "/")
	if !ok {
		return Locator{}, fmt.Errorf("invalid locator %q", s)
	}
	if err := ValidateProgramID(program); err != nil {
		return Locator{}, err
	}
	if err := ValidateIdentifier(resource); err != nil {
		return Locator{}, err
	}
	return Locator{Program: program, Resource: resource}, nil
}

// String returns "program/resource".
func (l Locator) String() string {
	return l.Program + "/" + l.Resource
}
