package policy

import (
	"fmt"
	"strings"

	"roster-lookup/internal/auth"
)

// Policy restricts sign-in to identities whose affiliation contains a
// keyword. A disabled policy admits everyone.
type Policy struct {
	Enabled      bool
	Keyword      string
	ErrorMessage string
}

// DeniedError is returned when an identity is rejected. Affiliation is the
// raw value the provider sent, unmodified.
type DeniedError struct {
	Message     string
	Affiliation string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s (affiliation %q)", e.Message, e.Affiliation)
}

// Check returns nil when identity may use the system, or a *DeniedError.
// Matching is a case-sensitive substring test on the affiliation.
func (p Policy) Check(identity auth.Identity) error {
	if !p.Enabled {
		return nil
	}
	if strings.Contains(identity.Affiliation, p.Keyword) {
		return nil
	}
	return &DeniedError{
		Message:     p.ErrorMessage,
		Affiliation: identity.Affiliation,
	}
}
