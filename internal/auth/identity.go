package auth

import "strings"

// Identity holds the profile attributes an identity provider asserted for a
// verified user. It contains facts only, no decisions.
type Identity struct {
	FullName    string `json:"name"`
	Email       string `json:"email"`
	Affiliation string `json:"school"`      // school or organization name
	AuxiliaryID string `json:"id"`          // provider-side auxiliary id
	ClassSeat   string `json:"studentInfo"` // class/seat or locale information
}

// LookupKey returns the local part of the email address, trimmed. It is the
// key used to find the user's rows in the record store.
func (i Identity) LookupKey() string {
	email := strings.TrimSpace(i.Email)
	if email == "" {
		return ""
	}
	local, _, _ := strings.Cut(email, "@")
	return strings.TrimSpace(local)
}
