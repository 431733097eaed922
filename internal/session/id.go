package session

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateToken returns a random (version 4) UUID string. 122 bits of the
// value come from crypto/rand.
func GenerateToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("session: failed to generate token: %w", err)
	}
	return id.String(), nil
}

// validToken rejects values that could not have been issued by GenerateToken.
func validToken(token string) bool {
	id, err := uuid.Parse(token)
	return err == nil && id.Version() == 4 && id.String() == token
}
