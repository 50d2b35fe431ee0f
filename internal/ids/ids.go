// Package ids mints row identifiers and evaluator link tokens.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/oklog/ulid/v2"
)

const accessTokenBytes = 32

// New returns a ULID. Ids minted later sort after earlier ones.
func New() string {
	return ulid.Make().String()
}

// AccessToken returns the hex secret embedded in an evaluator's form link.
func AccessToken() (string, error) {
	b := make([]byte, accessTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ids: read entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}
