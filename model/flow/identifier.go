// Package flow holds the identifiers and canonical-encoding primitives
// shared by every other package in chainbook.
package flow

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// Identifier is a 32-byte collision-resistant identifier used for block
// hashes, transaction hashes and any other content address in the system.
type Identifier [32]byte

// ZeroID is the identifier with all bytes set to zero, used as the parent
// hash of the genesis block.
var ZeroID = Identifier{}

// String returns the hex representation of the identifier.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero returns true if the identifier is the zero value.
func (id Identifier) IsZero() bool {
	return id == ZeroID
}

// HexStringToIdentifier converts a hex string into an identifier.
func HexStringToIdentifier(hexString string) (Identifier, error) {
	var id Identifier
	b, err := hex.DecodeString(hexString)
	if err != nil {
		return id, errors.Wrap(err, "could not decode hex string")
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid length (have %d, want %d)", len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// MarshalJSON makes Identifier encode as a hex string, so structs holding
// identifiers remain canonical under the JSON codec (no map iteration,
// fixed textual representation).
func (id Identifier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON parses an Identifier back from its hex string form.
func (id *Identifier) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return errors.New("invalid identifier encoding")
	}
	parsed, err := HexStringToIdentifier(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
