package flow

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/pkg/errors"
)

// Entity is anything that can compute its own canonical identifier.
type Entity interface {
	ID() Identifier
}

// MakeID computes the canonical identifier of a value by hashing its
// canonical JSON encoding. Every type fed to MakeID must encode without
// maps (use ordered slices instead), so that the result is deterministic
// across replicas regardless of Go map-iteration order — this is the same
// obligation the wire codec places on message payloads (see network/codec).
func MakeID(v interface{}) Identifier {
	b, err := json.Marshal(v)
	if err != nil {
		// every type passed to MakeID is constructed internally and must
		// be encodable; a failure here is a programming error.
		panic(errors.Wrap(err, "could not encode value for hashing"))
	}
	return sha256.Sum256(b)
}
