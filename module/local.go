package module

import (
	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/chain"
)

// Local exposes this replica's own identity and signing key, the same
// role the teacher's module.Local interface plays for flow-go engines.
type Local interface {
	ID() chain.ValidatorID
	PublicKey() crypto.PublicKey
	Sign(msg []byte) crypto.Signature
}

type local struct {
	id crypto.PrivateKey
	vi chain.ValidatorID
	pk crypto.PublicKey
}

// NewLocal wraps a replica's validator index and keypair as a Local.
func NewLocal(vi chain.ValidatorID, pk crypto.PublicKey, sk crypto.PrivateKey) Local {
	return &local{id: sk, vi: vi, pk: pk}
}

func (l *local) ID() chain.ValidatorID        { return l.vi }
func (l *local) PublicKey() crypto.PublicKey   { return l.pk }
func (l *local) Sign(msg []byte) crypto.Signature { return crypto.Sign(l.id, msg) }
