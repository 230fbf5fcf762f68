// Package chain holds the chained-HotStuff block, vote and quorum
// certificate types (§3, §4.3).
package chain

import (
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/flow"
	"github.com/suprabook/chainbook/model/ledger"
)

// ValidatorID is a replica's stable index in [0, N) (§3).
type ValidatorID uint32

// View is a monotonically non-decreasing consensus round number (§3).
type View uint64

// Height is a block's distance from genesis (parent.height + 1).
type Height uint64

// Block is a proposed block: a parent pointer by hash, a view, a height,
// the QC certifying its parent, an ordered transaction list, and the
// proposer's signature over everything else (§3).
//
// Blocks form a strict tree keyed by hash, never a cyclic structure: the
// parent is referenced by value (a 32-byte hash), and QC likewise
// references its certified block by hash — there is no owning pointer
// across the tree (§9).
type Block struct {
	ParentID   flow.Identifier        `json:"parent_id"`
	View       View                   `json:"view"`
	Height     Height                 `json:"height"`
	QC         *QuorumCertificate     `json:"qc"` // certifies ParentID; nil only for genesis
	Txs        []ledger.Transaction   `json:"txs"`
	ProposerID ValidatorID            `json:"proposer_id"`
	Signature  crypto.Signature       `json:"signature"`
}

// body is the subset of Block fields the proposer's signature and the
// block hash both cover.
type body struct {
	ParentID   flow.Identifier      `json:"parent_id"`
	View       View                 `json:"view"`
	Height     Height               `json:"height"`
	QC         *QuorumCertificate   `json:"qc"`
	Txs        []ledger.Transaction `json:"txs"`
	ProposerID ValidatorID          `json:"proposer_id"`
}

func (b *Block) body() body {
	return body{b.ParentID, b.View, b.Height, b.QC, b.Txs, b.ProposerID}
}

// ID returns the block's hash: a deterministic function of every field
// except the proposer's signature (§3).
func (b *Block) ID() flow.Identifier {
	return flow.MakeID(b.body())
}

// SigningBytes returns the canonical bytes the proposer signs and every
// voter re-derives to verify that signature.
func (b *Block) SigningBytes() []byte {
	id := b.ID()
	return id[:]
}

// Sign signs the block in place as its proposer.
func (b *Block) Sign(proposer ValidatorID, sk crypto.PrivateKey) {
	b.ProposerID = proposer
	b.Signature = crypto.Sign(sk, b.SigningBytes())
}

// VerifySignature checks the proposer's signature given their public key.
func (b *Block) VerifySignature(pk crypto.PublicKey) bool {
	return crypto.Verify(pk, b.SigningBytes(), b.Signature)
}

// Message kind tags domain-separate the byte strings signed by distinct
// wire message types that would otherwise collide: a NewView for view v
// signs (flow.ZeroID, v) exactly like a Vote for (ZeroID, v) would, so
// without a leading kind byte either signature would also verify as the
// other.
const (
	kindVote    byte = 1
	kindNewView byte = 2
)

// signingMessage builds the canonical (kind, block hash, view) byte
// string a vote-like signature covers.
func signingMessage(kind byte, blockID flow.Identifier, view View) []byte {
	msg := make([]byte, 1+32+8)
	msg[0] = kind
	copy(msg[1:], blockID[:])
	binary.BigEndian.PutUint64(msg[1+32:], uint64(view))
	return msg
}

// VoteSigningMessage returns the canonical bytes a vote's signature
// covers: (vote kind tag, block hash, view), per §3's QC/Vote definition.
func VoteSigningMessage(blockID flow.Identifier, view View) []byte {
	return signingMessage(kindVote, blockID, view)
}

// MarshalBinary returns the block's JSON encoding, wrapping any marshal
// error.
func (b *Block) MarshalBinary() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal block")
	}
	return data, nil
}
