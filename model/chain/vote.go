package chain

import (
	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/flow"
)

// Vote is a single validator's signature over a proposed block at a
// given view (§3, §6.1).
type Vote struct {
	BlockID  flow.Identifier  `json:"block_id"`
	View     View             `json:"view"`
	SignerID ValidatorID      `json:"signer_id"`
	Sig      crypto.Signature `json:"sig"`
}

// NewVote builds and signs a vote for a block.
func NewVote(blockID flow.Identifier, view View, signer ValidatorID, sk crypto.PrivateKey) *Vote {
	msg := VoteSigningMessage(blockID, view)
	return &Vote{BlockID: blockID, View: view, SignerID: signer, Sig: crypto.Sign(sk, msg)}
}

// VerifySignature checks the vote's signature against the signer's key.
func (v *Vote) VerifySignature(pk crypto.PublicKey) bool {
	return crypto.Verify(pk, VoteSigningMessage(v.BlockID, v.View), v.Sig)
}

// NewView carries the highest QC a replica knows when it gives up on a
// view, so the next leader can pick the correct parent (§4.1, §6.1).
type NewView struct {
	View     View               `json:"view"`
	HighQC   *QuorumCertificate `json:"high_qc"`
	SignerID ValidatorID        `json:"signer_id"`
	Sig      crypto.Signature   `json:"sig"`
}

// NewViewSigningMessage returns the canonical bytes a NewView's
// signature covers. It shares VoteSigningMessage's (block hash, view)
// shape but under the distinct kindNewView tag, so a NewView signature
// for view v can never be replayed as a Vote for (ZeroID, v) or vice
// versa.
func NewViewSigningMessage(view View) []byte {
	return signingMessage(kindNewView, flow.ZeroID, view)
}

// NewNewView builds and signs a NewView message.
func NewNewView(view View, highQC *QuorumCertificate, signer ValidatorID, sk crypto.PrivateKey) *NewView {
	return &NewView{View: view, HighQC: highQC, SignerID: signer, Sig: crypto.Sign(sk, NewViewSigningMessage(view))}
}

// VerifySignature checks the NewView's signature against the signer's key.
func (nv *NewView) VerifySignature(pk crypto.PublicKey) bool {
	return crypto.Verify(pk, NewViewSigningMessage(nv.View), nv.Sig)
}
