package chain

import (
	"sort"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/flow"
)

// SignerSig pairs a validator with their vote signature. QCs encode
// signers as an ascending-sorted slice of these rather than a map, so
// the canonical encoding (and therefore the block hash of any block that
// embeds a QC) never depends on Go map iteration order.
type SignerSig struct {
	SignerID ValidatorID      `json:"signer_id"`
	Sig      crypto.Signature `json:"sig"`
}

// QuorumCertificate aggregates >= 2f+1 distinct validator signatures
// over (BlockID, View) (§3).
type QuorumCertificate struct {
	BlockID flow.Identifier `json:"block_id"`
	View    View            `json:"view"`
	Signers []SignerSig     `json:"signers"`
}

// NewQC builds a QC from an unordered set of signer/signature pairs,
// sorting them for canonical encoding.
func NewQC(blockID flow.Identifier, view View, sigs []SignerSig) *QuorumCertificate {
	cp := make([]SignerSig, len(sigs))
	copy(cp, sigs)
	sort.Slice(cp, func(i, j int) bool { return cp[i].SignerID < cp[j].SignerID })
	return &QuorumCertificate{BlockID: blockID, View: view, Signers: cp}
}

// Verify checks that the QC carries at least quorum distinct, correctly
// signed votes under the given validator public keys.
func (qc *QuorumCertificate) Verify(quorum int, keys map[ValidatorID]crypto.PublicKey) bool {
	if qc == nil {
		return false
	}
	msg := VoteSigningMessage(qc.BlockID, qc.View)
	seen := make(map[ValidatorID]bool, len(qc.Signers))
	valid := 0
	for _, s := range qc.Signers {
		if seen[s.SignerID] {
			continue // duplicate signer does not count twice toward quorum
		}
		seen[s.SignerID] = true
		pk, ok := keys[s.SignerID]
		if !ok {
			continue
		}
		if crypto.Verify(pk, msg, s.Sig) {
			valid++
		}
	}
	return valid >= quorum
}
