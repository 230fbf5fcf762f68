package chain

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/flow"
)

func TestBlockIDIsDeterministic(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	b1 := &Block{ParentID: flow.ZeroID, View: 1, Height: 1}
	b1.Sign(0, sk)
	b2 := &Block{ParentID: flow.ZeroID, View: 1, Height: 1}
	b2.Sign(0, sk)

	assert.Equal(t, b1.ID(), b2.ID(), "two blocks with identical body fields must hash identically")
}

func TestBlockIDExcludesSignature(t *testing.T) {
	_, sk1, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, sk2, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	b1 := &Block{ParentID: flow.ZeroID, View: 1, Height: 1}
	b1.Sign(0, sk1)
	b2 := &Block{ParentID: flow.ZeroID, View: 1, Height: 1}
	b2.Sign(0, sk2)

	assert.Equal(t, b1.ID(), b2.ID(), "block hash must not depend on the proposer's signature bytes")
	assert.NotEqual(t, b1.Signature, b2.Signature)
}

func TestBlockSignatureVerification(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	other, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	b := &Block{ParentID: flow.ZeroID, View: 3, Height: 3}
	b.Sign(2, sk)

	assert.True(t, b.VerifySignature(pub))
	assert.False(t, b.VerifySignature(other))
}

func TestQCVerifyRequiresQuorumOfDistinctValidSigners(t *testing.T) {
	keys := make(map[ValidatorID]crypto.PublicKey)
	sks := make(map[ValidatorID]crypto.PrivateKey)
	for i := ValidatorID(0); i < 4; i++ {
		pub, sk, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		keys[i] = pub
		sks[i] = sk
	}

	blockID := flow.MakeID("some-block")
	view := View(7)
	msg := VoteSigningMessage(blockID, view)

	sigs := []SignerSig{
		{SignerID: 0, Sig: crypto.Sign(sks[0], msg)},
		{SignerID: 1, Sig: crypto.Sign(sks[1], msg)},
		{SignerID: 2, Sig: crypto.Sign(sks[2], msg)},
	}
	qc := NewQC(blockID, view, sigs)

	assert.True(t, qc.Verify(3, keys), "three distinct valid signatures should meet a quorum of 3")
	assert.False(t, qc.Verify(4, keys), "three signatures should not meet a quorum of 4")
}

func TestQCVerifyRejectsDuplicateSigner(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	keys := map[ValidatorID]crypto.PublicKey{0: pub}

	blockID := flow.MakeID("dup-block")
	view := View(1)
	msg := VoteSigningMessage(blockID, view)
	sig := crypto.Sign(sk, msg)

	qc := NewQC(blockID, view, []SignerSig{{SignerID: 0, Sig: sig}, {SignerID: 0, Sig: sig}})
	assert.False(t, qc.Verify(2, keys), "a duplicated signer must not count twice toward quorum")
}

func TestQCSignersAreSortedForDeterminism(t *testing.T) {
	blockID := flow.MakeID("sorted-block")
	qc := NewQC(blockID, 1, []SignerSig{
		{SignerID: 3},
		{SignerID: 1},
		{SignerID: 2},
	})
	require.Len(t, qc.Signers, 3)
	assert.Equal(t, ValidatorID(1), qc.Signers[0].SignerID)
	assert.Equal(t, ValidatorID(2), qc.Signers[1].SignerID)
	assert.Equal(t, ValidatorID(3), qc.Signers[2].SignerID)
}

func TestVoteSignatureVerification(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	blockID := flow.MakeID("voted-block")
	v := NewVote(blockID, 5, 1, sk)
	assert.True(t, v.VerifySignature(pub))

	v.View = 6
	assert.False(t, v.VerifySignature(pub), "mutating a signed field must invalidate the signature")
}

func TestNewViewSignatureVerification(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	nv := NewNewView(9, nil, 2, sk)
	assert.True(t, nv.VerifySignature(pub))
}

func TestValidateBlockAggregatesEveryIndependentViolation(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, otherSK, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	parent := &Block{ParentID: flow.ZeroID, View: 1, Height: 1}
	parent.Sign(0, sk)

	// wrong proposer, bad signature (signed by a different key), wrong
	// height, and an invalid QC all at once.
	bad := &Block{ParentID: parent.ID(), View: 2, Height: 9, QC: &QuorumCertificate{BlockID: parent.ID(), View: 1}}
	bad.Sign(1, otherSK)

	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	err = ValidateBlock(bad, parent, 0, pub, true, false)
	require.Error(t, err)

	merr, ok := err.(*multierror.Error)
	require.True(t, ok, "ValidateBlock must return a *multierror.Error aggregating every violation")
	assert.Len(t, merr.Errors, 4, "expected one error each for proposer mismatch, signature, height, and QC")
}

func TestValidateBlockAcceptsWellFormedProposal(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	parent := &Block{ParentID: flow.ZeroID, View: 1, Height: 1}
	parent.Sign(0, sk)

	block := &Block{ParentID: parent.ID(), View: 2, Height: 2}
	block.Sign(1, sk)

	assert.NoError(t, ValidateBlock(block, parent, 1, pub, true, true))
}

// TestVoteAndNewViewSigningMessagesAreDomainSeparated guards against a
// NewView for view v sharing a signature with a Vote for (ZeroID, v):
// without a kind tag the two would be byte-identical and one signature
// would verify as both.
func TestVoteAndNewViewSigningMessagesAreDomainSeparated(t *testing.T) {
	view := View(9)
	assert.NotEqual(t, VoteSigningMessage(flow.ZeroID, view), NewViewSigningMessage(view))

	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	nv := NewNewView(view, nil, 2, sk)
	v := &Vote{BlockID: flow.ZeroID, View: view, SignerID: 2, Sig: nv.Sig}
	assert.False(t, v.VerifySignature(pub), "a NewView signature must not also verify as a Vote for (ZeroID, view)")
}
