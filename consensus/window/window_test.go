package window

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/model/flow"
)

func signedBlock(t *testing.T, sk crypto.PrivateKey, proposer chain.ValidatorID, view chain.View) *chain.Block {
	t.Helper()
	b := &chain.Block{ParentID: flow.ZeroID, View: view, Height: chain.Height(view)}
	b.Sign(proposer, sk)
	return b
}

func TestRecordProposalAcceptsFirstOnly(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	w := New(zerolog.Nop(), 16)
	b1 := signedBlock(t, sk, 0, 1)
	accepted, equiv := w.RecordProposal(b1)
	assert.True(t, accepted)
	assert.Nil(t, equiv)

	got, ok := w.Proposal(1)
	require.True(t, ok)
	assert.Equal(t, b1.ID(), got.ID())
}

func TestRecordProposalDetectsEquivocation(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	w := New(zerolog.Nop(), 16)
	b1 := &chain.Block{ParentID: flow.ZeroID, View: 1, Height: 1}
	b1.Sign(0, sk)
	b2 := &chain.Block{ParentID: flow.ZeroID, View: 1, Height: 2} // same leader, different body
	b2.Sign(0, sk)

	_, _ = w.RecordProposal(b1)
	accepted, equiv := w.RecordProposal(b2)
	assert.False(t, accepted)
	require.NotNil(t, equiv)
	assert.Equal(t, b2.ID(), equiv.ID())
}

func TestRecordProposalIgnoresDuplicateDelivery(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	w := New(zerolog.Nop(), 16)
	b1 := signedBlock(t, sk, 0, 1)
	_, _ = w.RecordProposal(b1)

	dup := signedBlock(t, sk, 0, 1) // re-sign with identical body -> identical ID
	accepted, equiv := w.RecordProposal(dup)
	assert.False(t, accepted)
	assert.Nil(t, equiv, "redelivery of the same block must not be flagged as equivocation")
}

func TestQuorumForFormsOnceEnoughVotesRecorded(t *testing.T) {
	w := New(zerolog.Nop(), 16)
	blockID := flow.MakeID("voted-block")
	view := chain.View(3)

	keys := make(map[chain.ValidatorID]crypto.PublicKey)
	var votes []*chain.Vote
	for i := chain.ValidatorID(0); i < 3; i++ {
		pub, sk, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		keys[i] = pub
		votes = append(votes, chain.NewVote(blockID, view, i, sk))
	}

	for i, v := range votes {
		added, conflicting := w.RecordVote(v)
		assert.True(t, added)
		assert.Nil(t, conflicting)

		_, ok := w.QuorumFor(view, blockID, 3)
		if i < 2 {
			assert.False(t, ok, "fewer than quorum votes recorded so far must not form a quorum of 3")
		} else {
			assert.True(t, ok, "the third distinct vote must complete a quorum of 3")
		}
	}

	qc, ok := w.QuorumFor(view, blockID, 3)
	require.True(t, ok)
	assert.True(t, qc.Verify(3, keys))
}

func TestRecordVoteDetectsConflictingVote(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	w := New(zerolog.Nop(), 16)
	view := chain.View(1)
	blockA := flow.MakeID("block-a")
	blockB := flow.MakeID("block-b")

	v1 := chain.NewVote(blockA, view, 0, sk)
	added, conflicting := w.RecordVote(v1)
	require.True(t, added)
	require.Nil(t, conflicting)

	v2 := chain.NewVote(blockB, view, 0, sk)
	added, conflicting = w.RecordVote(v2)
	assert.False(t, added)
	require.NotNil(t, conflicting)
	assert.Equal(t, blockA, conflicting.BlockID)
}

func TestRecordNewViewDeduplicatesBySigner(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	w := New(zerolog.Nop(), 16)
	nv1 := chain.NewNewView(4, nil, 0, sk)
	assert.True(t, w.RecordNewView(nv1))

	nv2 := chain.NewNewView(4, nil, 0, sk)
	assert.False(t, w.RecordNewView(nv2))

	assert.Len(t, w.NewViews(4), 1)
}

func TestPruneBelowDropsOldViews(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	w := New(zerolog.Nop(), 16)
	b1 := signedBlock(t, sk, 0, 1)
	b2 := signedBlock(t, sk, 0, 2)
	_, _ = w.RecordProposal(b1)
	_, _ = w.RecordProposal(b2)

	w.PruneBelow(2)

	_, ok := w.Proposal(1)
	assert.False(t, ok, "views below the cutoff must be pruned")
	_, ok = w.Proposal(2)
	assert.True(t, ok, "the cutoff view itself must survive pruning")
}
