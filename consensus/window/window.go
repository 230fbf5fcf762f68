// Package window implements the view-indexed message cache used to form
// quorum certificates and bound the consensus core's memory (§4.2).
package window

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/model/flow"
)

type entry struct {
	proposal    *chain.Block
	equivocated *chain.Block // second distinct proposal from the same leader, if any (§4.2, §9)
	votes       map[flow.Identifier]map[chain.ValidatorID]*chain.Vote
	newViews    map[chain.ValidatorID]*chain.NewView
}

func newEntry() *entry {
	return &entry{
		votes:    make(map[flow.Identifier]map[chain.ValidatorID]*chain.Vote),
		newViews: make(map[chain.ValidatorID]*chain.NewView),
	}
}

// Window caches, per view, the accepted proposal, the votes received by
// block hash, and NewView messages. It is backed by an LRU keyed by view
// so that even if the replica core forgets to call PruneBelow, memory is
// bounded by the cache's capacity (§4.2 "Memory is bounded by pruning
// below the highest committed view minus a fixed safety window").
type Window struct {
	log zerolog.Logger

	mu    sync.Mutex
	cache *lru.Cache
}

// New creates a window bounded to at most capacity views.
func New(log zerolog.Logger, capacity int) *Window {
	c, err := lru.New(capacity)
	if err != nil {
		// only returns an error for capacity <= 0, which is a
		// configuration bug, not a runtime condition.
		panic(err)
	}
	return &Window{log: log.With().Str("component", "window").Logger(), cache: c}
}

func (w *Window) entryLocked(view chain.View) *entry {
	if v, ok := w.cache.Get(view); ok {
		return v.(*entry)
	}
	e := newEntry()
	w.cache.Add(view, e)
	return e
}

// RecordProposal stores the first proposal seen for a view. A second,
// distinct proposal from the same leader is rejected and recorded as
// equivocation evidence rather than replacing the first (§4.2, §4.3).
func (w *Window) RecordProposal(block *chain.Block) (accepted bool, equivocation *chain.Block) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.entryLocked(block.View)
	if e.proposal == nil {
		e.proposal = block
		return true, nil
	}
	if e.proposal.ID() == block.ID() {
		return false, nil // duplicate delivery of the same proposal, not equivocation
	}
	if e.proposal.ProposerID == block.ProposerID {
		e.equivocated = block
		w.log.Warn().
			Uint64("view", uint64(block.View)).
			Uint32("proposer_id", uint32(block.ProposerID)).
			Msg("dropped equivocating proposal from same leader")
	}
	return false, e.equivocated
}

// Proposal returns the accepted proposal for a view, if any.
func (w *Window) Proposal(view chain.View) (*chain.Block, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.cache.Get(view)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	return e.proposal, e.proposal != nil
}

// RecordVote deduplicates by (view, block hash, signer) and stores the
// vote. It returns false if this (view, signer) pair already voted for
// a different block hash, which is equivocation evidence (§4.3).
func (w *Window) RecordVote(vote *chain.Vote) (added bool, conflicting *chain.Vote) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.entryLocked(vote.View)
	for hash, signers := range e.votes {
		if hash == vote.BlockID {
			continue
		}
		if existing, ok := signers[vote.SignerID]; ok {
			return false, existing
		}
	}
	signers, ok := e.votes[vote.BlockID]
	if !ok {
		signers = make(map[chain.ValidatorID]*chain.Vote)
		e.votes[vote.BlockID] = signers
	}
	if _, ok := signers[vote.SignerID]; ok {
		return false, nil // duplicate vote for the same block, not an error
	}
	signers[vote.SignerID] = vote
	return true, nil
}

// QuorumFor builds a QC once at least `quorum` distinct votes are
// present for (view, blockID).
func (w *Window) QuorumFor(view chain.View, blockID flow.Identifier, quorum int) (*chain.QuorumCertificate, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	v, ok := w.cache.Peek(view)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	signers, ok := e.votes[blockID]
	if !ok || len(signers) < quorum {
		return nil, false
	}
	sigs := make([]chain.SignerSig, 0, len(signers))
	for id, vote := range signers {
		sigs = append(sigs, chain.SignerSig{SignerID: id, Sig: vote.Sig})
	}
	return chain.NewQC(blockID, view, sigs), true
}

// RecordNewView stores a NewView message, deduplicated by signer.
func (w *Window) RecordNewView(nv *chain.NewView) (added bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.entryLocked(nv.View)
	if _, ok := e.newViews[nv.SignerID]; ok {
		return false
	}
	e.newViews[nv.SignerID] = nv
	return true
}

// NewViews returns every distinct NewView recorded for a view.
func (w *Window) NewViews(view chain.View) []*chain.NewView {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.cache.Peek(view)
	if !ok {
		return nil
	}
	e := v.(*entry)
	out := make([]*chain.NewView, 0, len(e.newViews))
	for _, nv := range e.newViews {
		out = append(out, nv)
	}
	return out
}

// PruneBelow drops every entry for a view strictly below cutoff.
func (w *Window) PruneBelow(cutoff chain.View) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, k := range w.cache.Keys() {
		view := k.(chain.View)
		if view < cutoff {
			w.cache.Remove(view)
		}
	}
}
