package mempool

import (
	"github.com/google/btree"

	"github.com/suprabook/chainbook/model/ledger"
)

// nonceEntry is one pending transaction, ordered by nonce within its
// account's queue.
type nonceEntry struct {
	nonce   uint64
	arrival uint64
	tx      *ledger.Transaction
}

func lessNonce(a, b nonceEntry) bool { return a.nonce < b.nonce }

// accountQueue is one sender's pending transactions, ordered by nonce
// ascending (§4.5), backed by a btree for O(log n) admit/evict.
type accountQueue struct {
	nextExpectedNonce uint64
	tree              *btree.BTreeG[nonceEntry]
	headKey           *headKey // this account's current entry in the global head tree, if any
}

func newAccountQueue(nextExpectedNonce uint64) *accountQueue {
	return &accountQueue{
		nextExpectedNonce: nextExpectedNonce,
		tree:              btree.NewG(degree, lessNonce),
	}
}

func (aq *accountQueue) get(nonce uint64) (*ledger.Transaction, bool) {
	e, ok := aq.tree.Get(nonceEntry{nonce: nonce})
	if !ok {
		return nil, false
	}
	return e.tx, true
}

func (aq *accountQueue) put(nonce uint64, tx *ledger.Transaction, arrival uint64) {
	aq.tree.ReplaceOrInsert(nonceEntry{nonce: nonce, arrival: arrival, tx: tx})
}

func (aq *accountQueue) headEntry() (nonceEntry, bool) {
	return aq.tree.Min()
}

func (aq *accountQueue) headNonce() uint64 {
	e, ok := aq.tree.Min()
	if !ok {
		return aq.nextExpectedNonce // no head: treat as eligible-but-empty, caller checks emptiness separately
	}
	return e.nonce
}

func (aq *accountQueue) empty() bool { return aq.tree.Len() == 0 }
func (aq *accountQueue) len() int    { return aq.tree.Len() }

// discardBelow removes every pending entry with nonce < cutoff, e.g.
// because a block committed transactions that advanced the account's
// next expected nonce past them (§4.5 on_commit).
func (aq *accountQueue) discardBelow(cutoff uint64) {
	var stale []nonceEntry
	aq.tree.Ascend(func(e nonceEntry) bool {
		if e.nonce >= cutoff {
			return false
		}
		stale = append(stale, e)
		return true
	})
	for _, e := range stale {
		aq.tree.Delete(e)
	}
}
