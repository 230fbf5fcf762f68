// Package mempool implements the priority mempool (§4.5): a per-account
// nonce-ordered queue feeding a global structure that drains Urgent
// transactions (cancels, liquidations) ahead of Normal ones.
package mempool

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/rs/zerolog"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/ledger"
)

// degree is the btree branching factor; the trees here are small (one
// node per pending tx per account, one node per active account) so this
// is not performance-sensitive.
const degree = 32

// Status is the outcome of an admit call.
type Status uint8

const (
	Admitted Status = iota
	Replaced
	Rejected
)

func (s Status) String() string {
	switch s {
	case Admitted:
		return "admitted"
	case Replaced:
		return "replaced"
	default:
		return "rejected"
	}
}

// AdmitResult reports the outcome of Admit.
type AdmitResult struct {
	Status Status
	Reason error
}

// NonceSource is queried for an account's next expected nonce when a
// transaction with no pending history for that sender is admitted.
type NonceSource interface {
	NextNonce(sender crypto.PublicKey) uint64
}

// headKey orders accounts by the priority of their queue head: Urgent
// before Normal, then arrival order within a class. Only one headKey per
// account is ever present in the global tree, so drain cost is
// O(k log A) for k drained transactions and A active accounts (§4.5).
type headKey struct {
	sender  crypto.PublicKey
	class   ledger.Class
	arrival uint64
}

func rank(c ledger.Class) int {
	if c == ledger.ClassUrgent {
		return 0
	}
	return 1
}

func lessHead(a, b headKey) bool {
	if ra, rb := rank(a.class), rank(b.class); ra != rb {
		return ra < rb
	}
	if a.arrival != b.arrival {
		return a.arrival < b.arrival
	}
	return bytes.Compare(a.sender[:], b.sender[:]) < 0
}

// Mempool is the replica-owned pending-transaction pool. It is not
// safe to share across goroutines without the enclosing replica loop's
// serialization (§5), but guards its own state with a mutex so that
// admit requests arriving from the RPC engine's channel never race the
// replica loop's drain/on_commit calls.
type Mempool struct {
	log zerolog.Logger

	mu       sync.Mutex
	accounts map[crypto.PublicKey]*accountQueue
	heads    *btree.BTreeG[headKey]
	arrival  uint64
}

// New creates an empty mempool.
func New(log zerolog.Logger) *Mempool {
	return &Mempool{
		log:      log.With().Str("component", "mempool").Logger(),
		accounts: make(map[crypto.PublicKey]*accountQueue),
		heads:    btree.NewG(degree, lessHead),
	}
}

func (m *Mempool) queueFor(sender crypto.PublicKey, src NonceSource) *accountQueue {
	aq, ok := m.accounts[sender]
	if !ok {
		aq = newAccountQueue(src.NextNonce(sender))
		m.accounts[sender] = aq
	}
	return aq
}

// Admit verifies and inserts tx (§4.5). src supplies the account's next
// expected nonce the first time a sender is seen.
func (m *Mempool) Admit(tx *ledger.Transaction, src NonceSource) AdmitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !tx.VerifySignature() {
		return AdmitResult{Status: Rejected, Reason: ErrBadSignature}
	}

	aq := m.queueFor(tx.Sender, src)
	if tx.Nonce < aq.nextExpectedNonce {
		return AdmitResult{Status: Rejected, Reason: ErrNonceTooLow}
	}

	wasHead := aq.headNonce() == aq.nextExpectedNonce

	existing, hasExisting := aq.get(tx.Nonce)
	if hasExisting && rank(tx.Class) > rank(existing.Class) {
		return AdmitResult{Status: Rejected, Reason: ErrLowerPriority}
	}

	m.arrival++
	aq.put(tx.Nonce, tx, m.arrival)

	m.reindexHead(tx.Sender, aq, wasHead)

	if hasExisting {
		return AdmitResult{Status: Replaced}
	}
	return AdmitResult{Status: Admitted}
}

// reindexHead updates sender's position in the global head tree after a
// mutation. wasHeadBefore tells us whether a stale headKey needs
// removing first; the new key is only inserted if the account's head is
// now eligible (nonce == next expected), matching drain's eligibility
// check.
func (m *Mempool) reindexHead(sender crypto.PublicKey, aq *accountQueue, wasHeadBefore bool) {
	if wasHeadBefore && aq.headKey != nil {
		m.heads.Delete(*aq.headKey)
		aq.headKey = nil
	}
	head, ok := aq.headEntry()
	if !ok || head.nonce != aq.nextExpectedNonce {
		return
	}
	k := headKey{sender: sender, class: head.tx.Class, arrival: head.arrival}
	m.heads.ReplaceOrInsert(k)
	aq.headKey = &k
}

// Drain selects up to budget transactions, Urgent class first, then
// per-account head-of-queue arrival order, skipping accounts whose head
// nonce is not yet next_expected (§4.5). A transaction offered by Drain
// is not removed from the mempool: a proposal built from it may lose its
// view and never commit, so eviction only happens in OnCommit once the
// containing block is actually finalized. Repeated drains before a
// commit may therefore return overlapping sets; that is intentional,
// since the next leader should get the same candidates the last one had.
//
// Because nothing is removed, advancing past a selected head within one
// call is simulated locally: working is a clone of the persistent head
// tree (cheap, copy-on-write) and cursor tracks each account's
// hypothetical next nonce for the remainder of this call only.
func (m *Mempool) Drain(budget int) []*ledger.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.heads.Clone()
	cursor := make(map[crypto.PublicKey]uint64)

	out := make([]*ledger.Transaction, 0, budget)
	for len(out) < budget {
		k, ok := working.Min()
		if !ok {
			break
		}
		working.Delete(k)
		aq := m.accounts[k.sender]
		if aq == nil {
			continue
		}
		nonce, ok := cursor[k.sender]
		if !ok {
			nonce = aq.nextExpectedNonce
		}
		e, ok := aq.tree.Get(nonceEntry{nonce: nonce})
		if !ok {
			continue
		}
		out = append(out, e.tx)
		cursor[k.sender] = nonce + 1

		if next, ok := aq.tree.Get(nonceEntry{nonce: nonce + 1}); ok {
			working.ReplaceOrInsert(headKey{sender: k.sender, class: next.tx.Class, arrival: next.arrival})
		}
	}
	return out
}

// OnCommit evicts every committed transaction and, for each sender,
// discards any pending transaction whose nonce falls below the sender's
// new next expected nonce (one past the highest nonce it committed).
// This also evicts the committed transactions themselves, since their
// nonces are by definition below the new cutoff (§4.5).
func (m *Mempool) OnCommit(committed []*ledger.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[crypto.PublicKey]uint64, len(committed))
	for _, tx := range committed {
		if n, ok := next[tx.Sender]; !ok || tx.Nonce+1 > n {
			next[tx.Sender] = tx.Nonce + 1
		}
	}

	for sender, n := range next {
		aq, ok := m.accounts[sender]
		if !ok {
			continue
		}
		if aq.headKey != nil {
			m.heads.Delete(*aq.headKey)
			aq.headKey = nil
		}
		aq.nextExpectedNonce = n
		aq.discardBelow(n)
		m.reindexHead(sender, aq, false)
		if aq.empty() {
			delete(m.accounts, sender)
		}
	}
}

// Len returns the number of pending transactions across all accounts.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, aq := range m.accounts {
		n += aq.len()
	}
	return n
}
