package mempool

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/ledger"
)

// zeroNonceSource always reports 0 as the next expected nonce, as if
// every account were brand new.
type zeroNonceSource struct{}

func (zeroNonceSource) NextNonce(crypto.PublicKey) uint64 { return 0 }

// fixedNonceSource reports the same next expected nonce for every
// account, standing in for a ledger that has already applied commits.
type fixedNonceSource uint64

func (f fixedNonceSource) NextNonce(crypto.PublicKey) uint64 { return uint64(f) }

func newTx(t *testing.T, sk crypto.PrivateKey, sender crypto.PublicKey, nonce uint64, class ledger.Class) *ledger.Transaction {
	t.Helper()
	tx := &ledger.Transaction{
		Sender: sender,
		Nonce:  nonce,
		Class:  class,
		Payload: ledger.Payload{
			Kind:     ledger.KindTransfer,
			Transfer: &ledger.Transfer{To: sender, Asset: 0, Amount: 1},
		},
	}
	tx.Sign(sk)
	return tx
}

func newPool() *Mempool {
	return New(zerolog.Nop())
}

func TestAdmitRejectsBadSignature(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx := newTx(t, sk, pub, 0, ledger.ClassNormal)
	tx.Nonce = 5 // mutate after signing to break the signature

	m := newPool()
	res := m.Admit(tx, zeroNonceSource{})
	assert.Equal(t, Rejected, res.Status)
	assert.Equal(t, ErrBadSignature, res.Reason)
}

func TestAdmitRejectsNonceBelowExpected(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	m := newPool()
	tx0 := newTx(t, sk, pub, 0, ledger.ClassNormal)
	require.Equal(t, Admitted, m.Admit(tx0, zeroNonceSource{}).Status)
	m.OnCommit([]*ledger.Transaction{tx0})

	// OnCommit drops the emptied account queue, so the next Admit asks the
	// nonce source again; after nonce 0 committed, the ledger reports 1.
	stale := newTx(t, sk, pub, 0, ledger.ClassNormal)
	res := m.Admit(stale, fixedNonceSource(1))
	assert.Equal(t, Rejected, res.Status)
	assert.Equal(t, ErrNonceTooLow, res.Reason)
}

func TestAdmitReplacesByHigherPriority(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	m := newPool()
	low := newTx(t, sk, pub, 0, ledger.ClassNormal)
	require.Equal(t, Admitted, m.Admit(low, zeroNonceSource{}).Status)

	high := newTx(t, sk, pub, 0, ledger.ClassUrgent)
	res := m.Admit(high, zeroNonceSource{})
	assert.Equal(t, Replaced, res.Status)
	assert.Equal(t, 1, m.Len())
}

func TestAdmitRejectsLowerPriorityReplacement(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	m := newPool()
	high := newTx(t, sk, pub, 0, ledger.ClassUrgent)
	require.Equal(t, Admitted, m.Admit(high, zeroNonceSource{}).Status)

	low := newTx(t, sk, pub, 0, ledger.ClassNormal)
	res := m.Admit(low, zeroNonceSource{})
	assert.Equal(t, Rejected, res.Status)
	assert.Equal(t, ErrLowerPriority, res.Reason)
}

// TestDrainOrdersUrgentBeforeNormalThenArrival is the priority-mempool
// property from §8: Urgent transactions drain ahead of Normal ones
// regardless of arrival order, and within a class, arrival order (and
// per-account nonce order) is preserved.
func TestDrainOrdersUrgentBeforeNormalThenArrival(t *testing.T) {
	pubA, skA, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	pubB, skB, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	m := newPool()
	normalA := newTx(t, skA, pubA, 0, ledger.ClassNormal)
	require.Equal(t, Admitted, m.Admit(normalA, zeroNonceSource{}).Status)

	urgentB := newTx(t, skB, pubB, 0, ledger.ClassUrgent)
	require.Equal(t, Admitted, m.Admit(urgentB, zeroNonceSource{}).Status)

	drained := m.Drain(10)
	require.Len(t, drained, 2)
	assert.Equal(t, urgentB.ID(), drained[0].ID(), "urgent transaction must drain first even though it arrived second")
	assert.Equal(t, normalA.ID(), drained[1].ID())
}

func TestDrainRespectsPerAccountNonceOrder(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	m := newPool()
	tx1 := newTx(t, sk, pub, 1, ledger.ClassNormal)
	require.Equal(t, Admitted, m.Admit(tx1, zeroNonceSource{}).Status)
	tx0 := newTx(t, sk, pub, 0, ledger.ClassNormal)
	require.Equal(t, Admitted, m.Admit(tx0, zeroNonceSource{}).Status)

	drained := m.Drain(10)
	require.Len(t, drained, 2)
	assert.Equal(t, uint64(0), drained[0].Nonce, "nonce 0 must drain before nonce 1 even though it arrived second")
	assert.Equal(t, uint64(1), drained[1].Nonce)
}

func TestDrainIsNonDestructive(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	m := newPool()
	tx := newTx(t, sk, pub, 0, ledger.ClassNormal)
	require.Equal(t, Admitted, m.Admit(tx, zeroNonceSource{}).Status)

	first := m.Drain(10)
	second := m.Drain(10)
	assert.Equal(t, first, second, "draining twice before a commit must return the same candidates")
	assert.Equal(t, 1, m.Len())
}

func TestOnCommitEvictsAndDiscardsStaleNonces(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	m := newPool()
	tx0 := newTx(t, sk, pub, 0, ledger.ClassNormal)
	tx1 := newTx(t, sk, pub, 1, ledger.ClassNormal)
	require.Equal(t, Admitted, m.Admit(tx0, zeroNonceSource{}).Status)
	require.Equal(t, Admitted, m.Admit(tx1, zeroNonceSource{}).Status)
	require.Equal(t, 2, m.Len())

	m.OnCommit([]*ledger.Transaction{tx0})
	assert.Equal(t, 1, m.Len(), "committing nonce 0 must evict it but keep nonce 1 pending")

	drained := m.Drain(10)
	require.Len(t, drained, 1)
	assert.Equal(t, uint64(1), drained[0].Nonce)
}

func TestOnCommitRemovesEmptyAccounts(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	m := newPool()
	tx := newTx(t, sk, pub, 0, ledger.ClassNormal)
	require.Equal(t, Admitted, m.Admit(tx, zeroNonceSource{}).Status)
	m.OnCommit([]*ledger.Transaction{tx})
	assert.Equal(t, 0, m.Len())
}
