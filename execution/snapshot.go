package execution

import (
	"sort"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/book"
	"github.com/suprabook/chainbook/model/ledger"
)

// Snapshot is an immutable, point-in-time view of the ledger and order
// books published after every commit. RPC reads query the most recent
// snapshot rather than the live state, so they never observe a partially
// applied block (§5).
type Snapshot struct {
	Height   uint64
	Accounts []ledger.Account
	Orders   []book.Order
	Markets  []book.Market
}

// Balances returns owner's balances, by asset id ascending. An asset
// whose balance has dropped to zero is still listed, with amount 0.
func (s *Snapshot) Balances(owner crypto.PublicKey) []ledger.Balance {
	for i := range s.Accounts {
		if s.Accounts[i].PublicKey == owner {
			out := make([]ledger.Balance, len(s.Accounts[i].Balances))
			copy(out, s.Accounts[i].Balances)
			return out
		}
	}
	return nil
}

// OpenOrders returns owner's resting orders across every market.
func (s *Snapshot) OpenOrders(owner crypto.PublicKey) []book.Order {
	var out []book.Order
	for _, o := range s.Orders {
		if o.Owner == owner {
			out = append(out, o)
		}
	}
	return out
}

// newSnapshot builds a Snapshot from live state. Accounts are copied and
// sorted by public key so the snapshot's own JSON encoding is canonical,
// matching the no-maps-in-hashed-types rule used throughout (model/flow).
func newSnapshot(height uint64, accounts map[crypto.PublicKey]*ledger.Account, orders []book.Order, markets []book.Market) *Snapshot {
	accs := make([]ledger.Account, 0, len(accounts))
	for _, a := range accounts {
		accs = append(accs, *a.Clone())
	}
	sort.Slice(accs, func(i, j int) bool {
		return string(accs[i].PublicKey[:]) < string(accs[j].PublicKey[:])
	})
	return &Snapshot{Height: height, Accounts: accs, Orders: orders, Markets: markets}
}
