package ledger

import "github.com/suprabook/chainbook/crypto"

// Asset is a globally-registered fungible asset (§3).
type Asset struct {
	ID     AssetID `json:"id"`
	Symbol string  `json:"symbol"`
}

// Balance pairs an asset with an amount. Accounts encode their balances
// as a slice of Balance (asset id ascending) rather than a map, so the
// canonical JSON encoding used for hashing snapshots never depends on Go
// map iteration order.
type Balance struct {
	Asset  AssetID `json:"asset"`
	Amount uint64  `json:"amount"`
}

// Account is a ledger account: a public key, its balances, and the next
// nonce it will accept (§3).
type Account struct {
	PublicKey   crypto.PublicKey `json:"public_key"`
	Balances    []Balance        `json:"balances"`
	NextNonce   uint64           `json:"next_nonce"`
}

// Balance returns the account's balance of the given asset, 0 if absent.
func (a *Account) Balance(asset AssetID) uint64 {
	for i := range a.Balances {
		if a.Balances[i].Asset == asset {
			return a.Balances[i].Amount
		}
	}
	return 0
}

// SetBalance sets (creating if absent) the account's balance of an asset,
// keeping the slice sorted by asset id so encoding stays canonical.
func (a *Account) SetBalance(asset AssetID, amount uint64) {
	for i := range a.Balances {
		if a.Balances[i].Asset == asset {
			a.Balances[i].Amount = amount
			return
		}
	}
	a.Balances = append(a.Balances, Balance{Asset: asset, Amount: amount})
	for i := len(a.Balances) - 1; i > 0 && a.Balances[i].Asset < a.Balances[i-1].Asset; i-- {
		a.Balances[i], a.Balances[i-1] = a.Balances[i-1], a.Balances[i]
	}
}

// Clone returns a deep copy of the account, used when publishing an
// immutable snapshot (§5).
func (a *Account) Clone() *Account {
	c := &Account{PublicKey: a.PublicKey, NextNonce: a.NextNonce}
	c.Balances = make([]Balance, len(a.Balances))
	copy(c.Balances, a.Balances)
	return c
}
