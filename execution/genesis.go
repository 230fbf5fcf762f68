package execution

import (
	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/book"
	"github.com/suprabook/chainbook/model/ledger"
)

// Genesis asset and market ids are fixed so every replica constructs
// byte-identical genesis state without coordination (§6.5).
const (
	AssetUSD  ledger.AssetID = 0
	AssetSUPE ledger.AssetID = 1

	MarketSUPEUSD book.MarketID = 0
)

// FaucetBalance is the faucet account's fixed starting balance of each
// genesis asset: large enough to cover realistic test/dev drips but
// bounded, per §6.5.
const FaucetBalance uint64 = 1 << 40

// DripAmounts fixes, per asset, the amount a Drip transaction credits
// (§4.6 "a fixed amount of the requested asset"). Assets with no entry
// are not drippable.
var DripAmounts = map[ledger.AssetID]uint64{
	AssetUSD:  1_000_000,
	AssetSUPE: 100,
}

// genesisMarkets are the markets every replica configures at boot (§6.5).
func genesisMarkets() []book.Market {
	return []book.Market{
		{ID: MarketSUPEUSD, Base: AssetSUPE, Quote: AssetUSD, Tick: 1, Lot: 1},
	}
}

// genesisAccounts seeds the faucet account with FaucetBalance of every
// genesis asset.
func genesisAccounts(faucet crypto.PublicKey) map[crypto.PublicKey]*ledger.Account {
	acct := &ledger.Account{PublicKey: faucet}
	acct.SetBalance(AssetUSD, FaucetBalance)
	acct.SetBalance(AssetSUPE, FaucetBalance)
	return map[crypto.PublicKey]*ledger.Account{faucet: acct}
}
