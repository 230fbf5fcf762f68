// Package book holds the spot-market and resting-order types owned by
// the clearinghouse.
package book

import (
	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/ledger"
)

// MarketID identifies a market (§3).
type MarketID uint32

// Market pairs a base and quote asset with tick/lot granularity.
type Market struct {
	ID    MarketID       `json:"id"`
	Base  ledger.AssetID `json:"base"`
	Quote ledger.AssetID `json:"quote"`
	Tick  uint64         `json:"tick"` // minimum price increment
	Lot   uint64         `json:"lot"` // minimum quantity increment
}

// Order is a resting or in-flight order in a market's book (§3). Market
// orders never rest (§4.4) so Price is meaningless for them once placed.
type Order struct {
	ID        uint64           `json:"id"`
	Owner     crypto.PublicKey `json:"owner"`
	Side      ledger.Side      `json:"side"`
	Price     uint64           `json:"price"`
	Remaining uint64           `json:"remaining"`
	Sequence  uint64           `json:"sequence"`
}
