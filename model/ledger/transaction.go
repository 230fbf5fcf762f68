// Package ledger holds the account, asset and transaction types applied
// by the execution engine at commit time.
package ledger

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/flow"
)

// AssetID identifies an asset (§3 Asset, globally unique id).
type AssetID uint32

// Side is which side of the book an order sits on.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// Class is the mempool priority class a transaction carries (§3, §4.5).
type Class uint8

const (
	ClassNormal Class = iota
	ClassUrgent
)

// Kind identifies which payload variant a transaction carries. Exactly
// one of the Payload's pointer fields is non-nil, matching Kind — this
// keeps the wire encoding a flat tagged union rather than an interface,
// so JSON marshal order (and therefore the canonical hash) never depends
// on a type switch at decode time.
type Kind uint8

const (
	KindTransfer Kind = iota
	KindPlaceLimit
	KindPlaceMarket
	KindCancel
	KindDrip
)

// Transfer moves `Amount` of `Asset` from the sender to `To`.
type Transfer struct {
	To     crypto.PublicKey `json:"to"`
	Asset  AssetID          `json:"asset"`
	Amount uint64           `json:"amount"`
}

// PlaceLimit places a resting-capable limit order on Market.
type PlaceLimit struct {
	Market uint32 `json:"market"`
	Side   Side   `json:"side"`
	Price  uint64 `json:"price"`
	Qty    uint64 `json:"qty"`
}

// PlaceMarket places an immediate-or-cancel market order on Market.
type PlaceMarket struct {
	Market uint32 `json:"market"`
	Side   Side   `json:"side"`
	Qty    uint64 `json:"qty"`
}

// Cancel removes a resting order owned by the sender.
type Cancel struct {
	OrderID uint64 `json:"order_id"`
}

// Drip credits To with a fixed faucet amount of Asset. Only valid when
// the faucet account (configured at boot, §6.5) is the sender; the RPC
// engine is what actually signs and submits these on a client's behalf.
type Drip struct {
	Asset AssetID          `json:"asset"`
	To    crypto.PublicKey `json:"to"`
}

// Payload is the tagged union of transaction bodies. Kind selects which
// field is populated; the others are nil/zero.
type Payload struct {
	Kind        Kind         `json:"kind"`
	Transfer    *Transfer    `json:"transfer,omitempty"`
	PlaceLimit  *PlaceLimit  `json:"place_limit,omitempty"`
	PlaceMarket *PlaceMarket `json:"place_market,omitempty"`
	Cancel      *Cancel      `json:"cancel,omitempty"`
	Drip        *Drip        `json:"drip,omitempty"`
}

// Transaction is a client-signed transaction as defined in §3.
type Transaction struct {
	Sender    crypto.PublicKey `json:"sender"`
	Nonce     uint64           `json:"nonce"`
	Class     Class            `json:"class"`
	Payload   Payload          `json:"payload"`
	Signature crypto.Signature `json:"signature"`
}

// signingBody is the subset of Transaction fields the signature covers;
// the Signature field itself is obviously excluded.
type signingBody struct {
	Sender  crypto.PublicKey `json:"sender"`
	Nonce   uint64           `json:"nonce"`
	Class   Class            `json:"class"`
	Payload Payload          `json:"payload"`
}

// CanonicalBytes returns the deterministic byte encoding a client signs
// over and a replica re-derives to verify the signature.
func (t *Transaction) CanonicalBytes() []byte {
	b, err := json.Marshal(signingBody{Sender: t.Sender, Nonce: t.Nonce, Class: t.Class, Payload: t.Payload})
	if err != nil {
		panic(errors.Wrap(err, "could not encode transaction body"))
	}
	return b
}

// ID returns the transaction's content hash, used as its mempool and RPC
// correlation key.
func (t *Transaction) ID() flow.Identifier {
	return flow.MakeID(struct {
		Body signingBody
		Sig  crypto.Signature
	}{signingBody{t.Sender, t.Nonce, t.Class, t.Payload}, t.Signature})
}

// VerifySignature checks the transaction's signature against its sender.
func (t *Transaction) VerifySignature() bool {
	return crypto.Verify(t.Sender, t.CanonicalBytes(), t.Signature)
}

// Sign signs the transaction in place with the sender's private key and
// sets Signature accordingly. Used by the client console, and by the RPC
// engine when it signs drips with the faucet key.
func (t *Transaction) Sign(sk crypto.PrivateKey) {
	t.Signature = crypto.Sign(sk, t.CanonicalBytes())
}
