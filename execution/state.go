// Package execution applies committed transactions to the ledger and
// clearinghouse deterministically (§4.6) and publishes an immutable
// snapshot after every commit for RPC reads to observe (§5).
package execution

import (
	"strconv"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/suprabook/chainbook/clearinghouse"
	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/book"
	"github.com/suprabook/chainbook/model/ledger"
	"github.com/suprabook/chainbook/module/metrics"
)

// Outcome classifies how a transaction was handled (§7).
type Outcome uint8

const (
	// Rejected means the transaction never touched state: the failure
	// was in signature, sender-knownness, or nonce matching (§4.6 item 1).
	Rejected Outcome = iota
	// Applied means the transaction's effect was committed, possibly
	// with an operation-level error recorded (§4.6 items 2-4; nonce
	// still advances, matching §4.6 item 5).
	Applied
)

// TxResult is the per-transaction outcome recorded at commit time and
// surfaced to the RPC client once the containing block commits (§7).
type TxResult struct {
	Outcome Outcome
	Err     error // nil on full success
	Place   *clearinghouse.Result // populated for PlaceLimit/PlaceMarket
}

// State owns the ledger's accounts and the clearinghouse, and is mutated
// only from the replica's commit path (§5). Reads go through the
// published Snapshot, never this type directly, once the replica core
// is wired up.
type State struct {
	log zerolog.Logger

	faucet   crypto.PublicKey
	accounts map[crypto.PublicKey]*ledger.Account
	ch       *clearinghouse.Clearinghouse
	height   uint64

	metrics  *metrics.Collector
	snapshot atomic.Pointer[Snapshot]
}

// New constructs genesis state: the faucet account funded per §6.5,
// wired to a clearinghouse over the genesis markets.
func New(log zerolog.Logger, faucet crypto.PublicKey, mc *metrics.Collector) *State {
	log = log.With().Str("component", "execution").Logger()
	s := &State{
		log:      log,
		faucet:   faucet,
		accounts: genesisAccounts(faucet),
		metrics:  mc,
	}
	s.ch = clearinghouse.New(log, s, genesisMarkets())
	s.publish()
	return s
}

// Snapshot returns the most recently published immutable state.
func (s *State) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// NextNonce implements mempool.NonceSource.
func (s *State) NextNonce(sender crypto.PublicKey) uint64 {
	if a, ok := s.accounts[sender]; ok {
		return a.NextNonce
	}
	return 0
}

// Balance implements clearinghouse.Balances.
func (s *State) Balance(owner crypto.PublicKey, asset ledger.AssetID) uint64 {
	if a, ok := s.accounts[owner]; ok {
		return a.Balance(asset)
	}
	return 0
}

// SetBalance implements clearinghouse.Balances, creating the account if
// this is the first time owner is credited (e.g. a first-time maker
// counterparty in a trade).
func (s *State) SetBalance(owner crypto.PublicKey, asset ledger.AssetID, amount uint64) {
	s.ensureAccount(owner).SetBalance(asset, amount)
}

func (s *State) ensureAccount(pk crypto.PublicKey) *ledger.Account {
	a, ok := s.accounts[pk]
	if !ok {
		a = &ledger.Account{PublicKey: pk}
		s.accounts[pk] = a
	}
	return a
}

// ApplyBlock applies every transaction in a newly committed block, in
// order, then publishes a fresh snapshot (§4.6, §5). It returns one
// TxResult per transaction, in the same order, for the RPC engine to
// correlate against pending client requests.
func (s *State) ApplyBlock(height uint64, txs []ledger.Transaction) []TxResult {
	results := make([]TxResult, len(txs))
	for i := range txs {
		results[i] = s.Apply(&txs[i])
	}
	s.height = height
	s.publish()

	if s.metrics != nil {
		s.metrics.CommittedHeight.Set(float64(s.height))
		for _, r := range results {
			outcome := "applied"
			if r.Outcome == Rejected {
				outcome = "rejected"
			} else if r.Err != nil {
				outcome = "applied_with_error"
			}
			s.metrics.TxApplied.WithLabelValues(outcome).Inc()
		}
		for _, d := range s.ch.Depths() {
			s.metrics.BookDepth.WithLabelValues(marketLabel(d.Market), d.Side.String()).Set(float64(d.Count))
		}
	}
	return results
}

func marketLabel(id book.MarketID) string { return strconv.FormatUint(uint64(id), 10) }

// Apply checks and applies one transaction (§4.6). Signature, sender
// knownness and nonce failures reject the transaction without touching
// state (§9 open question: a tx that fails signature verification never
// advances the sender's nonce, since the signature is the only proof the
// declared sender authorized anything; advancing on a forged signature
// would let anyone grief an arbitrary account's nonce without its key).
// Any failure past that point is recorded as applied-with-error and the
// nonce still advances, so a sender can never wedge their own account
// with a single bad transaction (§4.6 item 5).
func (s *State) Apply(tx *ledger.Transaction) TxResult {
	if !tx.VerifySignature() {
		return TxResult{Outcome: Rejected, Err: ErrBadSignature}
	}

	acct, known := s.accounts[tx.Sender]
	if !known {
		return TxResult{Outcome: Rejected, Err: ErrUnknownSender}
	}
	if tx.Nonce != acct.NextNonce {
		return TxResult{Outcome: Rejected, Err: ErrNonceMismatch}
	}
	acct.NextNonce++

	var err error
	var place *clearinghouse.Result
	switch tx.Payload.Kind {
	case ledger.KindTransfer:
		err = s.applyTransfer(acct, tx.Payload.Transfer)
	case ledger.KindPlaceLimit:
		p := tx.Payload.PlaceLimit
		place, err = s.ch.PlaceLimit(tx.Sender, book.MarketID(p.Market), p.Side, p.Price, p.Qty)
	case ledger.KindPlaceMarket:
		p := tx.Payload.PlaceMarket
		place, err = s.ch.PlaceMarket(tx.Sender, book.MarketID(p.Market), p.Side, p.Qty)
	case ledger.KindCancel:
		err = s.ch.CancelByID(tx.Sender, tx.Payload.Cancel.OrderID)
	case ledger.KindDrip:
		err = s.applyDrip(tx.Sender, tx.Payload.Drip)
	}

	return TxResult{Outcome: Applied, Err: err, Place: place}
}

func (s *State) applyTransfer(sender *ledger.Account, t *ledger.Transfer) error {
	if sender.Balance(t.Asset) < t.Amount {
		return ErrInsufficientFunds
	}
	sender.SetBalance(t.Asset, sender.Balance(t.Asset)-t.Amount)
	recipient := s.ensureAccount(t.To)
	recipient.SetBalance(t.Asset, recipient.Balance(t.Asset)+t.Amount)
	return nil
}

func (s *State) applyDrip(sender crypto.PublicKey, d *ledger.Drip) error {
	if sender != s.faucet {
		return ErrNotFaucet
	}
	amount, ok := DripAmounts[d.Asset]
	if !ok {
		return ErrUnknownAsset
	}
	acct := s.ensureAccount(d.To)
	acct.SetBalance(d.Asset, acct.Balance(d.Asset)+amount)
	return nil
}

func (s *State) publish() {
	s.snapshot.Store(newSnapshot(s.height, s.accounts, s.ch.Snapshot(), s.ch.Markets()))
}
