// Package clearinghouse implements the per-market spot order books and
// the deterministic price-time matching engine that settles fills
// against ledger balances (§4.4).
package clearinghouse

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/book"
	"github.com/suprabook/chainbook/model/ledger"
)

// Fill is one trade produced by a match: qty at the maker's price.
type Fill struct {
	TakerOrderID uint64
	MakerOrderID uint64
	Price        uint64
	Qty          uint64
}

// Result reports the outcome of a successful place_limit/place_market call.
type Result struct {
	OrderID  uint64
	Fills    []Fill
	Residual uint64 // unfilled quantity; rests for limit orders, is dropped for market orders
}

// Balances is the thin slice of ledger.State the clearinghouse needs to
// settle trades and holds. Settlement happens "within the same atomic
// step" as the enclosing transaction (§4.6), so the clearinghouse
// mutates the ledger's accounts directly rather than through its own
// transaction boundary.
type Balances interface {
	Balance(owner crypto.PublicKey, asset ledger.AssetID) uint64
	SetBalance(owner crypto.PublicKey, asset ledger.AssetID, amount uint64)
}

// Clearinghouse owns every market's order book. It is only ever mutated
// by the execution engine's commit path (§5); RPC reads go through a
// published snapshot, never this type directly.
type Clearinghouse struct {
	log      zerolog.Logger
	balances Balances
	books    map[book.MarketID]*orderBook
	nextSeq  uint64
	nextID   uint64
}

// New creates a clearinghouse over the given markets, settling fills
// against bal.
func New(log zerolog.Logger, bal Balances, markets []book.Market) *Clearinghouse {
	ch := &Clearinghouse{
		log:      log.With().Str("component", "clearinghouse").Logger(),
		balances: bal,
		books:    make(map[book.MarketID]*orderBook),
	}
	for _, m := range markets {
		ch.books[m.ID] = newOrderBook(m)
	}
	return ch
}

func (ch *Clearinghouse) nextSequence() uint64 {
	ch.nextSeq++
	return ch.nextSeq
}

func (ch *Clearinghouse) nextOrderID() uint64 {
	ch.nextID++
	return ch.nextID
}

func onTick(price, tick uint64) bool { return tick == 0 || price%tick == 0 }
func onLot(qty, lot uint64) bool     { return lot == 0 || qty%lot == 0 }

// PlaceLimit matches a new limit order against the opposite book at
// prices favorable or equal to `price`, then rests any remainder
// (§4.4). Balance effects (debit of matched cost plus any resting hold)
// are computed from a dry-run match and checked before anything is
// mutated, so a rejected order leaves the book byte-identical to before
// the call.
func (ch *Clearinghouse) PlaceLimit(owner crypto.PublicKey, marketID book.MarketID, side ledger.Side, price, qty uint64) (*Result, error) {
	ob, ok := ch.books[marketID]
	if !ok {
		return nil, ErrUnknownMarket
	}
	if qty == 0 {
		return nil, ErrZeroQuantity
	}
	if !onTick(price, ob.market.Tick) {
		return nil, ErrPriceNotOnTick
	}
	if !onLot(qty, ob.market.Lot) {
		return nil, ErrQtyNotOnLot
	}

	opposite := opposingSide(side)
	fills, remaining := ch.dryMatch(ob, opposite, qty, price, true)

	needAsset := ch.settlementAsset(ob, side)
	cost := matchedCost(ob, side, fills)
	hold := uint64(0)
	if remaining > 0 {
		hold = restingHold(side, price, remaining)
	}
	total := cost + hold
	if ch.balances.Balance(owner, needAsset) < total {
		return nil, ErrInsufficientBalance
	}

	orderID := ch.nextOrderID()
	owners := ch.applyFills(ob, owner, side, orderID, fills)

	if remaining > 0 {
		o := &book.Order{
			ID:        orderID,
			Owner:     owner,
			Side:      side,
			Price:     price,
			Remaining: remaining,
			Sequence:  ch.nextSequence(),
		}
		ob.rest(o, side)
	}

	ch.debit(owner, needAsset, total)
	ch.creditReceived(owner, ob, side, fills, owners)

	return &Result{OrderID: orderID, Fills: fills, Residual: remaining}, nil
}

// PlaceMarket matches greedily against top-of-book regardless of price
// until qty is consumed or the book empties; any residual never rests
// (§4.4).
func (ch *Clearinghouse) PlaceMarket(owner crypto.PublicKey, marketID book.MarketID, side ledger.Side, qty uint64) (*Result, error) {
	ob, ok := ch.books[marketID]
	if !ok {
		return nil, ErrUnknownMarket
	}
	if qty == 0 {
		return nil, ErrZeroQuantity
	}
	if !onLot(qty, ob.market.Lot) {
		return nil, ErrQtyNotOnLot
	}

	opposite := opposingSide(side)
	fills, remaining := ch.dryMatch(ob, opposite, qty, 0, false)

	needAsset := ch.settlementAsset(ob, side)
	cost := matchedCost(ob, side, fills)
	if ch.balances.Balance(owner, needAsset) < cost {
		return nil, ErrInsufficientBalance
	}

	orderID := ch.nextOrderID()
	owners := ch.applyFills(ob, owner, side, orderID, fills)
	ch.debit(owner, needAsset, cost)
	ch.creditReceived(owner, ob, side, fills, owners)

	return &Result{OrderID: orderID, Fills: fills, Residual: remaining}, nil
}

// Cancel removes a resting order if owned by owner, releasing its
// remaining hold back to the owner's free balance (§4.4).
func (ch *Clearinghouse) Cancel(owner crypto.PublicKey, marketID book.MarketID, orderID uint64) error {
	ob, ok := ch.books[marketID]
	if !ok {
		return ErrUnknownMarket
	}
	o, ok := ob.orders[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	if o.Owner != owner {
		return ErrNotOwner
	}

	released := restingHold(o.Side, o.Price, o.Remaining)
	asset := ch.settlementAsset(ob, o.Side)

	ob.removeOrder(orderID)
	ch.credit(owner, asset, released)
	return nil
}

// CancelByID removes the resting order with the given id if owned by
// owner, searching every market since order ids are assigned from a
// single global counter and are therefore unique across books. Used by
// the execution engine, whose Cancel transaction payload carries only an
// order id (§6.2).
func (ch *Clearinghouse) CancelByID(owner crypto.PublicKey, orderID uint64) error {
	for id, ob := range ch.books {
		if _, ok := ob.orders[orderID]; ok {
			return ch.Cancel(owner, id, orderID)
		}
	}
	return ErrUnknownOrder
}

// OpenOrders returns every resting order owned by owner across all markets.
func (ch *Clearinghouse) OpenOrders(owner crypto.PublicKey) []book.Order {
	var out []book.Order
	for _, ob := range ch.books {
		for _, o := range ob.orders {
			if o.Owner == owner {
				out = append(out, *o)
			}
		}
	}
	return out
}

// Markets lists every configured market, ordered by id, for the
// list_markets RPC (§6.2).
func (ch *Clearinghouse) Markets() []book.Market {
	out := make([]book.Market, 0, len(ch.books))
	for _, ob := range ch.books {
		out = append(out, ob.market)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Depth is the number of resting orders on one side of one market.
type Depth struct {
	Market book.MarketID
	Side   ledger.Side
	Count  int
}

// Depths reports resting-order counts for every market and side, for
// ambient book-depth instrumentation (module/metrics).
func (ch *Clearinghouse) Depths() []Depth {
	out := make([]Depth, 0, 2*len(ch.books))
	ids := make([]book.MarketID, 0, len(ch.books))
	for id := range ch.books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ob := ch.books[id]
		for _, side := range []ledger.Side{ledger.SideBid, ledger.SideAsk} {
			levels, _ := ob.levels(side)
			count := 0
			for _, l := range levels {
				count += l.size()
			}
			out = append(out, Depth{Market: id, Side: side, Count: count})
		}
	}
	return out
}

// Snapshot returns every resting order across every market, in
// deterministic best-to-worst price order within each side, for
// publishing alongside a ledger snapshot after each commit (§5).
func (ch *Clearinghouse) Snapshot() []book.Order {
	var out []book.Order
	ids := make([]book.MarketID, 0, len(ch.books))
	for id := range ch.books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ob := ch.books[id]
		for _, side := range []ledger.Side{ledger.SideBid, ledger.SideAsk} {
			levels, prices := ob.levels(side)
			for _, price := range *prices {
				l := levels[price]
				for i := 0; i < l.size(); i++ {
					out = append(out, *l.q.At(i).(*book.Order))
				}
			}
		}
	}
	return out
}

func opposingSide(side ledger.Side) ledger.Side {
	if side == ledger.SideBid {
		return ledger.SideAsk
	}
	return ledger.SideBid
}

// settlementAsset returns the asset a taker on `side` must debit to pay
// for matches: quote for a bid, base for an ask.
func (ch *Clearinghouse) settlementAsset(ob *orderBook, side ledger.Side) ledger.AssetID {
	if side == ledger.SideBid {
		return ob.market.Quote
	}
	return ob.market.Base
}

// dryMatch simulates matching qty against the opposite side without
// mutating the book, returning the fills it would produce and the
// unfilled remainder. hasLimit gates the price-favorability check for
// limit orders; market orders pass hasLimit=false and match at any price.
func (ch *Clearinghouse) dryMatch(ob *orderBook, opposite ledger.Side, qty, limit uint64, hasLimit bool) ([]Fill, uint64) {
	var fills []Fill
	remaining := qty

	levels, prices := ob.levels(opposite)
	for _, price := range *prices {
		if remaining == 0 {
			break
		}
		if hasLimit && !favorable(opposite, price, limit) {
			break
		}
		l := levels[price]
		for i := 0; i < l.size() && remaining > 0; i++ {
			maker := l.q.At(i).(*book.Order)
			tradeQty := min64(remaining, maker.Remaining)
			fills = append(fills, Fill{MakerOrderID: maker.ID, Price: price, Qty: tradeQty})
			remaining -= tradeQty
		}
	}
	return fills, remaining
}

// applyFills mutates the book to reflect fills already computed by
// dryMatch: decrementing/removing maker orders and recording each
// fill's taker order id. It returns each touched maker's owner, keyed
// by order id, captured before any fully-drained maker is deleted from
// the book; creditReceived needs that owner even for makers this call
// removes entirely.
func (ch *Clearinghouse) applyFills(ob *orderBook, taker crypto.PublicKey, side ledger.Side, takerOrderID uint64, fills []Fill) map[uint64]crypto.PublicKey {
	opposite := opposingSide(side)
	touched := make(map[uint64]bool)
	owners := make(map[uint64]crypto.PublicKey, len(fills))
	for i := range fills {
		fills[i].TakerOrderID = takerOrderID
		f := fills[i]
		levels, _ := ob.levels(opposite)
		l, ok := levels[f.Price]
		if !ok {
			continue
		}
		maker := l.front()
		for maker != nil && maker.ID != f.MakerOrderID {
			// fills are generated front-to-back per level by dryMatch,
			// so this only walks past makers already fully drained
			// earlier in the same call.
			l.popFront()
			maker = l.front()
		}
		if maker == nil {
			continue
		}
		owners[maker.ID] = maker.Owner
		maker.Remaining -= f.Qty
		if maker.Remaining == 0 {
			l.popFront()
			delete(ob.orders, maker.ID)
		}
		touched[f.Price] = true
	}
	for price := range touched {
		ob.dropLevelIfEmpty(opposite, price)
	}
	return owners
}

// matchedCost returns the total amount, in the taker's settlement
// asset, that `fills` cost a taker on `side`.
func matchedCost(ob *orderBook, side ledger.Side, fills []Fill) uint64 {
	var total uint64
	for _, f := range fills {
		if side == ledger.SideBid {
			total += f.Qty * f.Price // bid taker pays quote
		} else {
			total += f.Qty // ask taker pays base
		}
	}
	return total
}

// restingHold returns the amount held for a resting order of qty at
// price on side: quote for a bid, base for an ask (§4.4 "Settlement").
func restingHold(side ledger.Side, price, qty uint64) uint64 {
	if side == ledger.SideBid {
		return qty * price
	}
	return qty
}

func (ch *Clearinghouse) debit(owner crypto.PublicKey, asset ledger.AssetID, amount uint64) {
	bal := ch.balances.Balance(owner, asset)
	ch.balances.SetBalance(owner, asset, bal-amount)
}

func (ch *Clearinghouse) credit(owner crypto.PublicKey, asset ledger.AssetID, amount uint64) {
	bal := ch.balances.Balance(owner, asset)
	ch.balances.SetBalance(owner, asset, bal+amount)
}

// creditReceived credits the taker with what their fills bought: base
// for a bid, quote for an ask; and credits each maker with what they
// sold: quote for a bid taker's ask-side makers, base for an ask
// taker's bid-side makers. owners maps each touched maker's order id to
// its owner, captured by applyFills before any fully-drained maker was
// removed from the book.
func (ch *Clearinghouse) creditReceived(taker crypto.PublicKey, ob *orderBook, side ledger.Side, fills []Fill, owners map[uint64]crypto.PublicKey) {
	takerAsset := ob.market.Base
	makerAsset := ob.market.Quote
	if side == ledger.SideAsk {
		takerAsset = ob.market.Quote
		makerAsset = ob.market.Base
	}

	var takerQty uint64
	makerTotals := make(map[uint64]uint64)
	for _, f := range fills {
		if side == ledger.SideBid {
			takerQty += f.Qty // bid taker receives base qty
			makerTotals[f.MakerOrderID] += f.Qty * f.Price // ask maker receives quote
		} else {
			takerQty += f.Qty * f.Price // ask taker receives quote
			makerTotals[f.MakerOrderID] += f.Qty // bid maker receives base
		}
	}
	ch.credit(taker, takerAsset, takerQty)
	for id, amount := range makerTotals {
		owner, ok := owners[id]
		if !ok {
			continue
		}
		ch.credit(owner, makerAsset, amount)
	}
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
