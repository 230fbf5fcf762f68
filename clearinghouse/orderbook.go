package clearinghouse

import (
	"sort"

	"github.com/suprabook/chainbook/model/book"
	"github.com/suprabook/chainbook/model/ledger"
)

// orderBook holds one market's resting bids and asks. Bids are kept
// price-descending, asks price-ascending (§3); within a price level,
// orders are FIFO by sequence number (level.go). Price levels are a
// sorted slice rather than a map so iterating best-to-worst never
// depends on map order, keeping replay deterministic (§9).
type orderBook struct {
	market book.Market

	bidPrices []uint64 // descending
	askPrices []uint64 // ascending
	bids      map[uint64]*level
	asks      map[uint64]*level

	orders map[uint64]*book.Order // order id -> order, for O(1) cancel/lookup
}

func newOrderBook(m book.Market) *orderBook {
	return &orderBook{
		market: m,
		bids:   make(map[uint64]*level),
		asks:   make(map[uint64]*level),
		orders: make(map[uint64]*book.Order),
	}
}

func (ob *orderBook) levels(side ledger.Side) (map[uint64]*level, *[]uint64) {
	if side == ledger.SideBid {
		return ob.bids, &ob.bidPrices
	}
	return ob.asks, &ob.askPrices
}

// bestPrice returns the best resting price on the given side, if any.
func (ob *orderBook) bestPrice(side ledger.Side) (uint64, bool) {
	_, prices := ob.levels(side)
	if len(*prices) == 0 {
		return 0, false
	}
	return (*prices)[0], true
}

// favorable reports whether a resting price on `side` is acceptable to a
// taker willing to trade at `limit` (no limit for market orders is
// represented by the caller never calling this). Bids match asks with
// ask.price <= limit; asks match bids with bid.price >= limit (§4.4).
func favorable(side ledger.Side, restingPrice, limit uint64) bool {
	if side == ledger.SideAsk {
		return restingPrice <= limit
	}
	return restingPrice >= limit
}

// insertLevel adds a new empty level for price on side, keeping prices
// sorted bid-descending / ask-ascending.
func (ob *orderBook) insertLevel(side ledger.Side, price uint64) *level {
	levels, prices := ob.levels(side)
	l := newLevel(price)
	levels[price] = l
	*prices = append(*prices, price)
	if side == ledger.SideBid {
		sort.Slice(*prices, func(i, j int) bool { return (*prices)[i] > (*prices)[j] })
	} else {
		sort.Slice(*prices, func(i, j int) bool { return (*prices)[i] < (*prices)[j] })
	}
	return l
}

// rest places a new resting order at price on side, creating the level
// if needed.
func (ob *orderBook) rest(o *book.Order, side ledger.Side) {
	levels, _ := ob.levels(side)
	l, ok := levels[o.Price]
	if !ok {
		l = ob.insertLevel(side, o.Price)
	}
	l.pushBack(o)
	ob.orders[o.ID] = o
}

// dropLevelIfEmpty removes a level and its price entry once drained.
func (ob *orderBook) dropLevelIfEmpty(side ledger.Side, price uint64) {
	levels, prices := ob.levels(side)
	l, ok := levels[price]
	if !ok || !l.empty() {
		return
	}
	delete(levels, price)
	for i, p := range *prices {
		if p == price {
			*prices = append((*prices)[:i], (*prices)[i+1:]...)
			break
		}
	}
}

// removeOrder removes an order from its resting side, wherever it is.
func (ob *orderBook) removeOrder(id uint64) (*book.Order, ledger.Side, bool) {
	o, ok := ob.orders[id]
	if !ok {
		return nil, 0, false
	}
	side := o.Side
	levels, _ := ob.levels(side)
	l, ok := levels[o.Price]
	if ok {
		l.remove(id)
		ob.dropLevelIfEmpty(side, o.Price)
	}
	delete(ob.orders, id)
	return o, side, true
}

// Crossed reports whether the book is in a crossed state (top bid >=
// top ask), which must never be true after a match completes (§3, §8
// property 5).
func (ob *orderBook) Crossed() bool {
	bid, okB := ob.bestPrice(ledger.SideBid)
	ask, okA := ob.bestPrice(ledger.SideAsk)
	if !okB || !okA {
		return false
	}
	return bid >= ask
}
