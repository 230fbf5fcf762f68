package clearinghouse

import "github.com/pkg/errors"

// Transaction-error kinds for clearinghouse operations (§4.4, §7): each
// is applied as a no-op with the error recorded, never a protocol fault.
var (
	ErrUnknownMarket       = errors.New("unknown market")
	ErrUnknownOrder        = errors.New("unknown order")
	ErrNotOwner            = errors.New("not owner")
	ErrPriceNotOnTick      = errors.New("price not on tick")
	ErrQtyNotOnLot         = errors.New("qty not on lot")
	ErrZeroQuantity        = errors.New("zero quantity")
	ErrInsufficientBalance = errors.New("insufficient balance")
)
