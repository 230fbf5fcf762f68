package execution

import "github.com/pkg/errors"

// Transaction-error kinds applied as a no-op with the error recorded
// rather than a protocol fault (§7).
var (
	ErrUnknownSender     = errors.New("unknown sender")
	ErrBadSignature      = errors.New("invalid signature")
	ErrNonceMismatch     = errors.New("nonce does not match account's next expected nonce")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrNotFaucet         = errors.New("drip sender is not the faucet account")
	ErrUnknownAsset      = errors.New("unknown asset")
)
