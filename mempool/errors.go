package mempool

import "github.com/pkg/errors"

// Rejection reasons for Admit (§4.5).
var (
	ErrBadSignature  = errors.New("invalid signature")
	ErrNonceTooLow   = errors.New("nonce below account's next expected nonce")
	ErrLowerPriority = errors.New("existing transaction at this nonce has higher priority")
)
