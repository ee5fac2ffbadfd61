package mining

import "errors"

var (
	ErrNilState           = errors.New("mining: state not configured")
	ErrNilSupply          = errors.New("mining: supply ledger not configured")
	ErrNilTokens          = errors.New("mining: token ledger not configured")
	ErrNonMonotonicTime   = errors.New("mining: non-monotonic timestamp")
	ErrHashPowerUnderflow = errors.New("mining: hash power underflow")
	ErrHashPowerOverflow  = errors.New("mining: hash power overflow")
)
