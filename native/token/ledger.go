package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"rigchain/core/types"
)

var (
	ErrNilState            = errors.New("token: state not configured")
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

// State describes the account persistence the token ledger needs.
type State interface {
	Account(addr common.Address) (*types.Account, error)
	PutAccount(addr common.Address, acct *types.Account) error
}

// Ledger applies balance mutations for the reward token. It stands in for the
// external fungible-token primitive: the supply cap is not enforced here —
// callers mint through the supply ledger first and only then credit balances.
// Per-address locks keep concurrent mutations of the same balance serialized.
type Ledger struct {
	state State

	locksMu sync.Mutex
	locks   map[common.Address]*sync.Mutex
}

// NewLedger constructs a token ledger over the given account state.
func NewLedger(state State) *Ledger {
	return &Ledger{state: state, locks: make(map[common.Address]*sync.Mutex)}
}

func (l *Ledger) lockAddr(addr common.Address) func() {
	l.locksMu.Lock()
	mu, ok := l.locks[addr]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[addr] = mu
	}
	l.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Credit adds amount to the address balance.
func (l *Ledger) Credit(addr common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	unlock := l.lockAddr(addr)
	defer unlock()

	acct, err := l.state.Account(addr)
	if err != nil {
		return err
	}
	acct = acct.Clone().EnsureBalance()
	acct.Balance.Add(acct.Balance, amount)
	return l.state.PutAccount(addr, acct)
}

// Debit removes amount from the address balance, failing when the balance is
// insufficient.
func (l *Ledger) Debit(addr common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	unlock := l.lockAddr(addr)
	defer unlock()

	acct, err := l.state.Account(addr)
	if err != nil {
		return err
	}
	acct = acct.Clone().EnsureBalance()
	if acct.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	acct.Balance.Sub(acct.Balance, amount)
	return l.state.PutAccount(addr, acct)
}

// BalanceOf returns a copy of the current balance.
func (l *Ledger) BalanceOf(addr common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	acct, err := l.state.Account(addr)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.Balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(acct.Balance), nil
}
