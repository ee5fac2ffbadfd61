package types

import "math/big"

// Account is the balance record backing the fungible reward token. The token
// primitive itself (transfer authorisation, signatures) lives outside this
// module; engines only credit and debit balances through the token ledger.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// NewAccount returns an empty account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}

// EnsureBalance initialises a nil balance in place and returns the account for
// chaining.
func (a *Account) EnsureBalance() *Account {
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}
