package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"rigchain/core/types"
)

type mapState struct {
	accounts map[common.Address]*types.Account
}

func newMapState() *mapState {
	return &mapState{accounts: make(map[common.Address]*types.Account)}
}

func (m *mapState) Account(addr common.Address) (*types.Account, error) {
	if acct, ok := m.accounts[addr]; ok {
		return acct.Clone(), nil
	}
	return nil, nil
}

func (m *mapState) PutAccount(addr common.Address, acct *types.Account) error {
	m.accounts[addr] = acct.Clone()
	return nil
}

var holder = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

func TestLedgerCreditDebit(t *testing.T) {
	ledger := NewLedger(newMapState())

	require.NoError(t, ledger.Credit(holder, big.NewInt(500)))
	require.NoError(t, ledger.Debit(holder, big.NewInt(120)))

	balance, err := ledger.BalanceOf(holder)
	require.NoError(t, err)
	require.Equal(t, int64(380), balance.Int64())
}

func TestLedgerDebitInsufficient(t *testing.T) {
	ledger := NewLedger(newMapState())
	require.NoError(t, ledger.Credit(holder, big.NewInt(10)))

	err := ledger.Debit(holder, big.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := ledger.BalanceOf(holder)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance.Int64(), "failed debit must not change the balance")
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	ledger := NewLedger(newMapState())
	require.ErrorIs(t, ledger.Credit(holder, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, ledger.Debit(holder, nil), ErrInvalidAmount)
}

func TestLedgerUnknownAccountBalance(t *testing.T) {
	ledger := NewLedger(newMapState())
	balance, err := ledger.BalanceOf(holder)
	require.NoError(t, err)
	require.Equal(t, int64(0), balance.Int64())
}
