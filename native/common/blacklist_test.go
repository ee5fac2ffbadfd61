package common

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestBanRegistry(t *testing.T) {
	addr := ethcommon.HexToAddress("0x00000000000000000000000000000000000000cc")
	registry := NewBanRegistry()

	require.False(t, registry.IsBanned(addr))
	require.NoError(t, GuardBan(registry, addr))

	registry.SetBanned(addr, true)
	require.True(t, registry.IsBanned(addr))
	require.ErrorIs(t, GuardBan(registry, addr), ErrAddressBanned)

	registry.SetBanned(addr, false)
	require.NoError(t, GuardBan(registry, addr))
}

func TestGuardBanNilView(t *testing.T) {
	addr := ethcommon.HexToAddress("0x00000000000000000000000000000000000000cc")
	require.NoError(t, GuardBan(nil, addr))
}
