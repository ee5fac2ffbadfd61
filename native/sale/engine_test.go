package sale

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"rigchain/core/types"
	nativecommon "rigchain/native/common"
	"rigchain/native/supply"
)

type mockState struct {
	referrers map[common.Address]common.Address
	events    []types.Event
}

func newMockState() *mockState {
	return &mockState{referrers: make(map[common.Address]common.Address)}
}

func (m *mockState) Referrer(addr common.Address) (common.Address, bool, error) {
	ref, ok := m.referrers[addr]
	return ref, ok, nil
}

func (m *mockState) SetReferrer(referred, referrer common.Address) error {
	m.referrers[referred] = referrer
	return nil
}

func (m *mockState) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	m.events = append(m.events, *evt.Clone())
}

type mockTokens struct {
	balances map[common.Address]*big.Int
}

func newMockTokens() *mockTokens {
	return &mockTokens{balances: make(map[common.Address]*big.Int)}
}

func (m *mockTokens) Credit(addr common.Address, amount *big.Int) error {
	if existing, ok := m.balances[addr]; ok {
		existing.Add(existing, amount)
		return nil
	}
	m.balances[addr] = new(big.Int).Set(amount)
	return nil
}

func (m *mockTokens) balance(addr common.Address) *big.Int {
	if b, ok := m.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// identityOracle quotes one token base unit per stable unit.
type identityOracle struct{}

func (identityOracle) Quote(stableAmount *big.Int) (*big.Int, error) {
	return new(big.Int).Set(stableAmount), nil
}

var (
	buyer    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	ref1     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	ref2     = common.HexToAddress("0x0000000000000000000000000000000000000003")
	ref3     = common.HexToAddress("0x0000000000000000000000000000000000000004")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

func defaultConfig() Config {
	return Config{
		BurnBps:          1000, // 10%
		ReferralLevelBps: []uint32{500, 300, 100},
	}
}

func newTestEngine(t *testing.T, cfg Config, cap int64) (*Engine, *mockState, *mockTokens, *supply.Ledger) {
	t.Helper()
	ledger, err := supply.NewLedger(big.NewInt(cap))
	require.NoError(t, err)
	engine, err := NewEngine(cfg, ledger)
	require.NoError(t, err)
	st := newMockState()
	tokens := newMockTokens()
	engine.SetState(st)
	engine.SetOracle(identityOracle{})
	engine.SetTokenLedger(tokens)
	return engine, st, tokens, ledger
}

func sumPayouts(payouts []ReferralPayout) *big.Int {
	total := big.NewInt(0)
	for _, p := range payouts {
		total.Add(total, p.Amount)
	}
	return total
}

func TestPurchaseConservation(t *testing.T) {
	engine, _, tokens, ledger := newTestEngine(t, defaultConfig(), 10_000_000)
	require.NoError(t, engine.SetReferrer(buyer, ref1))
	require.NoError(t, engine.SetReferrer(ref1, ref2))
	require.NoError(t, engine.SetReferrer(ref2, ref3))

	receipt, err := engine.Purchase(buyer, big.NewInt(100_000), 1000)
	require.NoError(t, err)

	// burn = 10000; payable = 90000
	// level0: 5% of 90000 = 4500 -> ref1, payable 85500
	// level1: 3% of 85500 = 2565 -> ref2, payable 82935
	// level2: 1% of 82935 = 829  -> ref3, payable 82106
	require.Equal(t, int64(10_000), receipt.BurnAmount.Int64())
	require.Len(t, receipt.Payouts, 3)
	require.Equal(t, int64(4_500), receipt.Payouts[0].Amount.Int64())
	require.Equal(t, int64(2_565), receipt.Payouts[1].Amount.Int64())
	require.Equal(t, int64(829), receipt.Payouts[2].Amount.Int64())
	require.Equal(t, int64(82_106), receipt.Remainder.Int64())

	total := new(big.Int).Add(receipt.BurnAmount, sumPayouts(receipt.Payouts))
	total.Add(total, receipt.Remainder)
	require.Zero(t, total.Cmp(receipt.TokenAmount), "conservation violated: %s != %s", total, receipt.TokenAmount)

	require.Equal(t, int64(4_500), tokens.balance(ref1).Int64())
	require.Equal(t, int64(2_565), tokens.balance(ref2).Int64())
	require.Equal(t, int64(829), tokens.balance(ref3).Int64())
	require.Equal(t, int64(82_106), tokens.balance(buyer).Int64())

	// Only the payable remainder was minted; the burn never touched the cap.
	require.Equal(t, int64(90_000), ledger.Circulating().Int64())
	snap := ledger.SnapshotNow()
	require.Equal(t, int64(10_000), snap.TotalForgone.Int64())
	require.Equal(t, int64(0), snap.TotalBurned.Int64())
}

func TestPurchaseWithoutReferrerKeepsRemainderWithBuyer(t *testing.T) {
	engine, _, tokens, _ := newTestEngine(t, defaultConfig(), 10_000_000)

	receipt, err := engine.Purchase(buyer, big.NewInt(100_000), 1000)
	require.NoError(t, err)
	require.Empty(t, receipt.Payouts)
	require.Equal(t, int64(90_000), receipt.Remainder.Int64())
	require.Equal(t, int64(90_000), tokens.balance(buyer).Int64())
}

func TestPurchaseShortChainPolicyBuyer(t *testing.T) {
	engine, _, tokens, _ := newTestEngine(t, defaultConfig(), 10_000_000)
	require.NoError(t, engine.SetReferrer(buyer, ref1))

	receipt, err := engine.Purchase(buyer, big.NewInt(100_000), 1000)
	require.NoError(t, err)

	// Only level 0 pays; the level 1 and 2 cuts stay with the buyer.
	require.Len(t, receipt.Payouts, 1)
	require.Equal(t, int64(4_500), receipt.Payouts[0].Amount.Int64())
	require.Equal(t, int64(85_500), receipt.Remainder.Int64())
	require.Equal(t, int64(85_500), tokens.balance(buyer).Int64())
}

func TestPurchaseShortChainPolicyTreasury(t *testing.T) {
	cfg := defaultConfig()
	cfg.UnpaidToTreasury = true
	cfg.Treasury = treasury
	engine, _, tokens, _ := newTestEngine(t, cfg, 10_000_000)
	require.NoError(t, engine.SetReferrer(buyer, ref1))

	receipt, err := engine.Purchase(buyer, big.NewInt(100_000), 1000)
	require.NoError(t, err)

	// level0 -> ref1: 4500; levels 1 and 2 route to the treasury.
	require.Len(t, receipt.Payouts, 3)
	require.False(t, receipt.Payouts[0].ToTreasury)
	require.True(t, receipt.Payouts[1].ToTreasury)
	require.True(t, receipt.Payouts[2].ToTreasury)
	require.Equal(t, int64(2_565), receipt.Payouts[1].Amount.Int64())
	require.Equal(t, int64(829), receipt.Payouts[2].Amount.Int64())
	require.Equal(t, int64(3_394), tokens.balance(treasury).Int64())

	total := new(big.Int).Add(receipt.BurnAmount, sumPayouts(receipt.Payouts))
	total.Add(total, receipt.Remainder)
	require.Zero(t, total.Cmp(receipt.TokenAmount))
}

func TestPurchaseCapExceededFailsAtomically(t *testing.T) {
	engine, _, tokens, ledger := newTestEngine(t, defaultConfig(), 50_000)
	require.NoError(t, engine.SetReferrer(buyer, ref1))

	// payable 90000 > cap 50000: the purchase fails whole.
	_, err := engine.Purchase(buyer, big.NewInt(100_000), 1000)
	require.ErrorIs(t, err, supply.ErrSupplyCapExceeded)
	require.Equal(t, int64(0), ledger.Circulating().Int64())
	require.Equal(t, int64(0), tokens.balance(buyer).Int64())
	require.Equal(t, int64(0), tokens.balance(ref1).Int64())
	snap := ledger.SnapshotNow()
	require.Equal(t, int64(0), snap.TotalForgone.Int64(), "failed purchase must not record a burn")
}

func TestPurchaseFullBurn(t *testing.T) {
	cfg := defaultConfig()
	cfg.BurnBps = 10_000
	engine, _, tokens, ledger := newTestEngine(t, cfg, 10_000_000)

	receipt, err := engine.Purchase(buyer, big.NewInt(1_000), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), receipt.BurnAmount.Int64())
	require.Equal(t, int64(0), receipt.Remainder.Int64())
	require.Equal(t, int64(0), tokens.balance(buyer).Int64())
	require.Equal(t, int64(0), ledger.Circulating().Int64())
}

func TestPurchaseZeroRateLevelAdvancesChain(t *testing.T) {
	cfg := Config{BurnBps: 0, ReferralLevelBps: []uint32{0, 1000}}
	engine, _, tokens, _ := newTestEngine(t, cfg, 10_000_000)
	require.NoError(t, engine.SetReferrer(buyer, ref1))
	require.NoError(t, engine.SetReferrer(ref1, ref2))

	receipt, err := engine.Purchase(buyer, big.NewInt(10_000), 0)
	require.NoError(t, err)

	// Level 0 carries no rate but still consumes its ancestor; the level 1
	// rate pays the level 1 ancestor, not the direct referrer.
	require.Len(t, receipt.Payouts, 1)
	require.Equal(t, uint32(1), receipt.Payouts[0].Level)
	require.Equal(t, ref2, receipt.Payouts[0].Recipient)
	require.Equal(t, int64(1_000), receipt.Payouts[0].Amount.Int64())
	require.Equal(t, int64(0), tokens.balance(ref1).Int64())
	require.Equal(t, int64(1_000), tokens.balance(ref2).Int64())
	require.Equal(t, int64(9_000), receipt.Remainder.Int64())
}

func TestSetReferrerImmutable(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, defaultConfig(), 10_000_000)
	require.NoError(t, engine.SetReferrer(buyer, ref1))
	require.ErrorIs(t, engine.SetReferrer(buyer, ref2), ErrReferrerAlreadySet)
}

func TestSetReferrerRejectsSelfAndZero(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, defaultConfig(), 10_000_000)
	require.ErrorIs(t, engine.SetReferrer(buyer, buyer), ErrSelfReferral)
	require.ErrorIs(t, engine.SetReferrer(buyer, common.Address{}), ErrInvalidReferrer)
}

func TestSetReferrerRejectsCycle(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, defaultConfig(), 10_000_000)
	require.NoError(t, engine.SetReferrer(ref1, ref2))
	require.NoError(t, engine.SetReferrer(ref2, ref3))
	require.ErrorIs(t, engine.SetReferrer(ref3, ref1), ErrReferralCycle)
}

func TestSetReferrerRejectsChainBeyondDepth(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, defaultConfig(), 10_000_000)
	ref4 := common.HexToAddress("0x0000000000000000000000000000000000000005")
	ref5 := common.HexToAddress("0x0000000000000000000000000000000000000006")

	require.NoError(t, engine.SetReferrer(ref4, ref5))
	require.NoError(t, engine.SetReferrer(ref3, ref4))
	require.NoError(t, engine.SetReferrer(ref2, ref3))
	require.NoError(t, engine.SetReferrer(ref1, ref2))

	// The chain above ref1 already spans the traversal cap; linking under it
	// cannot be verified cycle-free and is rejected.
	require.ErrorIs(t, engine.SetReferrer(buyer, ref1), ErrChainTooDeep)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"burn over denominator", Config{BurnBps: 10_001}, ErrInvalidBurnRate},
		{"referral rates over denominator", Config{ReferralLevelBps: []uint32{6_000, 5_000}}, ErrInvalidReferralRates},
		{"levels exceed depth", Config{ReferralLevelBps: []uint32{1, 1, 1, 1}}, ErrDepthExceedsMax},
		{"treasury missing", Config{UnpaidToTreasury: true}, ErrTreasuryRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.cfg.Validate(), tc.want)
		})
	}
	require.NoError(t, defaultConfig().Validate())
}

func TestPurchaseBlacklistGuard(t *testing.T) {
	engine, _, tokens, ledger := newTestEngine(t, defaultConfig(), 10_000_000)

	bans := nativecommon.NewBanRegistry()
	bans.SetBanned(buyer, true)
	engine.SetBans(bans)

	_, err := engine.Purchase(buyer, big.NewInt(100_000), 0)
	require.ErrorIs(t, err, nativecommon.ErrAddressBanned)
	require.Equal(t, int64(0), tokens.balance(buyer).Int64())
	require.Equal(t, int64(0), ledger.Circulating().Int64())

	bans.SetBanned(buyer, false)
	_, err = engine.Purchase(buyer, big.NewInt(100_000), 0)
	require.NoError(t, err)
}

func TestPurchaseRejectsNonPositiveAmounts(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, defaultConfig(), 10_000_000)
	_, err := engine.Purchase(buyer, big.NewInt(0), 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = engine.Purchase(buyer, nil, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}
