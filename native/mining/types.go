package mining

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MinerAccount is the per-participant accrual record. It is created the first
// time a miner is touched and never destroyed; a miner that deregisters all
// equipment simply decays to zero hash power.
type MinerAccount struct {
	Owner common.Address
	// HashPower is the sum of hash power across the miner's registered rigs.
	HashPower uint64
	// LastSettlement is the unix timestamp rewards have been crystallised up
	// to. It advances unconditionally on settlement, even at zero hash power,
	// so a stale window can never be replayed after hash power is added.
	LastSettlement int64
	// PendingReward is accrued-but-unminted reward in token base units.
	PendingReward *big.Int
}

// NewMinerAccount returns a fresh account settled up to the given timestamp.
func NewMinerAccount(owner common.Address, now int64) *MinerAccount {
	return &MinerAccount{
		Owner:          owner,
		LastSettlement: now,
		PendingReward:  big.NewInt(0),
	}
}

// Clone returns a deep copy of the account.
func (m *MinerAccount) Clone() *MinerAccount {
	if m == nil {
		return nil
	}
	clone := &MinerAccount{
		Owner:          m.Owner,
		HashPower:      m.HashPower,
		LastSettlement: m.LastSettlement,
		PendingReward:  big.NewInt(0),
	}
	if m.PendingReward != nil {
		clone.PendingReward = new(big.Int).Set(m.PendingReward)
	}
	return clone
}

// ClaimResult reports the outcome of a claim. Remaining is non-zero when the
// supply cap truncated the mint; the unmet remainder stays queryable in the
// miner's PendingReward rather than being dropped.
type ClaimResult struct {
	Minted    *big.Int
	Remaining *big.Int
}

// Partial reports whether the claim was truncated by the supply cap.
func (r *ClaimResult) Partial() bool {
	return r != nil && r.Remaining != nil && r.Remaining.Sign() > 0
}
