package sale

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BpsDenominator is the basis point denominator used for burn and referral
// rates.
const BpsDenominator = 10_000

// DefaultMaxReferralDepth bounds chain traversal when the config does not set
// an explicit limit.
const DefaultMaxReferralDepth = 3

var (
	ErrInvalidBurnRate      = errors.New("sale: burn rate exceeds denominator")
	ErrInvalidReferralRates = errors.New("sale: referral rates exceed denominator")
	ErrDepthExceedsMax      = errors.New("sale: referral levels exceed max depth")
	ErrTreasuryRequired     = errors.New("sale: treasury address required for treasury routing")
)

// Config captures the sale parameters. Immutable while the engine runs;
// updates flow through the params timelock.
type Config struct {
	// BurnBps is the fraction of each purchase burned, in basis points.
	BurnBps uint32
	// ReferralLevelBps holds the per-level referral rates, ordered from the
	// direct referrer outward. Each rate applies to the running payable
	// remainder at that level.
	ReferralLevelBps []uint32
	// MaxReferralDepth is the hard traversal cap. Zero selects the default.
	MaxReferralDepth uint32
	// UnpaidToTreasury routes referral cuts whose level has no referrer to
	// the treasury instead of leaving them with the buyer.
	UnpaidToTreasury bool
	// Treasury receives unpaid referral cuts when UnpaidToTreasury is set.
	Treasury common.Address
}

// Depth returns the effective traversal cap.
func (c Config) Depth() uint32 {
	if c.MaxReferralDepth == 0 {
		return DefaultMaxReferralDepth
	}
	return c.MaxReferralDepth
}

// Validate checks the configuration is internally consistent.
func (c Config) Validate() error {
	if c.BurnBps > BpsDenominator {
		return ErrInvalidBurnRate
	}
	total := uint64(0)
	for _, bps := range c.ReferralLevelBps {
		total += uint64(bps)
	}
	if total > BpsDenominator {
		return ErrInvalidReferralRates
	}
	if uint32(len(c.ReferralLevelBps)) > c.Depth() {
		return ErrDepthExceedsMax
	}
	if c.UnpaidToTreasury && c.Treasury == (common.Address{}) {
		return ErrTreasuryRequired
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c Config) Clone() Config {
	clone := c
	clone.ReferralLevelBps = append([]uint32(nil), c.ReferralLevelBps...)
	return clone
}

// ReferralPayout records a single referral credit within a purchase.
type ReferralPayout struct {
	Level      uint32
	Recipient  common.Address
	Amount     *big.Int
	ToTreasury bool
}

// Receipt is the committed outcome of a purchase. The conservation identity
// BurnAmount + sum(Payouts) + Remainder == TokenAmount holds exactly; integer
// rounding at each level floors the payout and leaves the dust in the
// remainder credited to the buyer.
type Receipt struct {
	ID          string
	Buyer       common.Address
	StableIn    *big.Int
	TokenAmount *big.Int
	BurnAmount  *big.Int
	Remainder   *big.Int
	Payouts     []ReferralPayout
	Timestamp   int64
}
