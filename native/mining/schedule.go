package mining

import (
	"errors"
	"math/big"
)

// Ray is the fixed-point scale used for reward rates: one token base unit per
// hash-power-second is represented as 1e27. Integer division against Ray keeps
// minted totals free of floating-point drift.
var Ray = mustBigInt("1000000000000000000000000000")

var (
	ErrInvalidEpochLength = errors.New("mining: epoch length must be positive")
	ErrInvalidBaseRate    = errors.New("mining: base rate must be positive")
	ErrInvalidDivisor     = errors.New("mining: halving divisor must be at least 2")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Schedule is the immutable halving schedule. Epoch boundaries are anchored at
// Origin, never at a miner's last settlement, so miners settling at different
// cadences observe identical per-epoch rates.
type Schedule struct {
	// Origin is the unix timestamp the first epoch starts at.
	Origin int64
	// EpochLength is the halving epoch length in seconds.
	EpochLength uint64
	// BaseRateRay is the epoch-zero reward rate in token base units per
	// hash-power-second, scaled by Ray.
	BaseRateRay *big.Int
	// HalvingDivisor divides the rate at every epoch boundary.
	HalvingDivisor uint64
}

// Validate checks the schedule parameters.
func (s Schedule) Validate() error {
	if s.EpochLength == 0 {
		return ErrInvalidEpochLength
	}
	if s.BaseRateRay == nil || s.BaseRateRay.Sign() <= 0 {
		return ErrInvalidBaseRate
	}
	if s.HalvingDivisor < 2 {
		return ErrInvalidDivisor
	}
	return nil
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	clone := s
	if s.BaseRateRay != nil {
		clone.BaseRateRay = new(big.Int).Set(s.BaseRateRay)
	}
	return clone
}

// EpochAt maps a unix timestamp onto the halving epoch index. Timestamps
// before the origin map to epoch zero.
func (s Schedule) EpochAt(ts int64) uint64 {
	if ts <= s.Origin {
		return 0
	}
	return uint64(ts-s.Origin) / s.EpochLength
}

// RateAtEpoch returns the Ray-scaled reward rate for an epoch. Repeated
// integer division means the rate underflows to exactly zero after finitely
// many epochs and stays there.
func (s Schedule) RateAtEpoch(epoch uint64) *big.Int {
	rate := new(big.Int).Set(s.BaseRateRay)
	divisor := new(big.Int).SetUint64(s.HalvingDivisor)
	for i := uint64(0); i < epoch; i++ {
		if rate.Sign() == 0 {
			break
		}
		rate.Quo(rate, divisor)
	}
	return rate
}

// RateAt returns the Ray-scaled reward rate after the given number of elapsed
// seconds from the origin. Pure: same input always yields the same output.
func (s Schedule) RateAt(elapsedSeconds uint64) *big.Int {
	return s.RateAtEpoch(elapsedSeconds / s.EpochLength)
}

// Accrue integrates rate(t) * hashPower over [from, to) and returns the
// reward in token base units, floored. The rate is piecewise constant per
// epoch, so the integral is a finite sum over the epochs the interval spans;
// the loop stops early once the rate has underflowed to zero, which bounds
// the work even across unbounded claim gaps.
func (s Schedule) Accrue(hashPower uint64, from, to int64) *big.Int {
	if hashPower == 0 || to <= from {
		return big.NewInt(0)
	}
	if from < s.Origin {
		from = s.Origin
	}
	if to <= from {
		return big.NewInt(0)
	}

	hp := new(big.Int).SetUint64(hashPower)
	divisor := new(big.Int).SetUint64(s.HalvingDivisor)
	epoch := s.EpochAt(from)
	rate := s.RateAtEpoch(epoch)
	sum := big.NewInt(0)

	for rate.Sign() > 0 {
		epochStart := s.Origin + int64(epoch)*int64(s.EpochLength)
		epochEnd := epochStart + int64(s.EpochLength)

		segStart := from
		if epochStart > segStart {
			segStart = epochStart
		}
		segEnd := to
		if epochEnd < segEnd {
			segEnd = epochEnd
		}
		if segEnd > segStart {
			segment := new(big.Int).Mul(rate, big.NewInt(segEnd-segStart))
			segment.Mul(segment, hp)
			sum.Add(sum, segment)
		}
		if epochEnd >= to {
			break
		}
		epoch++
		rate = new(big.Int).Quo(rate, divisor)
	}
	return sum.Quo(sum, Ray)
}
