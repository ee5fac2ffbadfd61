package rig

import "github.com/ethereum/go-ethereum/common"

// Rig is the equipment record carrying the hash power rating. A rig is
// created by box opening and destroyed only by explicit retirement.
type Rig struct {
	ID        uint64
	HashPower uint64
	Owner     common.Address
	// Registered marks the rig as contributing hash power to its owner's
	// miner account. A registered rig cannot be transferred or retired.
	Registered bool
	Retired    bool
}

// Clone returns a copy of the rig record.
func (r *Rig) Clone() *Rig {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
