package common

import (
	"errors"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var ErrAddressBanned = errors.New("address banned")

// BanView reports whether an identity is barred from claiming or purchasing.
type BanView interface {
	IsBanned(addr ethcommon.Address) bool
}

// GuardBan rejects calls from banned identities. A nil view bans nobody.
func GuardBan(b BanView, addr ethcommon.Address) error {
	if b == nil {
		return nil
	}
	if b.IsBanned(addr) {
		return ErrAddressBanned
	}
	return nil
}

// BanRegistry is a concurrency-safe BanView administered through the params
// timelock. An address missing from the registry is not banned.
type BanRegistry struct {
	mu     sync.RWMutex
	banned map[ethcommon.Address]bool
}

func NewBanRegistry() *BanRegistry {
	return &BanRegistry{banned: make(map[ethcommon.Address]bool)}
}

func (r *BanRegistry) IsBanned(addr ethcommon.Address) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.banned[addr]
}

// SetBanned flips the ban switch for an address.
func (r *BanRegistry) SetBanned(addr ethcommon.Address, banned bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.banned[addr] = banned
	r.mu.Unlock()
}
