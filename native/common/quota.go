package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaClaimsExceeded  = errors.New("quota claims exceeded")
	ErrQuotaTokensExceeded  = errors.New("quota token cap exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address within a
// quota window.
type QuotaNow struct {
	ClaimCount uint32
	TokensUsed uint64
	WindowID   uint64
}

// Quota defines the claim throttles enforced per address. A zero limit
// disables the corresponding check.
type Quota struct {
	MaxClaimsPerWindow uint32
	MaxTokensPerWindow uint64
	WindowSeconds      uint32
}

// Enabled reports whether any throttle is configured.
func (q Quota) Enabled() bool {
	return q.WindowSeconds > 0 && (q.MaxClaimsPerWindow > 0 || q.MaxTokensPerWindow > 0)
}

// WindowAt maps a unix timestamp onto a quota window identifier.
func (q Quota) WindowAt(ts int64) uint64 {
	if q.WindowSeconds == 0 || ts <= 0 {
		return 0
	}
	return uint64(ts) / uint64(q.WindowSeconds)
}

// CheckQuota verifies whether the additional claim and token usage fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded; counters reset whenever the window rolls
// over.
func CheckQuota(q Quota, nowWindow uint64, prev QuotaNow, addClaims uint32, addTokens uint64) (QuotaNow, error) {
	next := prev
	if prev.WindowID != nowWindow {
		next = QuotaNow{WindowID: nowWindow}
	}

	if addClaims > 0 {
		if next.ClaimCount > math.MaxUint32-addClaims {
			return prev, ErrQuotaCounterOverflow
		}
		next.ClaimCount += addClaims
	}
	if q.MaxClaimsPerWindow > 0 && next.ClaimCount > q.MaxClaimsPerWindow {
		return prev, ErrQuotaClaimsExceeded
	}

	if addTokens > 0 {
		if next.TokensUsed > math.MaxUint64-addTokens {
			return prev, ErrQuotaCounterOverflow
		}
		next.TokensUsed += addTokens
	}
	if q.MaxTokensPerWindow > 0 && next.TokensUsed > q.MaxTokensPerWindow {
		return prev, ErrQuotaTokensExceeded
	}

	return next, nil
}
