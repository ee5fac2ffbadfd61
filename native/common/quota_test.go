package common

import (
	"errors"
	"testing"
)

func TestCheckQuotaWindowRollover(t *testing.T) {
	q := Quota{MaxClaimsPerWindow: 2, MaxTokensPerWindow: 100, WindowSeconds: 3600}

	now, err := CheckQuota(q, 1, QuotaNow{}, 1, 60)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	now, err = CheckQuota(q, 1, now, 1, 40)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if _, err := CheckQuota(q, 1, now, 1, 0); !errors.Is(err, ErrQuotaClaimsExceeded) {
		t.Fatalf("expected claims exceeded, got %v", err)
	}

	// A new window resets both counters.
	next, err := CheckQuota(q, 2, now, 1, 100)
	if err != nil {
		t.Fatalf("rollover claim: %v", err)
	}
	if next.WindowID != 2 || next.ClaimCount != 1 || next.TokensUsed != 100 {
		t.Fatalf("unexpected counters after rollover: %+v", next)
	}
}

func TestCheckQuotaTokenCap(t *testing.T) {
	q := Quota{MaxTokensPerWindow: 50, WindowSeconds: 60}
	prev, err := CheckQuota(q, 7, QuotaNow{WindowID: 7}, 0, 50)
	if err != nil {
		t.Fatalf("fill cap: %v", err)
	}
	if _, err := CheckQuota(q, 7, prev, 0, 1); !errors.Is(err, ErrQuotaTokensExceeded) {
		t.Fatalf("expected token cap exceeded, got %v", err)
	}
	// Rejected calls must not advance counters.
	if prev.TokensUsed != 50 {
		t.Fatalf("counters mutated on rejection: %+v", prev)
	}
}

func TestCheckQuotaDisabled(t *testing.T) {
	q := Quota{}
	if q.Enabled() {
		t.Fatal("zero quota should be disabled")
	}
	if _, err := CheckQuota(q, 0, QuotaNow{}, 10, 1<<40); err != nil {
		t.Fatalf("disabled quota should always pass: %v", err)
	}
}

func TestQuotaWindowAt(t *testing.T) {
	q := Quota{WindowSeconds: 3600}
	if got := q.WindowAt(7200); got != 2 {
		t.Fatalf("WindowAt(7200) = %d, want 2", got)
	}
	if got := q.WindowAt(0); got != 0 {
		t.Fatalf("WindowAt(0) = %d, want 0", got)
	}
}

func TestPauseRegistry(t *testing.T) {
	reg := NewPauseRegistry()
	if err := Guard(reg, "mining"); err != nil {
		t.Fatalf("unpaused module guarded: %v", err)
	}
	reg.SetPaused("mining", true)
	if err := Guard(reg, "mining"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	reg.SetPaused("mining", false)
	if err := Guard(reg, "mining"); err != nil {
		t.Fatalf("unpause did not take effect: %v", err)
	}
}
