package supply

import (
	"errors"
	"math/big"
	"sync"

	"rigchain/observability"
)

var (
	ErrSupplyCapExceeded    = errors.New("supply: cap exceeded")
	ErrInsufficientBurnable = errors.New("supply: insufficient burnable")
	ErrInvalidAmount        = errors.New("supply: amount must be positive")
	ErrInvalidCap           = errors.New("supply: cap must be positive")
)

// Ledger tracks minted and burned totals against the immutable supply cap.
// It is the single record every minting path consults; the internal mutex
// makes each operation atomic, so two mints racing for the last headroom can
// never jointly exceed the cap.
type Ledger struct {
	mu          sync.Mutex
	cap         *big.Int
	totalMinted *big.Int
	totalBurned *big.Int

	// totalForgone audits sale burns that follow the never-minted
	// discipline: those amounts are subtracted before minting and therefore
	// never touch the cap arithmetic.
	totalForgone *big.Int

	telemetry *observability.SupplyMetrics
}

// Snapshot is the persistable view of the ledger counters.
type Snapshot struct {
	TotalMinted  *big.Int
	TotalBurned  *big.Int
	TotalForgone *big.Int
}

// NewLedger constructs a ledger for the given cap.
func NewLedger(cap *big.Int) (*Ledger, error) {
	if cap == nil || cap.Sign() <= 0 {
		return nil, ErrInvalidCap
	}
	return &Ledger{
		cap:          new(big.Int).Set(cap),
		totalMinted:  big.NewInt(0),
		totalBurned:  big.NewInt(0),
		totalForgone: big.NewInt(0),
	}, nil
}

// SetTelemetry wires the prometheus registry used for ledger counters.
func (l *Ledger) SetTelemetry(t *observability.SupplyMetrics) {
	if l == nil {
		return
	}
	l.telemetry = t
}

// Restore re-establishes persisted counters. It rejects states that violate
// the cap invariant so corrupted snapshots cannot be loaded silently.
func (l *Ledger) Restore(snap Snapshot) error {
	minted := big.NewInt(0)
	burned := big.NewInt(0)
	forgone := big.NewInt(0)
	if snap.TotalMinted != nil {
		minted = new(big.Int).Set(snap.TotalMinted)
	}
	if snap.TotalBurned != nil {
		burned = new(big.Int).Set(snap.TotalBurned)
	}
	if snap.TotalForgone != nil {
		forgone = new(big.Int).Set(snap.TotalForgone)
	}
	if minted.Sign() < 0 || burned.Sign() < 0 || forgone.Sign() < 0 {
		return ErrInvalidAmount
	}
	circulating := new(big.Int).Sub(minted, burned)
	if circulating.Sign() < 0 || circulating.Cmp(l.cap) > 0 {
		return ErrSupplyCapExceeded
	}
	l.mu.Lock()
	l.totalMinted = minted
	l.totalBurned = burned
	l.totalForgone = forgone
	l.publishCirculating()
	l.mu.Unlock()
	return nil
}

// Mint increases totalMinted by amount. It fails with ErrSupplyCapExceeded
// when the circulating supply would exceed the cap, leaving the counters
// untouched; a mint never partially fills.
func (l *Ledger) Mint(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.headroom().Cmp(amount) < 0 {
		l.telemetry.IncCapRejection()
		return ErrSupplyCapExceeded
	}
	l.totalMinted.Add(l.totalMinted, amount)
	l.telemetry.IncMint()
	l.publishCirculating()
	return nil
}

// MintUpTo mints as much of amount as the remaining headroom allows and
// returns the minted portion together with the unmet shortfall. The caller is
// responsible for carrying the shortfall forward; the ledger never drops it.
func (l *Ledger) MintUpTo(amount *big.Int) (minted, shortfall *big.Int, err error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	headroom := l.headroom()
	minted = new(big.Int).Set(amount)
	if minted.Cmp(headroom) > 0 {
		minted.Set(headroom)
	}
	shortfall = new(big.Int).Sub(amount, minted)
	if minted.Sign() > 0 {
		l.totalMinted.Add(l.totalMinted, minted)
		l.telemetry.IncMint()
		l.publishCirculating()
	}
	if shortfall.Sign() > 0 {
		l.telemetry.IncCapRejection()
	}
	return minted, shortfall, nil
}

// Burn increases totalBurned. It fails with ErrInsufficientBurnable when the
// amount exceeds the circulating supply.
func (l *Ledger) Burn(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	circulating := new(big.Int).Sub(l.totalMinted, l.totalBurned)
	if circulating.Cmp(amount) < 0 {
		return ErrInsufficientBurnable
	}
	l.totalBurned.Add(l.totalBurned, amount)
	l.telemetry.IncBurn()
	l.publishCirculating()
	return nil
}

// RecordForgone audits an amount that was burned under the never-minted
// discipline. The amount was subtracted from a purchase before any minting
// occurred, so it does not move totalMinted or totalBurned.
func (l *Ledger) RecordForgone(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	l.totalForgone.Add(l.totalForgone, amount)
	l.mu.Unlock()
	return nil
}

// publishCirculating mirrors the circulating total onto the gauge. Callers
// must hold the mutex.
func (l *Ledger) publishCirculating() {
	if l.telemetry == nil {
		return
	}
	circulating := new(big.Int).Sub(l.totalMinted, l.totalBurned)
	units, _ := new(big.Float).SetInt(circulating).Float64()
	l.telemetry.SetCirculating(units)
}

// headroom returns cap - (minted - burned). Callers must hold the mutex.
func (l *Ledger) headroom() *big.Int {
	circulating := new(big.Int).Sub(l.totalMinted, l.totalBurned)
	return new(big.Int).Sub(l.cap, circulating)
}

// Cap returns the immutable supply cap.
func (l *Ledger) Cap() *big.Int {
	return new(big.Int).Set(l.cap)
}

// Circulating returns totalMinted - totalBurned.
func (l *Ledger) Circulating() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Sub(l.totalMinted, l.totalBurned)
}

// Headroom returns the remaining mintable amount.
func (l *Ledger) Headroom() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headroom()
}

// SnapshotNow captures the current counters for persistence.
func (l *Ledger) SnapshotNow() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		TotalMinted:  new(big.Int).Set(l.totalMinted),
		TotalBurned:  new(big.Int).Set(l.totalBurned),
		TotalForgone: new(big.Int).Set(l.totalForgone),
	}
}
