package mining

import (
	"math"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"rigchain/core/types"
	nativecommon "rigchain/native/common"
	"rigchain/native/supply"
	"rigchain/observability"
)

const moduleName = "mining"

// State describes the persistence the reward engine needs from the
// surrounding state implementation.
type State interface {
	MinerAccount(addr common.Address) (*MinerAccount, error)
	PutMinerAccount(acc *MinerAccount) error
	AppendEvent(evt *types.Event)
}

// TokenCreditor credits claimed rewards onto the fungible token balance. It
// stands in for the external token primitive; the engine performs its own cap
// accounting before calling it.
type TokenCreditor interface {
	Credit(addr common.Address, amount *big.Int) error
}

// Engine settles accrued rewards across halving epochs and mints claims
// subject to the supply cap. Per-miner locks serialize calls that touch the
// same MinerAccount; calls for disjoint miners proceed concurrently and the
// supply ledger's own mutex arbitrates the shared cap.
type Engine struct {
	schedule Schedule
	supply   *supply.Ledger
	state    State
	tokens   TokenCreditor
	pauses   nativecommon.PauseView
	bans     nativecommon.BanView

	quota   nativecommon.Quota
	usageMu sync.Mutex
	usage   map[common.Address]nativecommon.QuotaNow

	locksMu sync.Mutex
	locks   map[common.Address]*sync.Mutex

	telemetry *observability.MiningMetrics
}

// NewEngine constructs a reward engine for the given halving schedule and
// supply ledger.
func NewEngine(schedule Schedule, ledger *supply.Ledger) (*Engine, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, ErrNilSupply
	}
	return &Engine{
		schedule: schedule.Clone(),
		supply:   ledger,
		usage:    make(map[common.Address]nativecommon.QuotaNow),
		locks:    make(map[common.Address]*sync.Mutex),
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetTokenLedger wires the token balance collaborator used to credit claims.
func (e *Engine) SetTokenLedger(tokens TokenCreditor) { e.tokens = tokens }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetBans wires the blacklist consulted on claims.
func (e *Engine) SetBans(b nativecommon.BanView) {
	if e == nil {
		return
	}
	e.bans = b
}

// SetQuota configures per-miner claim throttling.
func (e *Engine) SetQuota(q nativecommon.Quota) {
	if e == nil {
		return
	}
	e.quota = q
}

// SetTelemetry wires the prometheus registry used for engine counters.
func (e *Engine) SetTelemetry(t *observability.MiningMetrics) {
	if e == nil {
		return
	}
	e.telemetry = t
}

// Schedule returns a copy of the halving schedule.
func (e *Engine) Schedule() Schedule { return e.schedule.Clone() }

func (e *Engine) lockMiner(addr common.Address) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[addr]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[addr] = mu
	}
	e.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Settle crystallises accrued rewards for the miner up to now. A timestamp
// earlier than the last settlement fails with ErrNonMonotonicTime; an equal
// timestamp is a no-op that accrues zero. LastSettlement advances even at
// zero hash power so a stale window cannot inflate a later settlement.
func (e *Engine) Settle(addr common.Address, now int64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	unlock := e.lockMiner(addr)
	defer unlock()

	_, accrued, err := e.settleLocked(addr, now)
	if err != nil {
		e.telemetry.IncSettlement("error")
		return nil, err
	}
	e.telemetry.IncSettlement("ok")
	return accrued, nil
}

// settleLocked performs steps 1-4 of settlement. Callers must hold the
// miner's lock.
func (e *Engine) settleLocked(addr common.Address, now int64) (*MinerAccount, *big.Int, error) {
	acct, err := e.state.MinerAccount(addr)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		acct = NewMinerAccount(addr, now)
		if err := e.state.PutMinerAccount(acct); err != nil {
			return nil, nil, err
		}
		return acct, big.NewInt(0), nil
	}
	acct = acct.Clone()
	if now < acct.LastSettlement {
		return nil, nil, ErrNonMonotonicTime
	}
	if now == acct.LastSettlement {
		return acct, big.NewInt(0), nil
	}

	accrued := e.schedule.Accrue(acct.HashPower, acct.LastSettlement, now)
	from := acct.LastSettlement
	if acct.PendingReward == nil {
		acct.PendingReward = big.NewInt(0)
	}
	acct.PendingReward.Add(acct.PendingReward, accrued)
	acct.LastSettlement = now
	if err := e.state.PutMinerAccount(acct); err != nil {
		return nil, nil, err
	}

	if accrued.Sign() > 0 {
		e.state.AppendEvent(&types.Event{Type: EventTypeSettled, Attributes: map[string]string{
			"miner":   addr.Hex(),
			"from":    strconv.FormatInt(from, 10),
			"to":      strconv.FormatInt(now, 10),
			"accrued": accrued.String(),
			"pending": acct.PendingReward.String(),
		}})
	}
	return acct, accrued, nil
}

// Claim settles and then mints the pending reward, truncated to the remaining
// supply headroom. The pending accumulator is zeroed only for the portion that
// was actually minted; the shortfall stays in PendingReward and is reported in
// the result, so a partial claim leaves a definite, queryable state. All
// internal bookkeeping commits before the token balance credit, so a
// re-entrant call observes fully-updated state and cannot replay a stale
// accumulator.
func (e *Engine) Claim(addr common.Address, now int64) (*ClaimResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.tokens == nil {
		return nil, ErrNilTokens
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := nativecommon.GuardBan(e.bans, addr); err != nil {
		return nil, err
	}
	unlock := e.lockMiner(addr)
	defer unlock()

	acct, _, err := e.settleLocked(addr, now)
	if err != nil {
		e.telemetry.IncClaim("error")
		return nil, err
	}
	pending := big.NewInt(0)
	if acct.PendingReward != nil {
		pending.Set(acct.PendingReward)
	}
	if pending.Sign() == 0 {
		e.telemetry.IncClaim("empty")
		return &ClaimResult{Minted: big.NewInt(0), Remaining: big.NewInt(0)}, nil
	}

	if err := e.checkQuota(addr, now, pending); err != nil {
		e.telemetry.IncClaim("throttled")
		return nil, err
	}

	minted, shortfall, err := e.supply.MintUpTo(pending)
	if err != nil {
		e.telemetry.IncClaim("error")
		return nil, err
	}

	acct.PendingReward = new(big.Int).Set(shortfall)
	if err := e.state.PutMinerAccount(acct); err != nil {
		return nil, err
	}
	e.commitQuota(addr, now, minted)

	if minted.Sign() > 0 {
		if err := e.tokens.Credit(addr, minted); err != nil {
			return nil, err
		}
	}

	result := &ClaimResult{Minted: minted, Remaining: new(big.Int).Set(shortfall)}
	outcome := "full"
	if result.Partial() {
		outcome = "partial"
	}
	e.telemetry.IncClaim(outcome)
	mintedF, _ := new(big.Float).SetInt(minted).Float64()
	e.telemetry.AddMinted(mintedF)

	e.state.AppendEvent(&types.Event{Type: EventTypeClaimed, Attributes: map[string]string{
		"miner":     addr.Hex(),
		"timestamp": strconv.FormatInt(now, 10),
		"minted":    minted.String(),
		"remaining": shortfall.String(),
		"partial":   strconv.FormatBool(result.Partial()),
	}})
	return result, nil
}

// AdjustHashPower settles the miner at now and then applies the hash power
// delta, so the interval before the change accrues at the old hash power and
// the interval after at the new one. Used by the equipment registry on
// register and deregister.
func (e *Engine) AdjustHashPower(addr common.Address, delta int64, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	unlock := e.lockMiner(addr)
	defer unlock()

	acct, _, err := e.settleLocked(addr, now)
	if err != nil {
		return err
	}
	previous := acct.HashPower
	switch {
	case delta >= 0:
		if acct.HashPower > math.MaxUint64-uint64(delta) {
			return ErrHashPowerOverflow
		}
		acct.HashPower += uint64(delta)
	default:
		reduction := uint64(-delta)
		if reduction > acct.HashPower {
			return ErrHashPowerUnderflow
		}
		acct.HashPower -= reduction
	}
	if err := e.state.PutMinerAccount(acct); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{Type: EventTypeHashPowerChanged, Attributes: map[string]string{
		"miner":     addr.Hex(),
		"timestamp": strconv.FormatInt(now, 10),
		"previous":  strconv.FormatUint(previous, 10),
		"current":   strconv.FormatUint(acct.HashPower, 10),
	}})
	return nil
}

// MinerInfo returns a copy of the miner's accrual record, or nil when the
// miner has never been touched.
func (e *Engine) MinerInfo(addr common.Address) (*MinerAccount, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	unlock := e.lockMiner(addr)
	defer unlock()
	acct, err := e.state.MinerAccount(addr)
	if err != nil {
		return nil, err
	}
	return acct.Clone(), nil
}

func (e *Engine) checkQuota(addr common.Address, now int64, amount *big.Int) error {
	if !e.quota.Enabled() {
		return nil
	}
	window := e.quota.WindowAt(now)
	tokens := amountForQuota(amount)
	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	if _, err := nativecommon.CheckQuota(e.quota, window, e.usage[addr], 1, tokens); err != nil {
		return err
	}
	return nil
}

func (e *Engine) commitQuota(addr common.Address, now int64, minted *big.Int) {
	if !e.quota.Enabled() {
		return
	}
	window := e.quota.WindowAt(now)
	tokens := amountForQuota(minted)
	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	next, err := nativecommon.CheckQuota(e.quota, window, e.usage[addr], 1, tokens)
	if err != nil {
		return
	}
	e.usage[addr] = next
}

func amountForQuota(amount *big.Int) uint64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	if !amount.IsUint64() {
		return math.MaxUint64
	}
	return amount.Uint64()
}
