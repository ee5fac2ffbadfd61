package sale

import (
	"errors"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"rigchain/core/types"
	nativecommon "rigchain/native/common"
	"rigchain/native/supply"
	"rigchain/observability"
)

const moduleName = "sale"

var (
	ErrNilState           = errors.New("sale: state not configured")
	ErrNilOracle          = errors.New("sale: oracle not configured")
	ErrNilSupply          = errors.New("sale: supply ledger not configured")
	ErrNilTokens          = errors.New("sale: token ledger not configured")
	ErrInvalidAmount      = errors.New("sale: amount must be positive")
	ErrChainTooDeep       = errors.New("sale: referral chain too deep")
	ErrSelfReferral       = errors.New("sale: self referral")
	ErrReferrerAlreadySet = errors.New("sale: referrer already set")
	ErrInvalidReferrer    = errors.New("sale: invalid referrer")
	ErrReferralCycle      = errors.New("sale: referral cycle")
)

const (
	EventTypePurchased    = "sale.purchased"
	EventTypeReferralPaid = "sale.referral_paid"
	EventTypeBurned       = "sale.burned"
	EventTypeReferrerSet  = "sale.referrer_set"
)

// State describes the persistence the sale engine needs.
type State interface {
	Referrer(addr common.Address) (common.Address, bool, error)
	SetReferrer(referred, referrer common.Address) error
	AppendEvent(evt *types.Event)
}

// Oracle converts a stable-asset amount into reward token units. Assumed
// synchronous and authoritative for the call.
type Oracle interface {
	Quote(stableAmount *big.Int) (*big.Int, error)
}

// TokenCreditor credits token balances for referral payouts and the buyer
// remainder.
type TokenCreditor interface {
	Credit(addr common.Address, amount *big.Int) error
}

// Engine implements the referral-and-burn purchase flow. The burn follows the
// never-minted discipline: the burned fraction is subtracted before any
// minting occurs, so it never touches the supply cap; only the payable
// remainder passes through the cap-checked mint. A single mutex serializes
// purchases so the cap check and the balance credits commit as one step
// relative to other purchases.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	oracle Oracle
	supply *supply.Ledger
	tokens TokenCreditor
	pauses nativecommon.PauseView
	bans   nativecommon.BanView

	telemetry *observability.SaleMetrics
}

// NewEngine constructs a sale engine with the supplied configuration.
func NewEngine(cfg Config, ledger *supply.Ledger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, ErrNilSupply
	}
	return &Engine{cfg: cfg.Clone(), supply: ledger}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetOracle wires the stable-asset exchange-rate collaborator.
func (e *Engine) SetOracle(oracle Oracle) { e.oracle = oracle }

// SetTokenLedger wires the token balance collaborator.
func (e *Engine) SetTokenLedger(tokens TokenCreditor) { e.tokens = tokens }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetBans wires the blacklist consulted on purchases.
func (e *Engine) SetBans(b nativecommon.BanView) {
	if e == nil {
		return
	}
	e.bans = b
}

// SetTelemetry wires the prometheus registry used for sale counters.
func (e *Engine) SetTelemetry(t *observability.SaleMetrics) {
	if e == nil {
		return
	}
	e.telemetry = t
}

// Config returns a copy of the active sale configuration.
func (e *Engine) Config() Config { return e.cfg.Clone() }

// SetConfig replaces the sale configuration after validation. Called by the
// params timelock applier.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg.Clone()
	e.mu.Unlock()
	return nil
}

// SetReferrer establishes the immutable referral link for an identity. The
// link can be set at most once; cycles are rejected up to the traversal cap.
func (e *Engine) SetReferrer(referred, referrer common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if referrer == (common.Address{}) {
		return ErrInvalidReferrer
	}
	if referred == referrer {
		return ErrSelfReferral
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists, err := e.state.Referrer(referred); err != nil {
		return err
	} else if exists {
		return ErrReferrerAlreadySet
	}
	// Walk up from the proposed referrer: finding the referred identity
	// would close a loop. The walk must terminate within the traversal cap;
	// a chain still open at the cap is rejected rather than left unverified,
	// which also bounds every chain to the configured depth.
	current := referrer
	terminated := false
	for depth := uint32(0); depth < e.cfg.Depth(); depth++ {
		next, ok, err := e.state.Referrer(current)
		if err != nil {
			return err
		}
		if !ok {
			terminated = true
			break
		}
		if next == referred {
			return ErrReferralCycle
		}
		current = next
	}
	if !terminated {
		if _, ok, err := e.state.Referrer(current); err != nil {
			return err
		} else if ok {
			return ErrChainTooDeep
		}
	}
	if err := e.state.SetReferrer(referred, referrer); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{Type: EventTypeReferrerSet, Attributes: map[string]string{
		"referred": referred.Hex(),
		"referrer": referrer.Hex(),
	}})
	return nil
}

// Purchase converts a stable-asset payment into reward tokens, burning the
// configured fraction and paying the referral chain. The whole mint is
// cap-checked atomically: when the payable amount does not fit, the purchase
// fails with supply.ErrSupplyCapExceeded and no state changes.
func (e *Engine) Purchase(buyer common.Address, stableAmount *big.Int, now int64) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.oracle == nil {
		return nil, ErrNilOracle
	}
	if e.tokens == nil {
		return nil, ErrNilTokens
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := nativecommon.GuardBan(e.bans, buyer); err != nil {
		return nil, err
	}
	if stableAmount == nil || stableAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tokenAmount, err := e.oracle.Quote(stableAmount)
	if err != nil {
		return nil, err
	}
	if tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	burnAmount := mulBps(tokenAmount, e.cfg.BurnBps)
	payable := new(big.Int).Sub(tokenAmount, burnAmount)

	payouts, remainder, err := e.walkReferrals(buyer, payable)
	if err != nil {
		return nil, err
	}

	// One atomic mint for payouts plus remainder keeps the cap check
	// all-or-nothing; nothing has been written yet, so a cap rejection
	// leaves no partial state behind.
	if payable.Sign() > 0 {
		if err := e.supply.Mint(payable); err != nil {
			return nil, err
		}
	}
	if err := e.supply.RecordForgone(burnAmount); err != nil {
		return nil, err
	}

	for _, payout := range payouts {
		if payout.Amount.Sign() == 0 {
			continue
		}
		if err := e.tokens.Credit(payout.Recipient, payout.Amount); err != nil {
			return nil, err
		}
		e.telemetry.IncReferralPayout()
		e.state.AppendEvent(&types.Event{Type: EventTypeReferralPaid, Attributes: map[string]string{
			"buyer":     buyer.Hex(),
			"recipient": payout.Recipient.Hex(),
			"level":     strconv.FormatUint(uint64(payout.Level), 10),
			"amount":    payout.Amount.String(),
			"treasury":  strconv.FormatBool(payout.ToTreasury),
		}})
	}
	if remainder.Sign() > 0 {
		if err := e.tokens.Credit(buyer, remainder); err != nil {
			return nil, err
		}
	}
	if burnAmount.Sign() > 0 {
		burnedF, _ := new(big.Float).SetInt(burnAmount).Float64()
		e.telemetry.AddBurned(burnedF)
		e.state.AppendEvent(&types.Event{Type: EventTypeBurned, Attributes: map[string]string{
			"buyer":     buyer.Hex(),
			"amount":    burnAmount.String(),
			"timestamp": strconv.FormatInt(now, 10),
		}})
	}

	receipt := &Receipt{
		ID:          uuid.New().String(),
		Buyer:       buyer,
		StableIn:    new(big.Int).Set(stableAmount),
		TokenAmount: tokenAmount,
		BurnAmount:  burnAmount,
		Remainder:   remainder,
		Payouts:     payouts,
		Timestamp:   now,
	}
	e.telemetry.IncPurchase()
	e.state.AppendEvent(&types.Event{Type: EventTypePurchased, Attributes: map[string]string{
		"receipt":   receipt.ID,
		"buyer":     buyer.Hex(),
		"stableIn":  stableAmount.String(),
		"tokens":    tokenAmount.String(),
		"burned":    burnAmount.String(),
		"remainder": remainder.String(),
		"timestamp": strconv.FormatInt(now, 10),
	}})
	return receipt, nil
}

// walkReferrals computes the per-level payouts without mutating state. The
// returned payouts plus remainder sum to the payable input exactly. The chain
// advances one ancestor per level even when that level's rate is zero, so a
// later level always pays the ancestor at its own depth.
func (e *Engine) walkReferrals(buyer common.Address, payable *big.Int) ([]ReferralPayout, *big.Int, error) {
	remainder := new(big.Int).Set(payable)
	payouts := make([]ReferralPayout, 0, len(e.cfg.ReferralLevelBps))
	current := buyer
	chainEnded := false

	for level, bps := range e.cfg.ReferralLevelBps {
		if !chainEnded {
			referrer, ok, err := e.state.Referrer(current)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				current = referrer
			} else {
				chainEnded = true
			}
		}
		cut := mulBps(remainder, bps)
		if cut.Sign() == 0 {
			continue
		}
		if !chainEnded {
			payouts = append(payouts, ReferralPayout{
				Level:     uint32(level),
				Recipient: current,
				Amount:    cut,
			})
			remainder.Sub(remainder, cut)
			continue
		}
		// Short chain: the cut stays with the buyer unless the treasury
		// routing policy is enabled.
		if e.cfg.UnpaidToTreasury {
			payouts = append(payouts, ReferralPayout{
				Level:      uint32(level),
				Recipient:  e.cfg.Treasury,
				Amount:     cut,
				ToTreasury: true,
			})
			remainder.Sub(remainder, cut)
		}
	}
	return payouts, remainder, nil
}

func mulBps(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return out.Quo(out, big.NewInt(BpsDenominator))
}
