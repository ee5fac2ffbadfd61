package rig

import (
	"errors"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"rigchain/core/types"
	nativecommon "rigchain/native/common"
)

const moduleName = "rig"

var (
	ErrNilState          = errors.New("rig: state not configured")
	ErrNilMining         = errors.New("rig: mining engine not configured")
	ErrNilRandomness     = errors.New("rig: randomness source not configured")
	ErrRigNotFound       = errors.New("rig: not found")
	ErrNotOwner          = errors.New("rig: caller is not the owner")
	ErrAlreadyRegistered = errors.New("rig: already registered")
	ErrNotRegistered     = errors.New("rig: not registered")
	ErrRigRegistered     = errors.New("rig: deregister before transfer or retirement")
	ErrRigRetired        = errors.New("rig: retired")
	ErrZeroHashPower     = errors.New("rig: drawn hash power must be positive")
)

const (
	EventTypeOpened       = "rig.opened"
	EventTypeRegistered   = "rig.registered"
	EventTypeDeregistered = "rig.deregistered"
	EventTypeTransferred  = "rig.transferred"
	EventTypeRetired      = "rig.retired"
)

// State describes the persistence the registry needs.
type State interface {
	Rig(id uint64) (*Rig, error)
	PutRig(r *Rig) error
	NextRigID() (uint64, error)
	AppendEvent(evt *types.Event)
}

// Randomness is the box-opening collaborator: it draws the hash power rating
// for a freshly opened rig. Its output is the sole non-deterministic input to
// equipment creation.
type Randomness interface {
	Draw() (uint64, error)
}

// HashPowerAdjuster is implemented by the mining engine. It settles the
// owner's accrual window before applying the delta, so the interval before a
// registration change always uses the old hash power.
type HashPowerAdjuster interface {
	AdjustHashPower(owner common.Address, delta int64, now int64) error
}

// Engine is the equipment registry. A single mutex serializes registry
// mutations; hash power changes are handed to the mining engine which holds
// its own per-miner locks.
type Engine struct {
	mu     sync.Mutex
	state  State
	mining HashPowerAdjuster
	random Randomness
	pauses nativecommon.PauseView
}

// NewEngine constructs an equipment registry.
func NewEngine(mining HashPowerAdjuster, random Randomness) *Engine {
	return &Engine{mining: mining, random: random}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// OpenBox draws a hash power rating from the randomness source and mints a
// new, unregistered rig for the owner.
func (e *Engine) OpenBox(owner common.Address, now int64) (*Rig, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.random == nil {
		return nil, ErrNilRandomness
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	hashPower, err := e.random.Draw()
	if err != nil {
		return nil, err
	}
	if hashPower == 0 {
		return nil, ErrZeroHashPower
	}
	id, err := e.state.NextRigID()
	if err != nil {
		return nil, err
	}
	r := &Rig{ID: id, HashPower: hashPower, Owner: owner}
	if err := e.state.PutRig(r); err != nil {
		return nil, err
	}
	e.state.AppendEvent(&types.Event{Type: EventTypeOpened, Attributes: map[string]string{
		"rig":       strconv.FormatUint(id, 10),
		"owner":     owner.Hex(),
		"hashPower": strconv.FormatUint(hashPower, 10),
		"timestamp": strconv.FormatInt(now, 10),
	}})
	return r.Clone(), nil
}

// Register attaches the rig's hash power to the caller's miner account. The
// mining engine settles the account before the hash power is added.
func (e *Engine) Register(id uint64, caller common.Address, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.mining == nil {
		return ErrNilMining
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.loadActive(id)
	if err != nil {
		return err
	}
	if r.Owner != caller {
		return ErrNotOwner
	}
	if r.Registered {
		return ErrAlreadyRegistered
	}
	if err := e.mining.AdjustHashPower(caller, int64(r.HashPower), now); err != nil {
		return err
	}
	r.Registered = true
	if err := e.state.PutRig(r); err != nil {
		// Detach the hash power again so a failed persist cannot leave the
		// rig registerable a second time with its power already attached.
		if revertErr := e.mining.AdjustHashPower(caller, -int64(r.HashPower), now); revertErr != nil {
			return errors.Join(err, revertErr)
		}
		return err
	}
	e.appendRigEvent(EventTypeRegistered, r, now)
	return nil
}

// Deregister detaches the rig's hash power, settling the miner account first
// so the closed interval accrues at the old hash power.
func (e *Engine) Deregister(id uint64, caller common.Address, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.mining == nil {
		return ErrNilMining
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.loadActive(id)
	if err != nil {
		return err
	}
	if r.Owner != caller {
		return ErrNotOwner
	}
	if !r.Registered {
		return ErrNotRegistered
	}
	if err := e.mining.AdjustHashPower(caller, -int64(r.HashPower), now); err != nil {
		return err
	}
	r.Registered = false
	if err := e.state.PutRig(r); err != nil {
		if revertErr := e.mining.AdjustHashPower(caller, int64(r.HashPower), now); revertErr != nil {
			return errors.Join(err, revertErr)
		}
		return err
	}
	e.appendRigEvent(EventTypeDeregistered, r, now)
	return nil
}

// Transfer moves ownership of a deregistered rig. Requiring deregistration
// first keeps hash power from being attributed to the wrong miner
// mid-transfer.
func (e *Engine) Transfer(id uint64, from, to common.Address, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.loadActive(id)
	if err != nil {
		return err
	}
	if r.Owner != from {
		return ErrNotOwner
	}
	if r.Registered {
		return ErrRigRegistered
	}
	r.Owner = to
	if err := e.state.PutRig(r); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{Type: EventTypeTransferred, Attributes: map[string]string{
		"rig":       strconv.FormatUint(r.ID, 10),
		"from":      from.Hex(),
		"to":        to.Hex(),
		"timestamp": strconv.FormatInt(now, 10),
	}})
	return nil
}

// Retire permanently destroys a deregistered rig.
func (e *Engine) Retire(id uint64, caller common.Address, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.loadActive(id)
	if err != nil {
		return err
	}
	if r.Owner != caller {
		return ErrNotOwner
	}
	if r.Registered {
		return ErrRigRegistered
	}
	r.Retired = true
	if err := e.state.PutRig(r); err != nil {
		return err
	}
	e.appendRigEvent(EventTypeRetired, r, now)
	return nil
}

// OwnerOf returns the current owner of a rig.
func (e *Engine) OwnerOf(id uint64) (common.Address, error) {
	if e == nil || e.state == nil {
		return common.Address{}, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r, err := e.loadActive(id)
	if err != nil {
		return common.Address{}, err
	}
	return r.Owner, nil
}

// Info returns a copy of the rig record.
func (e *Engine) Info(id uint64) (*Rig, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r, err := e.state.Rig(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRigNotFound
	}
	return r.Clone(), nil
}

func (e *Engine) loadActive(id uint64) (*Rig, error) {
	r, err := e.state.Rig(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRigNotFound
	}
	if r.Retired {
		return nil, ErrRigRetired
	}
	return r.Clone(), nil
}

func (e *Engine) appendRigEvent(eventType string, r *Rig, now int64) {
	e.state.AppendEvent(&types.Event{Type: eventType, Attributes: map[string]string{
		"rig":       strconv.FormatUint(r.ID, 10),
		"owner":     r.Owner.Hex(),
		"hashPower": strconv.FormatUint(r.HashPower, 10),
		"timestamp": strconv.FormatInt(now, 10),
	}})
}
