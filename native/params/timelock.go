package params

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"rigchain/core/types"
)

// DefaultDelaySeconds is the execution delay applied when a timelock is
// constructed without an explicit one.
const DefaultDelaySeconds int64 = 86_400

var (
	ErrNilState           = errors.New("params: state not configured")
	ErrNotAuthority       = errors.New("params: caller is not the authority")
	ErrUnknownKind        = errors.New("params: unknown change kind")
	ErrChangeNotFound     = errors.New("params: change not found")
	ErrTimelockNotElapsed = errors.New("params: timelock not elapsed")
	ErrAlreadyExecuted    = errors.New("params: change already executed")
	ErrAlreadyCancelled   = errors.New("params: change already cancelled")
	ErrInvalidDelay       = errors.New("params: delay must be positive")
)

const (
	EventTypeChangeRequested = "params.change_requested"
	EventTypeChangeExecuted  = "params.change_executed"
	EventTypeChangeCancelled = "params.change_cancelled"
)

// PendingChange is a queued parameter update waiting out its delay.
type PendingChange struct {
	ID           string
	Kind         string
	Payload      []byte
	RequestedAt  int64
	ExecutableAt int64
	Executed     bool
	Cancelled    bool
}

// Clone returns a deep copy of the pending change.
func (p *PendingChange) Clone() *PendingChange {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Payload = append([]byte(nil), p.Payload...)
	return &clone
}

// State describes the persistence the timelock needs.
type State interface {
	PendingChange(id string) (*PendingChange, error)
	PutPendingChange(change *PendingChange) error
	AppendEvent(evt *types.Event)
}

// Applier validates and applies an executed change payload. Validation runs at
// request time too, so malformed payloads are rejected before they queue.
type Applier interface {
	Validate(payload []byte) error
	Apply(payload []byte) error
}

// Timelock queues parameter changes behind a mandatory delay. Only the
// configured authority may request, execute, or cancel.
type Timelock struct {
	mu        sync.Mutex
	state     State
	authority common.Address
	delay     int64
	appliers  map[string]Applier
}

// NewTimelock constructs a timelock for the given authority. A non-positive
// delay selects the default.
func NewTimelock(authority common.Address, delaySeconds int64) *Timelock {
	if delaySeconds <= 0 {
		delaySeconds = DefaultDelaySeconds
	}
	return &Timelock{
		authority: authority,
		delay:     delaySeconds,
		appliers:  make(map[string]Applier),
	}
}

// SetState wires the timelock to the external persistence layer.
func (t *Timelock) SetState(state State) { t.state = state }

// RegisterApplier binds a change kind to the component that applies it.
func (t *Timelock) RegisterApplier(kind string, applier Applier) {
	t.mu.Lock()
	t.appliers[kind] = applier
	t.mu.Unlock()
}

// Delay returns the configured execution delay in seconds.
func (t *Timelock) Delay() int64 { return t.delay }

// Request queues a change. The payload is validated immediately; the change
// becomes executable after the delay elapses.
func (t *Timelock) Request(caller common.Address, kind string, payload []byte, now int64) (*PendingChange, error) {
	if t == nil || t.state == nil {
		return nil, ErrNilState
	}
	if caller != t.authority {
		return nil, ErrNotAuthority
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	applier, ok := t.appliers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err := applier.Validate(payload); err != nil {
		return nil, err
	}
	change := &PendingChange{
		ID:           uuid.New().String(),
		Kind:         kind,
		Payload:      append([]byte(nil), payload...),
		RequestedAt:  now,
		ExecutableAt: now + t.delay,
	}
	if err := t.state.PutPendingChange(change); err != nil {
		return nil, err
	}
	t.state.AppendEvent(&types.Event{Type: EventTypeChangeRequested, Attributes: map[string]string{
		"change":       change.ID,
		"kind":         kind,
		"executableAt": strconv.FormatInt(change.ExecutableAt, 10),
	}})
	return change.Clone(), nil
}

// Execute applies a queued change once its delay has elapsed. A change
// executes at most once.
func (t *Timelock) Execute(caller common.Address, id string, now int64) error {
	if t == nil || t.state == nil {
		return ErrNilState
	}
	if caller != t.authority {
		return ErrNotAuthority
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	change, err := t.loadPending(id)
	if err != nil {
		return err
	}
	if now < change.ExecutableAt {
		return ErrTimelockNotElapsed
	}
	applier, ok := t.appliers[change.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, change.Kind)
	}
	if err := applier.Apply(change.Payload); err != nil {
		return err
	}
	change.Executed = true
	if err := t.state.PutPendingChange(change); err != nil {
		return err
	}
	t.state.AppendEvent(&types.Event{Type: EventTypeChangeExecuted, Attributes: map[string]string{
		"change":    change.ID,
		"kind":      change.Kind,
		"timestamp": strconv.FormatInt(now, 10),
	}})
	return nil
}

// Cancel withdraws a queued change before execution.
func (t *Timelock) Cancel(caller common.Address, id string, now int64) error {
	if t == nil || t.state == nil {
		return ErrNilState
	}
	if caller != t.authority {
		return ErrNotAuthority
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	change, err := t.loadPending(id)
	if err != nil {
		return err
	}
	change.Cancelled = true
	if err := t.state.PutPendingChange(change); err != nil {
		return err
	}
	t.state.AppendEvent(&types.Event{Type: EventTypeChangeCancelled, Attributes: map[string]string{
		"change":    change.ID,
		"kind":      change.Kind,
		"timestamp": strconv.FormatInt(now, 10),
	}})
	return nil
}

// Pending returns a copy of a queued change.
func (t *Timelock) Pending(id string) (*PendingChange, error) {
	if t == nil || t.state == nil {
		return nil, ErrNilState
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	change, err := t.state.PendingChange(id)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return nil, ErrChangeNotFound
	}
	return change.Clone(), nil
}

func (t *Timelock) loadPending(id string) (*PendingChange, error) {
	change, err := t.state.PendingChange(id)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return nil, ErrChangeNotFound
	}
	if change.Executed {
		return nil, ErrAlreadyExecuted
	}
	if change.Cancelled {
		return nil, ErrAlreadyCancelled
	}
	return change.Clone(), nil
}
