package state

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"rigchain/core/types"
	"rigchain/native/mining"
	"rigchain/native/params"
	"rigchain/native/rig"
	"rigchain/native/supply"
	"rigchain/storage"
)

var ErrNilDatabase = errors.New("state: database is nil")

// Key prefixes for the flat key-value layout. Every record lives under a
// typed prefix so backends without column families stay unambiguous.
const (
	keySupply    = "supply"
	keyRigSeq    = "rigseq"
	prefMiner    = "miner:"
	prefRig      = "rig:"
	prefReferral = "referral:"
	prefAccount  = "account:"
	prefPending  = "pending:"
)

// Manager adapts the key-value store to the persistence interfaces of every
// engine. Records are RLP encoded; signed timestamps are stored as uint64
// since they are never negative once committed. Events appended during a
// batch of operations collect in memory until drained by the caller.
type Manager struct {
	db storage.Database

	seqMu    sync.Mutex
	eventsMu sync.Mutex
	events   []types.Event
}

// NewManager wraps a database in a state manager.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return &Manager{db: db}, nil
}

type storedMiner struct {
	Owner          common.Address
	HashPower      uint64
	LastSettlement uint64
	PendingReward  *big.Int
}

type storedRig struct {
	ID         uint64
	HashPower  uint64
	Owner      common.Address
	Registered bool
	Retired    bool
}

type storedSupply struct {
	TotalMinted  *big.Int
	TotalBurned  *big.Int
	TotalForgone *big.Int
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

type storedChange struct {
	ID           string
	Kind         string
	Payload      []byte
	RequestedAt  uint64
	ExecutableAt uint64
	Executed     bool
	Cancelled    bool
}

func minerKey(addr common.Address) []byte { return []byte(prefMiner + addr.Hex()) }

func rigKey(id uint64) []byte { return []byte(prefRig + strconv.FormatUint(id, 10)) }

func referralKey(a common.Address) []byte { return []byte(prefReferral + a.Hex()) }

func accountKey(addr common.Address) []byte { return []byte(prefAccount + addr.Hex()) }

func pendingKey(id string) []byte { return []byte(prefPending + id) }

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// MinerAccount loads the miner record for an address, or nil when absent.
func (m *Manager) MinerAccount(addr common.Address) (*mining.MinerAccount, error) {
	raw, ok, err := m.get(minerKey(addr))
	if err != nil || !ok {
		return nil, err
	}
	var stored storedMiner
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode miner %s: %w", addr.Hex(), err)
	}
	return &mining.MinerAccount{
		Owner:          stored.Owner,
		HashPower:      stored.HashPower,
		LastSettlement: int64(stored.LastSettlement),
		PendingReward:  bigOrZero(stored.PendingReward),
	}, nil
}

// PutMinerAccount persists a miner record.
func (m *Manager) PutMinerAccount(acct *mining.MinerAccount) error {
	if acct == nil {
		return errors.New("state: nil miner account")
	}
	raw, err := rlp.EncodeToBytes(storedMiner{
		Owner:          acct.Owner,
		HashPower:      acct.HashPower,
		LastSettlement: uint64(acct.LastSettlement),
		PendingReward:  bigOrZero(acct.PendingReward),
	})
	if err != nil {
		return err
	}
	return m.db.Put(minerKey(acct.Owner), raw)
}

// Rig loads an equipment record by ID, or nil when absent.
func (m *Manager) Rig(id uint64) (*rig.Rig, error) {
	raw, ok, err := m.get(rigKey(id))
	if err != nil || !ok {
		return nil, err
	}
	var stored storedRig
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode rig %d: %w", id, err)
	}
	return &rig.Rig{
		ID:         stored.ID,
		HashPower:  stored.HashPower,
		Owner:      stored.Owner,
		Registered: stored.Registered,
		Retired:    stored.Retired,
	}, nil
}

// PutRig persists an equipment record.
func (m *Manager) PutRig(r *rig.Rig) error {
	if r == nil {
		return errors.New("state: nil rig")
	}
	raw, err := rlp.EncodeToBytes(storedRig{
		ID:         r.ID,
		HashPower:  r.HashPower,
		Owner:      r.Owner,
		Registered: r.Registered,
		Retired:    r.Retired,
	})
	if err != nil {
		return err
	}
	return m.db.Put(rigKey(r.ID), raw)
}

// NextRigID allocates the next equipment identifier. IDs start at 1; zero is
// never issued.
func (m *Manager) NextRigID() (uint64, error) {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	var next uint64 = 1
	raw, ok, err := m.get([]byte(keyRigSeq))
	if err != nil {
		return 0, err
	}
	if ok {
		var last uint64
		if err := rlp.DecodeBytes(raw, &last); err != nil {
			return 0, fmt.Errorf("state: decode rig sequence: %w", err)
		}
		next = last + 1
	}
	encoded, err := rlp.EncodeToBytes(next)
	if err != nil {
		return 0, err
	}
	if err := m.db.Put([]byte(keyRigSeq), encoded); err != nil {
		return 0, err
	}
	return next, nil
}

// Referrer returns the immutable referral link for an address.
func (m *Manager) Referrer(addr common.Address) (common.Address, bool, error) {
	raw, ok, err := m.get(referralKey(addr))
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	if len(raw) != common.AddressLength {
		return common.Address{}, false, fmt.Errorf("state: corrupt referral record for %s", addr.Hex())
	}
	return common.BytesToAddress(raw), true, nil
}

// SetReferrer persists the referral link. Immutability is enforced by the
// sale engine; the manager stores whatever it is handed.
func (m *Manager) SetReferrer(referred, referrer common.Address) error {
	return m.db.Put(referralKey(referred), referrer.Bytes())
}

// Account loads a token account, or nil when absent.
func (m *Manager) Account(addr common.Address) (*types.Account, error) {
	raw, ok, err := m.get(accountKey(addr))
	if err != nil || !ok {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr.Hex(), err)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: bigOrZero(stored.Balance)}, nil
}

// PutAccount persists a token account.
func (m *Manager) PutAccount(addr common.Address, acct *types.Account) error {
	if acct == nil {
		return errors.New("state: nil account")
	}
	raw, err := rlp.EncodeToBytes(storedAccount{
		Nonce:   acct.Nonce,
		Balance: bigOrZero(acct.Balance),
	})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), raw)
}

// PendingChange loads a queued parameter change, or nil when absent.
func (m *Manager) PendingChange(id string) (*params.PendingChange, error) {
	raw, ok, err := m.get(pendingKey(id))
	if err != nil || !ok {
		return nil, err
	}
	var stored storedChange
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode pending change %s: %w", id, err)
	}
	return &params.PendingChange{
		ID:           stored.ID,
		Kind:         stored.Kind,
		Payload:      stored.Payload,
		RequestedAt:  int64(stored.RequestedAt),
		ExecutableAt: int64(stored.ExecutableAt),
		Executed:     stored.Executed,
		Cancelled:    stored.Cancelled,
	}, nil
}

// PutPendingChange persists a queued parameter change.
func (m *Manager) PutPendingChange(change *params.PendingChange) error {
	if change == nil {
		return errors.New("state: nil pending change")
	}
	raw, err := rlp.EncodeToBytes(storedChange{
		ID:           change.ID,
		Kind:         change.Kind,
		Payload:      change.Payload,
		RequestedAt:  uint64(change.RequestedAt),
		ExecutableAt: uint64(change.ExecutableAt),
		Executed:     change.Executed,
		Cancelled:    change.Cancelled,
	})
	if err != nil {
		return err
	}
	return m.db.Put(pendingKey(change.ID), raw)
}

// SupplySnapshot loads the persisted supply counters. The boolean reports
// whether a snapshot was ever written.
func (m *Manager) SupplySnapshot() (supply.Snapshot, bool, error) {
	raw, ok, err := m.get([]byte(keySupply))
	if err != nil || !ok {
		return supply.Snapshot{}, false, err
	}
	var stored storedSupply
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return supply.Snapshot{}, false, fmt.Errorf("state: decode supply snapshot: %w", err)
	}
	return supply.Snapshot{
		TotalMinted:  bigOrZero(stored.TotalMinted),
		TotalBurned:  bigOrZero(stored.TotalBurned),
		TotalForgone: bigOrZero(stored.TotalForgone),
	}, true, nil
}

// PutSupplySnapshot persists the supply counters.
func (m *Manager) PutSupplySnapshot(snap supply.Snapshot) error {
	raw, err := rlp.EncodeToBytes(storedSupply{
		TotalMinted:  bigOrZero(snap.TotalMinted),
		TotalBurned:  bigOrZero(snap.TotalBurned),
		TotalForgone: bigOrZero(snap.TotalForgone),
	})
	if err != nil {
		return err
	}
	return m.db.Put([]byte(keySupply), raw)
}

// AppendEvent records an engine event. Events accumulate until drained.
func (m *Manager) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	m.eventsMu.Lock()
	m.events = append(m.events, *evt.Clone())
	m.eventsMu.Unlock()
}

// Events returns a copy of the accumulated events.
func (m *Manager) Events() []types.Event {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	out := make([]types.Event, len(m.events))
	for i := range m.events {
		out[i] = *m.events[i].Clone()
	}
	return out
}

// DrainEvents returns the accumulated events and clears the buffer.
func (m *Manager) DrainEvents() []types.Event {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	out := m.events
	m.events = nil
	return out
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
