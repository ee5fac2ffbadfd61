package params

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "rigchain/native/common"
	"rigchain/native/sale"
)

// Change kinds routed through the timelock.
const (
	KindPauseSwitch = "pause.switch"
	KindBanSwitch   = "ban.switch"
	KindSaleConfig  = "sale.config"
)

var ErrNilTarget = errors.New("params: applier target is nil")

// PausePayload toggles the pause switch for one module.
type PausePayload struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

// PauseApplier flips module pause switches on a shared registry.
type PauseApplier struct {
	Registry *nativecommon.PauseRegistry
}

func (a PauseApplier) Validate(payload []byte) error {
	var p PausePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("params: decode pause payload: %w", err)
	}
	if p.Module == "" {
		return errors.New("params: pause payload missing module")
	}
	return nil
}

func (a PauseApplier) Apply(payload []byte) error {
	if a.Registry == nil {
		return ErrNilTarget
	}
	var p PausePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("params: decode pause payload: %w", err)
	}
	a.Registry.SetPaused(p.Module, p.Paused)
	return nil
}

// BanPayload flips the blacklist switch for one address.
type BanPayload struct {
	Address string `json:"address"`
	Banned  bool   `json:"banned"`
}

// BanApplier flips address bans on a shared registry.
type BanApplier struct {
	Registry *nativecommon.BanRegistry
}

func (a BanApplier) Validate(payload []byte) error {
	var p BanPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("params: decode ban payload: %w", err)
	}
	if !common.IsHexAddress(p.Address) {
		return fmt.Errorf("params: invalid ban address %q", p.Address)
	}
	return nil
}

func (a BanApplier) Apply(payload []byte) error {
	if a.Registry == nil {
		return ErrNilTarget
	}
	var p BanPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("params: decode ban payload: %w", err)
	}
	a.Registry.SetBanned(common.HexToAddress(p.Address), p.Banned)
	return nil
}

// SaleConfigPayload carries a full replacement sale configuration.
type SaleConfigPayload struct {
	BurnBps          uint32   `json:"burnBps"`
	ReferralLevelBps []uint32 `json:"referralLevelBps"`
	MaxReferralDepth uint32   `json:"maxReferralDepth"`
	UnpaidToTreasury bool     `json:"unpaidToTreasury"`
	Treasury         string   `json:"treasury"`
}

func (p SaleConfigPayload) toConfig() (sale.Config, error) {
	cfg := sale.Config{
		BurnBps:          p.BurnBps,
		ReferralLevelBps: append([]uint32(nil), p.ReferralLevelBps...),
		MaxReferralDepth: p.MaxReferralDepth,
		UnpaidToTreasury: p.UnpaidToTreasury,
	}
	if p.Treasury != "" {
		if !common.IsHexAddress(p.Treasury) {
			return sale.Config{}, fmt.Errorf("params: invalid treasury address %q", p.Treasury)
		}
		cfg.Treasury = common.HexToAddress(p.Treasury)
	}
	return cfg, cfg.Validate()
}

// SaleConfigApplier swaps the sale engine configuration.
type SaleConfigApplier struct {
	Engine *sale.Engine
}

func (a SaleConfigApplier) Validate(payload []byte) error {
	var p SaleConfigPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("params: decode sale payload: %w", err)
	}
	_, err := p.toConfig()
	return err
}

func (a SaleConfigApplier) Apply(payload []byte) error {
	if a.Engine == nil {
		return ErrNilTarget
	}
	var p SaleConfigPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("params: decode sale payload: %w", err)
	}
	cfg, err := p.toConfig()
	if err != nil {
		return err
	}
	return a.Engine.SetConfig(cfg)
}
