package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseRegistry is a concurrency-safe PauseView whose switches are flipped by
// the params timelock. A module missing from the registry is not paused.
type PauseRegistry struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{paused: make(map[string]bool)}
}

func (r *PauseRegistry) IsPaused(module string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[module]
}

// SetPaused flips the pause switch for a module.
func (r *PauseRegistry) SetPaused(module string, paused bool) {
	if r == nil || module == "" {
		return
	}
	r.mu.Lock()
	r.paused[module] = paused
	r.mu.Unlock()
}
