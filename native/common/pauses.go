package common

import "sync"

// Pauses is an in-memory per-module pause registry satisfying PauseView.
// Each component carries its own administrative pause, so freezing the
// postage ledger does not halt the game or the registry.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauses() *Pauses {
	return &Pauses{paused: make(map[string]bool)}
}

func (p *Pauses) Pause(module string) {
	if p == nil || module == "" {
		return
	}
	p.mu.Lock()
	p.paused[module] = true
	p.mu.Unlock()
}

func (p *Pauses) Unpause(module string) {
	if p == nil || module == "" {
		return
	}
	p.mu.Lock()
	delete(p.paused, module)
	p.mu.Unlock()
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}
