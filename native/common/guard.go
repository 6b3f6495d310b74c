package common

import "errors"

var (
	// ErrModulePaused rejects mutations while a module-level pause is active.
	ErrModulePaused = errors.New("module paused")
	// ErrModuleNotPaused rejects operations that are only legal during a pause,
	// e.g. emergency stake migration.
	ErrModuleNotPaused = errors.New("module not paused")
)

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

// RequirePaused is the inverse gate: it fails unless the module is paused.
func RequirePaused(p PauseView, module string) error {
	if p == nil || !p.IsPaused(module) {
		return ErrModuleNotPaused
	}
	return nil
}
