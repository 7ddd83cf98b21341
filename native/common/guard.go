package common

import (
	"errors"
	"sync"

	gethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrModulePaused is returned when an operator has halted a module's flows.
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when a guarded entry point is re-entered
	// while a call is already in flight.
	ErrReentrantCall = errors.New("reentrant call")
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")
)

// PauseView reports whether a named module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Authorizer is the external role check consumed by administrative
// operations. The engine only consumes the boolean verdict.
type Authorizer interface {
	IsAuthorized(addr gethcommon.Address) bool
}

// Authorize rejects the call when an authorizer is configured and denies
// the caller. A nil authorizer permits everything, mirroring Guard.
func Authorize(a Authorizer, caller gethcommon.Address) error {
	if a == nil {
		return nil
	}
	if !a.IsAuthorized(caller) {
		return ErrUnauthorized
	}
	return nil
}

// CallGuard is a non-reentrant mutual-exclusion guard. Every state-mutating
// entry point acquires it on entry and releases it on every exit path;
// nested acquisition fails immediately instead of queueing.
type CallGuard struct {
	mu sync.Mutex
}

// Enter acquires the guard or reports ErrReentrantCall if it is held.
func (g *CallGuard) Enter() error {
	if !g.mu.TryLock() {
		return ErrReentrantCall
	}
	return nil
}

// Exit releases the guard. Callers pair it with Enter via defer.
func (g *CallGuard) Exit() {
	g.mu.Unlock()
}
