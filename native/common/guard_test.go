package common

import (
	"errors"
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
)

type stubPauses struct {
	modules map[string]bool
}

func (s stubPauses) IsPaused(module string) bool {
	return s.modules[module]
}

func TestGuardPausedModule(t *testing.T) {
	pauses := stubPauses{modules: map[string]bool{"lending": true}}
	if err := Guard(pauses, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "levtoken"); err != nil {
		t.Fatalf("unexpected error for unpaused module: %v", err)
	}
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil view must permit: %v", err)
	}
}

func TestCallGuardRejectsNestedEntry(t *testing.T) {
	var g CallGuard
	if err := g.Enter(); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	if err := g.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	g.Exit()
	if err := g.Enter(); err != nil {
		t.Fatalf("enter after exit: %v", err)
	}
	g.Exit()
}

type allowlistAuth struct {
	allowed gethcommon.Address
}

func (a allowlistAuth) IsAuthorized(addr gethcommon.Address) bool {
	return addr == a.allowed
}

func TestAuthorize(t *testing.T) {
	admin := gethcommon.HexToAddress("0x01")
	outsider := gethcommon.HexToAddress("0x02")
	auth := allowlistAuth{allowed: admin}

	if err := Authorize(auth, admin); err != nil {
		t.Fatalf("admin must pass: %v", err)
	}
	if err := Authorize(auth, outsider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := Authorize(nil, outsider); err != nil {
		t.Fatalf("nil authorizer must permit: %v", err)
	}
}
