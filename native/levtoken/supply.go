package levtoken

import (
	"sync"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LedgerSupply is an in-process TokenSupply that tracks per-holder
// balances alongside each token's total. Deployments that settle token
// transfers elsewhere can swap in their own implementation.
type LedgerSupply struct {
	mu       sync.RWMutex
	totals   map[gethcommon.Address]*uint256.Int
	balances map[gethcommon.Address]map[gethcommon.Address]*uint256.Int
}

var _ TokenSupply = (*LedgerSupply)(nil)

// NewLedgerSupply returns an empty supply ledger.
func NewLedgerSupply() *LedgerSupply {
	return &LedgerSupply{
		totals:   make(map[gethcommon.Address]*uint256.Int),
		balances: make(map[gethcommon.Address]map[gethcommon.Address]*uint256.Int),
	}
}

// Mint credits freshly issued tokens to the recipient.
func (l *LedgerSupply) Mint(token, recipient gethcommon.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals[token] = add(l.totals[token], amount)
	holders := l.holders(token)
	holders[recipient] = add(holders[recipient], amount)
	return nil
}

// Burn debits tokens from the holder, failing when the balance is short.
func (l *LedgerSupply) Burn(token, holder gethcommon.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	holders := l.holders(token)
	balance := holders[holder]
	if balance == nil || balance.Lt(amount) {
		return ErrInsufficientSupply
	}
	holders[holder] = new(uint256.Int).Sub(balance, amount)
	l.totals[token] = new(uint256.Int).Sub(l.totals[token], amount)
	return nil
}

// TotalSupply reports a token's outstanding quantity.
func (l *LedgerSupply) TotalSupply(token gethcommon.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total, ok := l.totals[token]
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(total), nil
}

// BalanceOf reports a holder's token balance.
func (l *LedgerSupply) BalanceOf(token, holder gethcommon.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	holders, ok := l.balances[token]
	if !ok {
		return new(uint256.Int), nil
	}
	balance, ok := holders[holder]
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(balance), nil
}

func (l *LedgerSupply) holders(token gethcommon.Address) map[gethcommon.Address]*uint256.Int {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[gethcommon.Address]*uint256.Int)
		l.balances[token] = holders
	}
	return holders
}

func add(a, b *uint256.Int) *uint256.Int {
	if a == nil {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int).Add(a, b)
}
