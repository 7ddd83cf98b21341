// Package state persists the lending pool and leveraged-token ledgers in a
// key-value database. Records are RLP encoded; absent records are returned
// as nil so engines apply their own first-use defaults.
package state

import (
	"errors"
	"sync"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"levmarket/native/lending"
	"levmarket/native/levtoken"
	"levmarket/storage"
)

var (
	keyPool       = []byte("lend/pool")
	keyTokenIndex = []byte("lev/tokens")

	prefixDebtShares   = []byte("lend/debt/")
	prefixSupplyShares = []byte("lend/supply/")
	prefixToken        = []byte("lev/token/")
)

// keyValue is the subset of the database a Store reads and writes. The
// transactional overlay in WithinTx satisfies it too.
type keyValue interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
}

// Store reads and writes the persisted ledgers. It satisfies both
// lending.State and levtoken.State, and batches writes through WithinTx
// so a multi-record engine operation lands whole or not at all.
type Store struct {
	mu      sync.Mutex
	kv      keyValue
	overlay *overlay
}

var (
	_ lending.State    = (*Store)(nil)
	_ lending.TxState  = (*Store)(nil)
	_ levtoken.State   = (*Store)(nil)
	_ levtoken.TxState = (*Store)(nil)
)

// WithinTx runs fn with every store write buffered, flushing to the
// database in write order only when fn returns nil. A WithinTx call made
// while a transaction is already open joins it, so an engine operation
// that drives another engine through the same store commits as one unit.
// Mutating entry points serialize on the engines' call guards.
func (s *Store) WithinTx(fn func() error) error {
	s.mu.Lock()
	if s.overlay != nil {
		s.mu.Unlock()
		return fn()
	}
	ov := newOverlay(s.kv)
	s.overlay = ov
	s.mu.Unlock()

	err := fn()

	s.mu.Lock()
	s.overlay = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return ov.commit()
}

// backend resolves reads and writes to the open transaction when one
// exists, and to the database otherwise.
func (s *Store) backend() keyValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlay != nil {
		return s.overlay
	}
	return s.kv
}

// GetPool loads the pool record, or nil before the first write.
func (s *Store) GetPool() (*lending.PoolState, error) {
	raw, err := s.backend().Get(keyPool)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pool := new(lending.PoolState)
	if err := rlp.DecodeBytes(raw, pool); err != nil {
		return nil, err
	}
	pool.EnsureDefaults()
	return pool, nil
}

// PutPool persists the pool record.
func (s *Store) PutPool(pool *lending.PoolState) error {
	if pool == nil {
		return errors.New("state: nil pool record")
	}
	pool.EnsureDefaults()
	raw, err := rlp.EncodeToBytes(pool)
	if err != nil {
		return err
	}
	return s.backend().Put(keyPool, raw)
}

// GetDebtShares loads a borrower's debt-share balance.
func (s *Store) GetDebtShares(addr gethcommon.Address) (*uint256.Int, error) {
	return s.getShares(prefixDebtShares, addr)
}

// PutDebtShares persists a borrower's debt-share balance.
func (s *Store) PutDebtShares(addr gethcommon.Address, shares *uint256.Int) error {
	return s.putShares(prefixDebtShares, addr, shares)
}

// GetSupplyShares loads a supplier's pool-share balance.
func (s *Store) GetSupplyShares(addr gethcommon.Address) (*uint256.Int, error) {
	return s.getShares(prefixSupplyShares, addr)
}

// PutSupplyShares persists a supplier's pool-share balance.
func (s *Store) PutSupplyShares(addr gethcommon.Address, shares *uint256.Int) error {
	return s.putShares(prefixSupplyShares, addr, shares)
}

// GetToken loads a leveraged token's record, or nil when unregistered.
func (s *Store) GetToken(addr gethcommon.Address) (*levtoken.TokenMetadata, error) {
	raw, err := s.backend().Get(tokenKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	meta := new(levtoken.TokenMetadata)
	if err := rlp.DecodeBytes(raw, meta); err != nil {
		return nil, err
	}
	meta.EnsureDefaults()
	return meta, nil
}

// PutToken persists a leveraged token's record and indexes new identities.
// The record and index writes land together.
func (s *Store) PutToken(meta *levtoken.TokenMetadata) error {
	if meta == nil {
		return errors.New("state: nil token record")
	}
	meta.EnsureDefaults()
	raw, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	key := tokenKey(meta.Token)
	return s.WithinTx(func() error {
		if _, err := s.backend().Get(key); errors.Is(err, storage.ErrNotFound) {
			if err := s.indexToken(meta.Token); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		return s.backend().Put(key, raw)
	})
}

// ListTokens returns the registered token identities in registration order.
func (s *Store) ListTokens() ([]gethcommon.Address, error) {
	raw, err := s.backend().Get(keyTokenIndex)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var index []gethcommon.Address
	if err := rlp.DecodeBytes(raw, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (s *Store) indexToken(addr gethcommon.Address) error {
	index, err := s.ListTokens()
	if err != nil {
		return err
	}
	for _, existing := range index {
		if existing == addr {
			return nil
		}
	}
	index = append(index, addr)
	raw, err := rlp.EncodeToBytes(index)
	if err != nil {
		return err
	}
	return s.backend().Put(keyTokenIndex, raw)
}

func (s *Store) getShares(prefix []byte, addr gethcommon.Address) (*uint256.Int, error) {
	raw, err := s.backend().Get(shareKey(prefix, addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	shares := new(uint256.Int)
	if err := rlp.DecodeBytes(raw, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

func (s *Store) putShares(prefix []byte, addr gethcommon.Address, shares *uint256.Int) error {
	if shares == nil {
		shares = new(uint256.Int)
	}
	raw, err := rlp.EncodeToBytes(shares)
	if err != nil {
		return err
	}
	return s.backend().Put(shareKey(prefix, addr), raw)
}

func tokenKey(addr gethcommon.Address) []byte {
	return append(append([]byte{}, prefixToken...), addr.Bytes()...)
}

func shareKey(prefix []byte, addr gethcommon.Address) []byte {
	return append(append([]byte{}, prefix...), addr.Bytes()...)
}
