package state

import (
	"levmarket/storage"
)

// Manager owns the database handle and the single store the engines
// share. Engines must write through the same store so a cross-engine
// operation commits as one transaction.
type Manager struct {
	db    storage.Database
	store *Store
}

// NewManager wraps an open database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, store: &Store{kv: db}}
}

// Store returns the shared store over the underlying database.
func (m *Manager) Store() *Store {
	return m.store
}

// overlay buffers writes over a snapshot-consistent view of the base
// key-value backend.
type overlay struct {
	base   keyValue
	order  []string
	writes map[string][]byte
}

func newOverlay(base keyValue) *overlay {
	return &overlay{base: base, writes: make(map[string][]byte)}
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	if value, ok := o.writes[string(key)]; ok {
		out := make([]byte, len(value))
		copy(out, value)
		return out, nil
	}
	return o.base.Get(key)
}

func (o *overlay) Put(key, value []byte) error {
	k := string(key)
	if _, ok := o.writes[k]; !ok {
		o.order = append(o.order, k)
	}
	buffered := make([]byte, len(value))
	copy(buffered, value)
	o.writes[k] = buffered
	return nil
}

func (o *overlay) commit() error {
	for _, k := range o.order {
		if err := o.base.Put([]byte(k), o.writes[k]); err != nil {
			return err
		}
	}
	return nil
}
