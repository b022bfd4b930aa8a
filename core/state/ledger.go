package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fiatreserve/core/events"
	"fiatreserve/storage"
)

var (
	// ErrInvalidSnapshot is returned when reverting to an unknown snapshot.
	ErrInvalidSnapshot = errors.New("state: invalid snapshot id")
	// ErrOverflow is returned when a balance or supply would exceed 2^256-1.
	ErrOverflow = errors.New("state: uint256 overflow")
	// ErrInsufficientBalance is returned when debiting more than an account holds.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrInsufficientAllowance is returned when spending more than approved.
	ErrInsufficientAllowance = errors.New("state: insufficient allowance")
)

// Ledger is a journaled key-value view over a storage.Database. Writes stay in
// memory until Commit and can be rolled back to any snapshot taken since the
// last commit. Events emitted through the ledger are journaled with the state
// so a revert discards them together.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	cache   map[string][]byte
	dirty   map[string]struct{}
	journal []journalEntry
	events  []events.Event
}

// NewLedger creates a ledger backed by db. A nil db yields an in-memory store.
func NewLedger(db storage.Database) *Ledger {
	if db == nil {
		db = storage.NewMemDB()
	}
	return &Ledger{
		db:    db,
		cache: make(map[string][]byte),
		dirty: make(map[string]struct{}),
	}
}

func hashKey(key []byte) string {
	return string(ethcrypto.Keccak256(key))
}

// load returns the raw value for the hashed key, reading through to the
// database on a cache miss. A nil value means absent.
func (l *Ledger) load(hashed string) ([]byte, error) {
	if value, ok := l.cache[hashed]; ok {
		return value, nil
	}
	value, err := l.db.Get([]byte(hashed))
	if errors.Is(err, storage.ErrNotFound) {
		l.cache[hashed] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load: %w", err)
	}
	l.cache[hashed] = value
	return value, nil
}

func (l *Ledger) store(hashed string, value []byte) error {
	prev, err := l.load(hashed)
	if err != nil {
		return err
	}
	_, wasDirty := l.dirty[hashed]
	l.journal = append(l.journal, journalEntry{
		kind:     entryWrite,
		key:      hashed,
		prev:     prev,
		wasDirty: wasDirty,
	})
	if value != nil {
		value = append([]byte(nil), value...)
	}
	l.cache[hashed] = value
	l.dirty[hashed] = struct{}{}
	return nil
}

// Emit buffers the event until the next Commit. Emitted events are discarded
// when the ledger reverts past the point of emission.
func (l *Ledger) Emit(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = append(l.journal, journalEntry{kind: entryEvent})
	l.events = append(l.events, evt)
}

// PendingEvents returns the events emitted since the last commit.
func (l *Ledger) PendingEvents() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

// Snapshot returns an identifier for the current state that can later be
// passed to RevertToSnapshot.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every write and event recorded after id.
func (l *Ledger) RevertToSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id > len(l.journal) {
		return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		l.journal[i].undo(l)
	}
	l.journal = l.journal[:id]
	return nil
}

// Commit persists all dirty entries in one batch and returns the events
// emitted since the previous commit. The journal is reset, invalidating
// earlier snapshots. On failure nothing is written and the journal is kept.
func (l *Ledger) Commit() ([]events.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := new(storage.Batch)
	for hashed := range l.dirty {
		if value := l.cache[hashed]; value == nil {
			batch.Delete([]byte(hashed))
		} else {
			batch.Put([]byte(hashed), value)
		}
	}
	if err := l.db.Write(batch); err != nil {
		return nil, fmt.Errorf("state: commit: %w", err)
	}
	emitted := l.events
	l.events = nil
	l.dirty = make(map[string]struct{})
	l.journal = nil
	return emitted, nil
}

// Discard drops every uncommitted change.
func (l *Ledger) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.journal) - 1; i >= 0; i-- {
		l.journal[i].undo(l)
	}
	l.journal = nil
}
