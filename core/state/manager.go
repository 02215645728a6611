package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nhbmarket/storage"
)

// Manager provides typed access to the marketplace state stored in a
// storage.Database. Writes land in an in-memory overlay first; Snapshot and
// RevertToSnapshot rewind the overlay and Commit flushes it to the database in
// a single atomic batch.
type Manager struct {
	db storage.Database

	mu      sync.RWMutex
	overlay map[string]overlayEntry
	journal []journalEntry
	calls   int
}

// ErrCallInProgress is returned by Commit while a call scope opened with
// BeginCall is still running.
var ErrCallInProgress = errors.New("state: commit inside an open call")

type overlayEntry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    overlayEntry
	existed bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, overlay: make(map[string]overlayEntry)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

// Snapshot returns an identifier for the current overlay revision.
func (m *Manager) Snapshot() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.journal)
}

// BeginCall opens a call scope and returns a snapshot of its starting point.
// Until the matching EndCall, Commit refuses to flush, so a collaborator that
// commits on its own cannot persist the half-finished writes of the call.
func (m *Manager) BeginCall() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return len(m.journal)
}

// EndCall closes the innermost call scope.
func (m *Manager) EndCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls > 0 {
		m.calls--
	}
}

// RevertToSnapshot discards every write recorded after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.overlay[entry.key] = entry.prev
		} else {
			delete(m.overlay, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Commit flushes the overlay to the database atomically and resets the journal.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls > 0 {
		return ErrCallInProgress
	}
	if len(m.overlay) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	batch := storage.NewBatch()
	for key, entry := range m.overlay {
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.overlay = make(map[string]overlayEntry)
	m.journal = m.journal[:0]
	return nil
}

// Pending reports how many keys are staged but not yet committed.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.overlay)
}

func (m *Manager) set(key []byte, entry overlayEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	prev, existed := m.overlay[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, existed: existed})
	m.overlay[k] = entry
}

func (m *Manager) get(key []byte) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.overlay[string(key)]
	m.mu.RUnlock()
	if ok {
		if entry.deleted {
			return nil, nil
		}
		return append([]byte(nil), entry.value...), nil
	}
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (m *Manager) put(key, value []byte) {
	m.set(key, overlayEntry{value: append([]byte(nil), value...)})
}

func (m *Manager) remove(key []byte) {
	m.set(key, overlayEntry{deleted: true})
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.decode(kvKey(key), out)
}

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.remove(kvKey(key))
	return nil
}

func (m *Manager) decode(hashed []byte, out interface{}) (bool, error) {
	data, err := m.get(hashed)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) encode(hashed []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(hashed, encoded)
	return nil
}

func (m *Manager) loadBigInt(hashed []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.decode(hashed, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (m *Manager) writeBigInt(hashed []byte, value *big.Int) error {
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("state: negative value")
	}
	return m.encode(hashed, value)
}

func (m *Manager) loadUint64(hashed []byte) (uint64, error) {
	var value uint64
	if _, err := m.decode(hashed, &value); err != nil {
		return 0, err
	}
	return value, nil
}
