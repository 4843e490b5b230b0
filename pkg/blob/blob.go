// Package blob implements an out-of-band store for large property
// values, keyed by nodeID+propertyKey and optionally sealed with
// ChaCha20-Poly1305 AEAD (nonce-prefixed ciphertext), gated by a config
// flag.
package blob

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mimirhq/mimir/pkg/graph"
)

// ErrNotFound is returned when a key has no stored blob.
var ErrNotFound = errors.New("blob: not found")

// Key identifies a stored blob: one large property value on one node.
type Key struct {
	NodeID   string
	Property string
}

func (k Key) String() string { return k.NodeID + "/" + k.Property }

// Store is an optionally-encrypted blob store keyed by node ID and
// property name (see Key). The
// reference implementation keeps blobs in memory; a production
// deployment would back Store with an object store or the filesystem
// without changing the Get/Put contract.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	aead cipher.AEAD // nil when encryption is disabled
}

// New constructs a Store. If key is non-nil, it must be exactly
// chacha20poly1305.KeySize (32) bytes; every Put thereafter is sealed and
// every Get is opened transparently.
func New(key []byte) (*Store, error) {
	s := &Store{data: make(map[string][]byte)}
	if len(key) == 0 {
		return s, nil
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, graph.WrapError(graph.ErrKindConfig, "invalid blob encryption key", err)
	}
	s.aead = aead
	return s, nil
}

// Put stores content under key, sealing it if encryption is configured.
func (s *Store) Put(key Key, content []byte) error {
	stored := content
	if s.aead != nil {
		nonce := make([]byte, s.aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return fmt.Errorf("blob: generating nonce: %w", err)
		}
		sealed := s.aead.Seal(nil, nonce, content, nil)
		stored = append(nonce, sealed...)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key.String()] = stored
	return nil
}

// Get retrieves and, if sealed, opens the blob stored under key.
func (s *Store) Get(key Key) ([]byte, error) {
	s.mu.RLock()
	stored, ok := s.data[key.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.aead == nil {
		return stored, nil
	}
	nonceSize := s.aead.NonceSize()
	if len(stored) < nonceSize {
		return nil, errors.New("blob: corrupt sealed content")
	}
	nonce, ciphertext := stored[:nonceSize], stored[nonceSize:]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: opening sealed content: %w", err)
	}
	return plain, nil
}

// Delete removes a blob; a no-op if it was never stored.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key.String())
}

// DeleteNode removes every blob belonging to nodeID, called when the
// owning node is deleted.
func (s *Store) DeleteNode(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := nodeID + "/"
	for k := range s.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.data, k)
		}
	}
}

// Size returns the number of stored blobs.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
