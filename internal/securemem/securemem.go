// Package securemem keeps secrets such as the server auth token in memguard
// locked buffers, so they are not swapped out or left in plain heap memory.
package securemem

import (
	"crypto/subtle"
	"encoding/hex"
	"sync"

	"github.com/awnumar/memguard"
)

var initOnce sync.Once

// Init installs memguard's interrupt handler once. Callers that create secrets
// from main should call it before the first NewString.
func Init() {
	initOnce.Do(memguard.CatchInterrupt)
}

// Purge destroys every memguard buffer of the process.
func Purge() {
	memguard.Purge()
}

// String is a secret held in a locked buffer.
type String struct {
	mu  sync.RWMutex
	buf *memguard.LockedBuffer
}

// NewString moves plaintext into a locked buffer.
func NewString(plaintext string) *String {
	return &String{buf: memguard.NewBufferFromBytes([]byte(plaintext))}
}

// NewRandomHex returns a secret made of n random bytes encoded as 2n hex characters.
func NewRandomHex(n int) *String {
	raw := memguard.NewBufferRandom(n)
	defer raw.Destroy()

	encoded := make([]byte, hex.EncodedLen(n))
	hex.Encode(encoded, raw.Bytes())
	// NewBufferFromBytes wipes encoded
	return &String{buf: memguard.NewBufferFromBytes(encoded)}
}

// String returns a plaintext copy. The copy lives in regular memory.
func (s *String) String() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.buf == nil {
		return ""
	}
	return string(s.buf.Bytes())
}

// IsEmpty reports whether the secret is empty or destroyed.
func (s *String) IsEmpty() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf == nil || s.buf.Size() == 0
}

// Equal compares the secret with other in constant time.
// A destroyed secret equals nothing.
func (s *String) Equal(other string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.buf == nil {
		return false
	}
	return subtle.ConstantTimeCompare(s.buf.Bytes(), []byte(other)) == 1
}

// Destroy wipes the secret. Further calls are no-ops.
func (s *String) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
}
