package security

import (
	"errors"
	"fmt"
	"sync"

	"psila-go/internal/blockcipher"
	"psila-go/internal/ccm"
)

// NamedKey is a candidate key with a label for reporting.
type NamedKey struct {
	Name string
	Key  Key
}

// KeyRing is an ordered list of candidate keys. Unsecure tries them in
// order and the first that authenticates wins.
type KeyRing struct {
	mu   sync.RWMutex
	keys []NamedKey
}

// NewKeyRing returns a ring holding keys in order.
func NewKeyRing(keys ...NamedKey) *KeyRing {
	r := &KeyRing{}
	for _, k := range keys {
		r.Add(k.Name, k.Key)
	}
	return r
}

// WellKnownKeys returns the default link key and the light link keys.
func WellKnownKeys() []NamedKey {
	return []NamedKey{
		{Name: "Default Link Key", Key: DefaultLinkKey},
		{Name: "Light Link Master Key", Key: LightLinkMasterKey},
		{Name: "Light Link Commissioning Key", Key: LightLinkCommissioningKey},
	}
}

// Add appends a key, or replaces the key of an existing name in place.
func (r *KeyRing) Add(name string, key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.keys {
		if r.keys[i].Name == name {
			r.keys[i].Key = key
			return
		}
	}
	r.keys = append(r.keys, NamedKey{Name: name, Key: key})
}

// Remove deletes the named key and reports whether it existed.
func (r *KeyRing) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.keys {
		if r.keys[i].Name == name {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			return true
		}
	}
	return false
}

// Names returns the key names in trial order.
func (r *KeyRing) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.keys))
	for i, k := range r.keys {
		names[i] = k.Name
	}
	return names
}

// Keys returns a copy of the ring.
func (r *KeyRing) Keys() []NamedKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]NamedKey(nil), r.keys...)
}

func (r *KeyRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Unsecure tries every key on a secured frame. It returns the plaintext,
// the auxiliary header and the name of the key that authenticated. An
// error other than an authentication failure stops the search.
func (r *KeyRing) Unsecure(bc blockcipher.BlockCipher, level Level, frame []byte, offset int) ([]byte, Header, string, error) {
	var aux Header
	for _, k := range r.Keys() {
		plaintext, h, err := Unsecure(bc, k.Key, level, frame, offset)
		aux = h
		if err == nil {
			return plaintext, h, k.Name, nil
		}
		if !errors.Is(err, ccm.ErrAuthenticationFailed) {
			return nil, h, "", fmt.Errorf("security: unsecure with %q: %w", k.Name, err)
		}
	}
	return nil, aux, "", ErrNoValidKey
}
