package security

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-charter-sync/core"
)

var (
	ErrUnknownKeyVersion = errors.New("security: unknown signing key version")
	ErrKeyNotActive      = errors.New("security: signing key version is outside its rotation window")
	ErrNoActiveKeys      = errors.New("security: no active signing keys")
)

// SigningKey is one versioned webhook secret.
type SigningKey struct {
	Version string
	Secret  []byte
	Window  KeyRotationWindow
}

// Keyring holds the webhook secrets that may sign deliveries. Several versions
// can be active at once while a rotation is in progress.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]SigningKey
}

func NewKeyring(keys ...SigningKey) (*Keyring, error) {
	ring := &Keyring{keys: map[string]SigningKey{}}
	for _, key := range keys {
		if err := ring.Add(key); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

// KeyringFromConfig builds a keyring from configured signing keys.
func KeyringFromConfig(cfg []core.SigningKeyConfig) (*Keyring, error) {
	keys := make([]SigningKey, 0, len(cfg))
	for _, entry := range cfg {
		window, err := ParseRotationWindow(entry.NotBefore, entry.NotAfter)
		if err != nil {
			return nil, fmt.Errorf("security: key %q: %w", entry.Version, err)
		}
		keys = append(keys, SigningKey{
			Version: entry.Version,
			Secret:  []byte(strings.TrimSpace(entry.Secret)),
			Window:  window,
		})
	}
	return NewKeyring(keys...)
}

func (k *Keyring) Add(key SigningKey) error {
	if k == nil {
		return fmt.Errorf("security: keyring is nil")
	}
	version := strings.TrimSpace(key.Version)
	if version == "" {
		return fmt.Errorf("security: signing key version is required")
	}
	if len(key.Secret) == 0 {
		return fmt.Errorf("security: signing key %q secret is required", version)
	}
	key.Version = version
	key.Secret = append([]byte(nil), key.Secret...)

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys == nil {
		k.keys = map[string]SigningKey{}
	}
	if _, exists := k.keys[version]; exists {
		return fmt.Errorf("security: signing key %q already registered", version)
	}
	k.keys[version] = key
	return nil
}

func (k *Keyring) Retire(version string) {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, strings.TrimSpace(version))
}

// Lookup returns the key for version when its window admits at.
func (k *Keyring) Lookup(version string, at time.Time) (SigningKey, error) {
	if k == nil {
		return SigningKey{}, ErrUnknownKeyVersion
	}
	k.mu.RLock()
	key, ok := k.keys[strings.TrimSpace(version)]
	k.mu.RUnlock()
	if !ok {
		return SigningKey{}, ErrUnknownKeyVersion
	}
	if !key.Window.Allows(at) {
		return SigningKey{}, ErrKeyNotActive
	}
	return key, nil
}

// Active returns every key admitted at the given time, ordered by version.
func (k *Keyring) Active(at time.Time) []SigningKey {
	if k == nil {
		return nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]SigningKey, 0, len(k.keys))
	for _, key := range k.keys {
		if key.Window.Allows(at) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}
