package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("blob: object not found")

// Store is the remote object store exports and checkpoints are written to.
// Keys are slash separated and relative to the store's own prefix.
type Store interface {
	// Put uploads the local file at localPath to key.
	Put(ctx context.Context, key, localPath string) error
	// PutBytes replaces the object at key with body in a single write.
	PutBytes(ctx context.Context, key string, body []byte) error
	// Get returns the object body, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Factory builds a Store from its options map.
type Factory func(opts map[string]interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

func ForName(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names lists the registered store names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open looks up name in the registry and builds the store.
func Open(name string, opts map[string]interface{}) (Store, error) {
	f, ok := ForName(name)
	if !ok {
		return nil, fmt.Errorf("blob store not found: %s (have %s)", name, strings.Join(Names(), ", "))
	}
	return f(opts)
}

// Join builds an object key from its parts, without a leading slash.
func Join(parts ...string) string {
	return strings.TrimPrefix(path.Join(parts...), "/")
}
