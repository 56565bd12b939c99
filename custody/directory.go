package custody

import (
	"fmt"
	"sync"
)

// Directory resolves collection names to asset registries.
type Directory struct {
	mu         sync.RWMutex
	registries map[string]AssetRegistry
}

func NewDirectory() *Directory {
	return &Directory{registries: make(map[string]AssetRegistry)}
}

// Add makes registry reachable under name, replacing any previous entry.
func (d *Directory) Add(name string, registry AssetRegistry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registries[name] = registry
}

func (d *Directory) Lookup(name string) (AssetRegistry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.registries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return reg, nil
}
