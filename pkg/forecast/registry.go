package forecast

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultModel is used when configuration names no model
const DefaultModel = "trend_seasonal"

// FallbackModel is used after a primary fit failure
const FallbackModel = "naive"

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Model)
)

// Register makes a model available by name. Registering the same name twice
// replaces the earlier model.
func Register(m Model) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m.Name()] = m
}

// Lookup returns a registered model
func Lookup(name string) (Model, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// Names lists the registered model names, sorted
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(NewTrendSeasonal())
	Register(NewHolt(0.5, 0.3))
	Register(Naive{})
}
