package exchange

import (
	"fmt"
	"sort"
	"sync"

	"github.com/valortrade/valor/internal/config"
)

// Registry holds the venues built at boot, keyed by name.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]Venue
}

func NewRegistry() *Registry {
	return &Registry{venues: make(map[string]Venue)}
}

// Add registers a venue under its name.
func (r *Registry) Add(v Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[v.Name()] = v
}

// Get returns the venue by name.
func (r *Registry) Get(name string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.venues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVenueUnknown, name)
	}
	return v, nil
}

// Names returns the registered venue names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.venues))
	for name := range r.venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered venue in name order.
func (r *Registry) All() []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.venues))
	for name := range r.venues {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Venue, 0, len(names))
	for _, name := range names {
		out = append(out, r.venues[name])
	}
	return out
}

// Build constructs the venue registry from config. Paper mode simulates
// every configured venue; live mode needs a real adapter, and only
// Binance has one.
func Build(cfg *config.Config) (*Registry, error) {
	reg := NewRegistry()

	for name, venueCfg := range cfg.Venues {
		if cfg.Trading.Mode == "live" {
			if name != "binance" {
				return nil, fmt.Errorf("no live adapter for venue %s", name)
			}
			reg.Add(NewBinance(name, venueCfg))
			continue
		}
		reg.Add(NewPaper(name))
	}

	if len(reg.Names()) == 0 {
		return nil, fmt.Errorf("no venues configured")
	}
	return reg, nil
}
