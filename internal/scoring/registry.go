package scoring

import (
	"fmt"
	"slices"
	"sync"
)

// Registry keeps every known formula version. Older versions stay
// available so past scores can be reproduced.
type Registry struct {
	mu       sync.RWMutex
	formulas map[string]*Calibrated
	current  string
}

// NewRegistry registers the built-in calibrations and makes v3 current.
func NewRegistry() *Registry {
	r := &Registry{formulas: make(map[string]*Calibrated)}
	for _, cal := range []Calibration{V1, V2, V3} {
		if err := r.Register(cal); err != nil {
			panic(err)
		}
	}
	r.current = V3.Version
	return r
}

func (r *Registry) Register(cal Calibration) error {
	f, err := New(cal)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.formulas[cal.Version]; exists {
		return fmt.Errorf("formula version %s already registered", cal.Version)
	}
	r.formulas[cal.Version] = f
	return nil
}

func (r *Registry) Get(version string) (*Calibrated, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formulas[version]
	if !ok {
		return nil, fmt.Errorf("unknown formula version %q", version)
	}
	return f, nil
}

// Current returns the canonical formula.
func (r *Registry) Current() *Calibrated {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.formulas[r.current]
}

func (r *Registry) SetCurrent(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.formulas[version]; !ok {
		return fmt.Errorf("unknown formula version %q", version)
	}
	r.current = version
	return nil
}

// Versions lists registered versions in sorted order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.formulas))
	for v := range r.formulas {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions
}
