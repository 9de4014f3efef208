// Package registry holds the per-instrument trading settings the operator
// edits at runtime. Every change is written through to a Store.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	DefaultLotSize  = 0.01
	DefaultSLPips   = 10
	DefaultTPPips   = 30
	DefaultStrategy = "FractalBreakout"

	MinLotSize = 0.01
	MaxLotSize = 100

	// SeedInstrument is tracked when a store holds no data yet.
	SeedInstrument = "EURUSD"
)

var (
	ErrExists          = errors.New("instrument already tracked")
	ErrNotFound        = errors.New("instrument not tracked")
	ErrInvalidLotSize  = fmt.Errorf("lot size must be between %g and %g", float64(MinLotSize), float64(MaxLotSize))
	ErrInvalidPips     = errors.New("stop and target pips must be positive")
	ErrEmptyInstrument = errors.New("instrument name is empty")
)

// Settings are the risk parameters for one instrument.
type Settings struct {
	AutoTrading bool    `json:"auto_trading" yaml:"auto_trading"`
	LotSize     float64 `json:"lot_size" yaml:"lot_size"`
	SLPips      float64 `json:"sl_pips" yaml:"sl_pips"`
	TPPips      float64 `json:"tp_pips" yaml:"tp_pips"`
	Strategy    string  `json:"strategy" yaml:"strategy"`
}

func DefaultSettings() Settings {
	return Settings{
		LotSize:  DefaultLotSize,
		SLPips:   DefaultSLPips,
		TPPips:   DefaultTPPips,
		Strategy: DefaultStrategy,
	}
}

type entry struct {
	mu sync.Mutex
	s  Settings
}

// Registry is safe for concurrent use. Reads and writes on one instrument
// lock only that instrument.
type Registry struct {
	store Store
	log   zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	saveMu sync.Mutex
}

// Open loads the registry from store, seeding it with SeedInstrument when
// the store has never been written.
func Open(store Store, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		store:   store,
		log:     log.With().Str("component", "registry").Logger(),
		entries: make(map[string]*entry),
	}

	data, err := store.Load()
	switch {
	case errors.Is(err, ErrNoData):
		r.log.Info().Str("instrument", SeedInstrument).Msg("empty store, seeding")
		r.entries[SeedInstrument] = &entry{s: DefaultSettings()}
		if err := r.save(); err != nil {
			return nil, err
		}
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("load registry: %w", err)
	}

	for name, s := range data {
		r.entries[Normalize(name)] = &entry{s: s}
	}
	r.log.Info().Int("instruments", len(r.entries)).Msg("registry loaded")
	return r, nil
}

// Normalize is the canonical form of an instrument name.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Normalize(name)]
	return e, ok
}

func (r *Registry) Get(name string) (Settings, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Settings{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, true
}

// Names returns the tracked instruments in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of every instrument's settings.
func (r *Registry) All() map[string]Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Settings, len(r.entries))
	for n, e := range r.entries {
		e.mu.Lock()
		out[n] = e.s
		e.mu.Unlock()
	}
	return out
}

// Add starts tracking name with default settings.
func (r *Registry) Add(name string) (Settings, error) {
	name = Normalize(name)
	if name == "" {
		return Settings{}, ErrEmptyInstrument
	}

	r.mu.Lock()
	if _, ok := r.entries[name]; ok {
		r.mu.Unlock()
		return Settings{}, fmt.Errorf("%w: %s", ErrExists, name)
	}
	s := DefaultSettings()
	added := &entry{s: s}
	r.entries[name] = added
	r.mu.Unlock()

	if err := r.save(); err != nil {
		r.mu.Lock()
		if r.entries[name] == added {
			delete(r.entries, name)
		}
		r.mu.Unlock()
		return Settings{}, err
	}
	r.log.Info().Str("instrument", name).Msg("instrument added")
	return s, nil
}

func (r *Registry) Remove(name string) error {
	name = Normalize(name)

	r.mu.Lock()
	removed, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.entries, name)
	r.mu.Unlock()

	if err := r.save(); err != nil {
		r.mu.Lock()
		if _, back := r.entries[name]; !back {
			r.entries[name] = removed
		}
		r.mu.Unlock()
		return err
	}
	r.log.Info().Str("instrument", name).Msg("instrument removed")
	return nil
}

func (r *Registry) SetAutoTrading(name string, on bool) error {
	return r.update(name, func(s *Settings) error {
		s.AutoTrading = on
		return nil
	})
}

func (r *Registry) SetLotSize(name string, lots float64) error {
	return r.update(name, func(s *Settings) error {
		if lots < MinLotSize || lots > MaxLotSize {
			return ErrInvalidLotSize
		}
		s.LotSize = lots
		return nil
	})
}

func (r *Registry) SetStops(name string, slPips, tpPips float64) error {
	return r.update(name, func(s *Settings) error {
		if slPips <= 0 || tpPips <= 0 {
			return ErrInvalidPips
		}
		s.SLPips = slPips
		s.TPPips = tpPips
		return nil
	})
}

func (r *Registry) update(name string, fn func(*Settings) error) error {
	e, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, Normalize(name))
	}

	e.mu.Lock()
	prev, next := e.s, e.s
	if err := fn(&next); err != nil {
		e.mu.Unlock()
		return err
	}
	e.s = next
	e.mu.Unlock()

	if err := r.save(); err != nil {
		// a change that is not persisted is not applied
		e.mu.Lock()
		if e.s == next {
			e.s = prev
		}
		e.mu.Unlock()
		return err
	}
	r.log.Debug().Str("instrument", Normalize(name)).Interface("settings", next).Msg("settings updated")
	return nil
}

// save writes a snapshot through the store. Concurrent saves are
// serialized so the last writer stores the latest state.
func (r *Registry) save() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if err := r.store.Save(r.All()); err != nil {
		r.log.Error().Err(err).Msg("save registry")
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}
