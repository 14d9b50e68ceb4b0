// Package topology turns a rail network into signals: it classifies
// junctions, places signal pairs, merges redundant ones and adds distant
// signals, using definitions from a signal pack.
package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/signalsfoundry/rail-signals/internal/logging"
	"github.com/signalsfoundry/rail-signals/internal/signal"
)

const (
	DefaultDistantDistance       = 300.0
	DefaultDistantMinTrackLength = 100.0
)

var (
	ErrInvalidPack     = errors.New("invalid signal pack")
	ErrPackNotFound    = errors.New("signal pack not found")
	ErrDuplicatePack   = errors.New("signal pack already registered")
	ErrDuplicateSignal = errors.New("junction already has signals")
	ErrSignalNotFound  = errors.New("signal not registered")
)

// Pack is a set of signal definitions used together. Only Signal is
// required.
type Pack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Author  string `json:"author"`
	Version string `json:"version"`

	Signal         *signal.Definition `json:"signal"`
	IntoYardSignal *signal.Definition `json:"into_yard_signal"`
	ShuntingSignal *signal.Definition `json:"shunting_signal"`
	DistantSignal  *signal.Definition `json:"distant_signal"`

	// DistantDistance is how far before the home signal distant signals
	// stand; tracks shorter than DistantMinTrackLength get none.
	DistantDistance       float64 `json:"distant_distance"`
	DistantMinTrackLength float64 `json:"distant_min_track_length"`
}

// ApplyDefaults fills unset distances.
func (p *Pack) ApplyDefaults() {
	if p.DistantDistance <= 0 {
		p.DistantDistance = DefaultDistantDistance
	}
	if p.DistantMinTrackLength <= 0 {
		p.DistantMinTrackLength = DefaultDistantMinTrackLength
	}
}

// Validate checks the pack can be used.
func (p *Pack) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidPack)
	}
	if p.Signal == nil {
		return fmt.Errorf("%w: %q has no signal", ErrInvalidPack, p.ID)
	}
	if len(p.Signal.Aspects) == 0 {
		return fmt.Errorf("%w: %q signal has no aspects", ErrInvalidPack, p.ID)
	}
	return nil
}

// Definitions lists every definition the pack carries.
func (p *Pack) Definitions() []*signal.Definition {
	return lo.Compact([]*signal.Definition{p.Signal, p.IntoYardSignal, p.ShuntingSignal, p.DistantSignal})
}

// LoadPack decodes and validates a pack.
func LoadPack(r io.Reader) (*Pack, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var p Pack
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPack, err)
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPackFile is LoadPack on a file.
func LoadPackFile(path string) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pack: %w", err)
	}
	defer f.Close()
	return LoadPack(f)
}

// PackRegistry holds the installed packs. The first pack added is the
// default.
type PackRegistry struct {
	log logging.Logger

	mu    sync.RWMutex
	packs map[string]*Pack
	def   *Pack
}

func NewPackRegistry(log logging.Logger) *PackRegistry {
	if log == nil {
		log = logging.Noop()
	}
	return &PackRegistry{log: log, packs: make(map[string]*Pack)}
}

// Add installs p.
func (r *PackRegistry) Add(p *Pack) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packs[p.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicatePack, p.ID)
	}
	p.ApplyDefaults()
	r.packs[p.ID] = p
	if r.def == nil {
		r.def = p
	}
	return nil
}

// Remove uninstalls the pack with the given id. Removing the default pack
// is refused.
func (r *PackRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPackNotFound, id)
	}
	if p == r.def {
		return fmt.Errorf("%w: %q is the default pack", ErrInvalidPack, id)
	}
	delete(r.packs, id)
	return nil
}

// Get returns the pack with the given id.
func (r *PackRegistry) Get(id string) (*Pack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPackNotFound, id)
	}
	return p, nil
}

// Default is the first pack added, nil when empty.
func (r *PackRegistry) Default() *Pack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// Current resolves the pack selected by id. An empty id selects the
// default; an unknown one logs and falls back to it.
func (r *PackRegistry) Current(ctx context.Context, id string) *Pack {
	if id != "" {
		if p, err := r.Get(id); err == nil {
			return p
		}
		r.log.Error(ctx, "could not find signal pack, using default", logging.String("pack", id))
	}
	return r.Default()
}

// IDs lists installed pack ids in order.
func (r *PackRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := lo.Keys(r.packs)
	slices.Sort(ids)
	return ids
}
