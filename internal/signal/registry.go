package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/signalsfoundry/rail-signals/internal/logging"
)

var (
	ErrUnknownType      = errors.New("unknown type")
	ErrDuplicateType    = errors.New("type already registered")
	ErrBuiltinType      = errors.New("built-in type cannot be removed")
	ErrAspectOutOfRange = errors.New("aspect index out of range")
)

// Factory decodes the raw JSON of one rule or display into a value.
type Factory[T any] func(raw json.RawMessage) (T, error)

// Registry maps type names to factories. Unknown types and decode failures
// are logged once per type and yield no value.
type Registry[T any] struct {
	kind string
	log  logging.Logger
	once logging.Once

	mu        sync.RWMutex
	factories map[string]Factory[T]
	builtin   map[string]bool
}

func newRegistry[T any](kind string, log logging.Logger) *Registry[T] {
	if log == nil {
		log = logging.Noop()
	}
	return &Registry[T]{
		kind:      kind,
		log:       log,
		factories: make(map[string]Factory[T]),
		builtin:   make(map[string]bool),
	}
}

func (r *Registry[T]) registerBuiltin(name string, f Factory[T]) {
	r.factories[name] = f
	r.builtin[name] = true
}

// Register adds a factory for a new type name.
func (r *Registry[T]) Register(name string, f Factory[T]) error {
	if name == "" || f == nil {
		return fmt.Errorf("%s: empty name or nil factory", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicateType, r.kind, name)
	}
	r.factories[name] = f
	return nil
}

// Unregister removes a previously registered type. Built-ins stay.
func (r *Registry[T]) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.builtin[name] {
		return fmt.Errorf("%w: %s %q", ErrBuiltinType, r.kind, name)
	}
	if _, ok := r.factories[name]; !ok {
		return fmt.Errorf("%w: %s %q", ErrUnknownType, r.kind, name)
	}
	delete(r.factories, name)
	return nil
}

// Names lists the registered type names in order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.factories)
	slices.Sort(names)
	return names
}

// Build constructs a value of the named type. The bool is false when the
// type is unknown or its configuration does not decode.
func (r *Registry[T]) Build(ctx context.Context, typ string, raw json.RawMessage) (T, bool) {
	var zero T
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		r.once.Warn(ctx, r.log, "unknown:"+typ, "unknown "+r.kind+" type",
			logging.String("type", typ))
		return zero, false
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	v, err := f(raw)
	if err != nil {
		r.once.Warn(ctx, r.log, "invalid:"+typ, "invalid "+r.kind+" configuration",
			logging.String("type", typ), logging.Err(err))
		return zero, false
	}
	return v, true
}

// RuleRegistry builds aspect and indicator rules.
type RuleRegistry = Registry[Rule]

// DisplayRegistry builds display renderers.
type DisplayRegistry = Registry[Display]

// NewRuleRegistry returns a registry holding the built-in rules.
func NewRuleRegistry(log logging.Logger) *RuleRegistry {
	r := newRegistry[Rule]("rule", log)
	r.registerBuiltin(RuleAlways, decoder[Rule](AlwaysRule{}))
	r.registerBuiltin(RuleOccupancy, decoder[Rule](OccupancyRule{}))
	r.registerBuiltin(RuleNextAspect, decoder[Rule](NextAspectRule{}))
	r.registerBuiltin(RuleJunctionBranch, decoder[Rule](JunctionBranchRule{IgnoreIfFacingIn: true}))
	return r
}

// NewDisplayRegistry returns a registry holding the built-in displays.
func NewDisplayRegistry(log logging.Logger) *DisplayRegistry {
	r := newRegistry[Display]("display", log)
	r.registerBuiltin(DisplaySignalName, decoder[Display](SignalNameDisplay{}))
	r.registerBuiltin(DisplayJunctionBranch, decoder[Display](JunctionBranchDisplay{OffsetByOne: true, TowardsOnly: true}))
	r.registerBuiltin(DisplayTrackID, decoder[Display](TrackIDDisplay{}))
	r.registerBuiltin(DisplayDistance, decoder[Display](DistanceDisplay{}))
	r.registerBuiltin(DisplayStatic, decoder[Display](StaticDisplay{}))
	r.registerBuiltin(DisplayNextStation, decoder[Display](NextStationDisplay{NoResult: "-"}))
	return r
}

// decoder returns a factory that decodes into a copy of defaults.
func decoder[T any, V any](defaults V) Factory[T] {
	return func(raw json.RawMessage) (T, error) {
		v := defaults
		if err := json.Unmarshal(raw, &v); err != nil {
			var zero T
			return zero, err
		}
		return any(v).(T), nil
	}
}
