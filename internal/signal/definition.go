package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RuleSpec names a rule type and keeps its raw JSON for the factory.
type RuleSpec struct {
	Type string
	Raw  json.RawMessage
}

// UnmarshalJSON reads {"type": ..., ...} and keeps the whole object.
func (r *RuleSpec) UnmarshalJSON(b []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("rule: %w", err)
	}
	r.Type = head.Type
	r.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON writes the raw object back, or just the type.
func (r RuleSpec) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return json.Marshal(map[string]string{"type": r.Type})
}

// Rule spec helpers for code-built definitions.

func AlwaysSpec() RuleSpec { return RuleSpec{Type: RuleAlways} }

func OccupancySpec(mode string) RuleSpec {
	raw, _ := json.Marshal(map[string]string{"type": RuleOccupancy, "mode": mode})
	return RuleSpec{Type: RuleOccupancy, Raw: raw}
}

func NextAspectSpec(id string) RuleSpec {
	raw, _ := json.Marshal(map[string]string{"type": RuleNextAspect, "next_id": id})
	return RuleSpec{Type: RuleNextAspect, Raw: raw}
}

func JunctionBranchSpec(branch int) RuleSpec {
	raw, _ := json.Marshal(map[string]any{"type": RuleJunctionBranch, "branch": branch})
	return RuleSpec{Type: RuleJunctionBranch, Raw: raw}
}

// SequenceDefinition rotates the on/off pattern States over Lights every
// Timing seconds while its aspect is shown. Both slices have equal length.
type SequenceDefinition struct {
	Lights []string `json:"lights"`
	States []bool   `json:"states"`
	Timing float64  `json:"timing"`
}

// AspectDefinition is one displayable state of a signal and the rule that
// selects it.
type AspectDefinition struct {
	ID             string               `json:"id"`
	Rule           RuleSpec             `json:"rule"`
	OnLights       []string             `json:"on_lights"`
	BlinkingLights []string             `json:"blinking_lights"`
	Sequences      []SequenceDefinition `json:"sequences"`
	Animation      string               `json:"animation"`
	// AnimationTime is the transition length in seconds. Decoded aspects
	// default to DefaultAnimationTime; zero switches instantly.
	AnimationTime float64 `json:"animation_time"`
	// KeepAnimator leaves the animator running after the transition.
	KeepAnimator bool     `json:"keep_animator"`
	Clips        []string `json:"clips"`
}

// DefaultAnimationTime applies to decoded aspects without animation_time.
const DefaultAnimationTime = 1.0

// UnmarshalJSON decodes strictly and fills in DefaultAnimationTime.
func (a *AspectDefinition) UnmarshalJSON(b []byte) error {
	type plain AspectDefinition
	v := plain{AnimationTime: DefaultAnimationTime}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("aspect: %w", err)
	}
	*a = AspectDefinition(v)
	return nil
}

func (a *AspectDefinition) transition() time.Duration {
	if a == nil || a.AnimationTime <= 0 {
		return 0
	}
	return time.Duration(a.AnimationTime * float64(time.Second))
}

// DisplayMode says when a display re-renders.
type DisplayMode int

const (
	// DisplayAtStart renders once.
	DisplayAtStart DisplayMode = iota
	// DisplayOnAspectChange renders when the aspect changed.
	DisplayOnAspectChange
	// DisplayAlways renders on every update.
	DisplayAlways
)

// UnmarshalJSON accepts "at_start", "aspect_changed" or "always".
func (m *DisplayMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("display mode: %w", err)
	}
	switch strings.ToLower(s) {
	case "", "at_start":
		*m = DisplayAtStart
	case "aspect_changed":
		*m = DisplayOnAspectChange
	case "always":
		*m = DisplayAlways
	default:
		return fmt.Errorf("display mode: unknown %q", s)
	}
	return nil
}

// DisplayDefinition configures one text display on the signal.
type DisplayDefinition struct {
	Type           string
	Mode           DisplayMode
	DisableWhenOff bool
	Raw            json.RawMessage
}

// UnmarshalJSON reads the common fields and keeps the object for the factory.
func (d *DisplayDefinition) UnmarshalJSON(b []byte) error {
	var head struct {
		Type           string      `json:"type"`
		Mode           DisplayMode `json:"mode"`
		DisableWhenOff bool        `json:"disable_when_off"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	d.Type, d.Mode, d.DisableWhenOff = head.Type, head.Mode, head.DisableWhenOff
	d.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// IndicatorDefinition is a light group lit independently of the aspect
// whenever its rule matches.
type IndicatorDefinition struct {
	Rule           RuleSpec `json:"rule"`
	OnLights       []string `json:"on_lights"`
	BlinkingLights []string `json:"blinking_lights"`
}

// Definition is the full description of a signal type. Aspects are tried in
// order; the first whose rule matches is shown.
type Definition struct {
	Aspects    []AspectDefinition    `json:"aspects"`
	Displays   []DisplayDefinition   `json:"displays"`
	Indicators []IndicatorDefinition `json:"indicators"`
	// Animator marks signals with an animated head.
	Animator      bool   `json:"animator"`
	BaseAnimation string `json:"base_animation"`
}

// AspectIndex returns the index of the aspect with the given ID or Off.
func (d *Definition) AspectIndex(id string) int {
	for i := range d.Aspects {
		if d.Aspects[i].ID == id {
			return i
		}
	}
	return Off
}
