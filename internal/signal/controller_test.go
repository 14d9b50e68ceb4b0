package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"

	"github.com/signalsfoundry/rail-signals/core"
	"github.com/signalsfoundry/rail-signals/internal/logging"
)

func TestUpdateAspect_OccupiedPathClosesSignal(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(blockDef(), core.Out)
	ctx := context.Background()

	c.UpdateAspect(ctx)
	if got := c.CurrentAspectIndex(); got != 1 {
		t.Fatalf("CurrentAspectIndex() = %d, want 1 (open)", got)
	}
	if r.effects.light("J-T", "green") != LightOn {
		t.Fatalf("green light not on")
	}

	r.occ.SetSegment("C", true)
	c.UpdateAspect(ctx)
	if got := c.CurrentAspectIndex(); got != 0 {
		t.Fatalf("CurrentAspectIndex() = %d, want 0 (closed)", got)
	}
	if r.effects.light("J-T", "green") != LightOff || r.effects.light("J-T", "red") != LightOn {
		t.Fatalf("lights not swapped: green=%v red=%v",
			r.effects.light("J-T", "green"), r.effects.light("J-T", "red"))
	}
	if id, on := c.CurrentAspectID(); !on || id != "closed" {
		t.Fatalf("CurrentAspectID() = %q, %v", id, on)
	}
}

func TestUpdateAspect_FirstMatchWins(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(&Definition{Aspects: []AspectDefinition{
		{ID: "first", Rule: AlwaysSpec()},
		{ID: "second", Rule: AlwaysSpec()},
	}}, core.Out)

	c.UpdateAspect(context.Background())
	if got := c.CurrentAspectIndex(); got != 0 {
		t.Fatalf("CurrentAspectIndex() = %d, want 0", got)
	}
}

func TestUpdateAspect_NoMatchTurnsOff(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(&Definition{Aspects: []AspectDefinition{
		{ID: "closed", Rule: OccupancySpec("none")},
	}}, core.Out)

	r.occ.SetSegment("B0", true)
	c.UpdateAspect(context.Background())
	r.occ.SetSegment("B0", false)
	c.UpdateAspect(context.Background())
	if c.IsOn() {
		t.Fatalf("signal should be off when no rule matches")
	}
	if _, on := c.CurrentAspectID(); on {
		t.Fatalf("CurrentAspectID() reports on for an off signal")
	}
}

func TestChangeAspect_IdempotentAndOffSemantics(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(blockDef(), core.Out)
	var events []*AspectDefinition
	c.OnAspectChanged(func(_ *Controller, a *AspectDefinition) { events = append(events, a) })

	if changed, err := c.ChangeAspect(-1); changed || err != nil {
		t.Fatalf("ChangeAspect(-1) on an off signal = %v, %v", changed, err)
	}
	if changed, _ := c.ChangeAspect(0); !changed {
		t.Fatalf("ChangeAspect(0) should change")
	}
	if changed, _ := c.ChangeAspect(0); changed {
		t.Fatalf("ChangeAspect(current) should be a no-op")
	}
	if len(events) != 1 || events[0].ID != "closed" {
		t.Fatalf("events = %v, want one closed event", events)
	}

	if changed, _ := c.ChangeAspect(-7); !changed {
		t.Fatalf("negative index should turn the signal off")
	}
	if len(events) != 2 || events[1] != nil {
		t.Fatalf("turning off should fire a nil aspect event")
	}
	if r.effects.light("J-T", "red") != LightOff {
		t.Fatalf("red light left on after turning off")
	}
}

func TestChangeAspect_OutOfRangeDoesNotMutate(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(blockDef(), core.Out)
	fired := 0
	c.OnAspectChanged(func(*Controller, *AspectDefinition) { fired++ })
	c.ChangeAspect(1)

	changed, err := c.ChangeAspect(2)
	if changed || !errors.Is(err, ErrAspectOutOfRange) {
		t.Fatalf("ChangeAspect(2) = %v, %v, want ErrAspectOutOfRange", changed, err)
	}
	if c.CurrentAspectIndex() != 1 || fired != 1 {
		t.Fatalf("state mutated: index=%d fired=%d", c.CurrentAspectIndex(), fired)
	}
	if r.effects.light("J-T", "green") != LightOn {
		t.Fatalf("lights touched by a rejected change")
	}
}

func TestAnimatorDisabledAfterTransition(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(&Definition{
		Animator:      true,
		BaseAnimation: "idle",
		Aspects: []AspectDefinition{
			{ID: "raise", Rule: AlwaysSpec(), Animation: "raise", AnimationTime: 0.5},
			{ID: "lower", Rule: AlwaysSpec(), Animation: "lower", AnimationTime: 0.5},
			{ID: "wigwag", Rule: AlwaysSpec(), Animation: "wigwag", AnimationTime: 0.5, KeepAnimator: true},
		},
	}, core.Out)
	if r.effects.animatorOn("J-T") {
		t.Fatalf("animator should start disabled")
	}

	c.ChangeAspect(0)
	if !r.effects.animatorOn("J-T") {
		t.Fatalf("animator not enabled for the transition")
	}
	r.sched.Advance(550 * time.Millisecond)
	if !r.effects.animatorOn("J-T") {
		t.Fatalf("animator disabled before transition + margin")
	}
	r.sched.Advance(100 * time.Millisecond)
	if r.effects.animatorOn("J-T") {
		t.Fatalf("animator still enabled after transition + margin")
	}

	// A newer transition replaces the pending switch-off.
	c.ChangeAspect(1)
	r.sched.Advance(300 * time.Millisecond)
	c.ChangeAspect(0)
	r.sched.Advance(400 * time.Millisecond)
	if !r.effects.animatorOn("J-T") {
		t.Fatalf("stale switch-off from the previous transition fired")
	}
	r.sched.Advance(300 * time.Millisecond)
	if r.effects.animatorOn("J-T") {
		t.Fatalf("animator still enabled")
	}

	c.ChangeAspect(2)
	r.sched.Advance(5 * time.Second)
	if !r.effects.animatorOn("J-T") {
		t.Fatalf("KeepAnimator aspect should leave the animator running")
	}
	if r.sched.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", r.sched.Pending())
	}
}

func TestTurnOffRestoresBaseAnimation(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(&Definition{
		Animator:      true,
		BaseAnimation: "idle",
		Aspects:       []AspectDefinition{{ID: "raise", Rule: AlwaysSpec(), Animation: "raise", AnimationTime: 0.2}},
	}, core.Out)

	c.ChangeAspect(0)
	r.sched.Advance(time.Second)
	c.TurnOff()
	if got := r.effects.animations[len(r.effects.animations)-1]; got != "J-T/idle" {
		t.Fatalf("last animation = %q, want J-T/idle", got)
	}
	if !r.effects.animatorOn("J-T") {
		t.Fatalf("animator should run while returning to base")
	}
	r.sched.Advance(time.Second)
	if r.effects.animatorOn("J-T") {
		t.Fatalf("animator should be disabled after returning to base")
	}
}

func TestTurnOffUsesAspectAnimationTime(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(&Definition{
		Animator:      true,
		BaseAnimation: "idle",
		Aspects:       []AspectDefinition{{ID: "snap", Rule: AlwaysSpec(), Animation: "snap"}},
	}, core.Out)

	c.ChangeAspect(0)
	r.sched.Advance(time.Second)
	c.TurnOff()
	if !r.effects.animatorOn("J-T") {
		t.Fatalf("animator should run while returning to base")
	}
	r.sched.Advance(150 * time.Millisecond)
	if r.effects.animatorOn("J-T") {
		t.Fatalf("a zero animation time should switch the animator off after the margin only")
	}
}

func TestAspectDefinitionDefaultsAnimationTime(t *testing.T) {
	var def Definition
	raw := `{"aspects": [
		{"id": "raise", "rule": {"type": "always"}, "animation": "raise"},
		{"id": "snap", "rule": {"type": "always"}, "animation": "snap", "animation_time": 0}
	]}`
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := def.Aspects[0].transition(); got != time.Second {
		t.Fatalf("default transition = %v, want 1s", got)
	}
	if got := def.Aspects[1].transition(); got != 0 {
		t.Fatalf("explicit zero transition = %v, want 0", got)
	}

	bad := `{"aspects": [{"id": "x", "rule": {"type": "always"}, "colour": "red"}]}`
	if err := json.Unmarshal([]byte(bad), &def); err == nil {
		t.Fatalf("unknown aspect field accepted")
	}
}

func TestApplyPlaysOneClipFromPool(t *testing.T) {
	r := newRig(t)
	pool := []string{"click", "clack", "clunk"}
	c := r.junctionSignal(&Definition{Aspects: []AspectDefinition{
		{ID: "open", Rule: AlwaysSpec(), Clips: pool},
	}}, core.Out)

	c.ChangeAspect(0)
	if len(r.effects.clips) != 1 || !lo.Contains(pool, r.effects.clips[0]) {
		t.Fatalf("clips = %v, want one from %v", r.effects.clips, pool)
	}
}

func TestUnknownRuleIsLoggedOnceAndSkipped(t *testing.T) {
	r := newRig(t)
	var buf bytes.Buffer
	r.env.Log = logging.NewWithWriter(logging.Config{}, &buf)
	def := &Definition{Aspects: []AspectDefinition{
		{ID: "mystery", Rule: RuleSpec{Type: "bogus"}},
		{ID: "open", Rule: AlwaysSpec()},
	}}

	out := r.junctionSignal(def, core.Out)
	in := r.junctionSignal(def, core.In)
	out.UpdateAspect(context.Background())
	in.UpdateAspect(context.Background())

	if n := strings.Count(buf.String(), "unknown rule type"); n != 1 {
		t.Fatalf("unknown rule logged %d times, want 1:\n%s", n, buf.String())
	}
	if out.CurrentAspectIndex() != 1 || in.CurrentAspectIndex() != 1 {
		t.Fatalf("rule-less aspect should be skipped")
	}
}

func TestJunctionBranchRule(t *testing.T) {
	r := newRig(t)
	def := &Definition{Aspects: []AspectDefinition{
		{ID: "diverging", Rule: JunctionBranchSpec(1)},
		{ID: "straight", Rule: AlwaysSpec()},
	}}
	out := r.junctionSignal(def, core.Out)
	in := r.junctionSignal(def, core.In)
	ctx := context.Background()

	out.UpdateAspect(ctx)
	if id, _ := out.CurrentAspectID(); id != "straight" {
		t.Fatalf("out-facing aspect = %q, want straight", id)
	}
	if err := r.j.Switch(1); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	out.UpdateAspect(ctx)
	in.UpdateAspect(ctx)
	if id, _ := out.CurrentAspectID(); id != "diverging" {
		t.Fatalf("out-facing aspect = %q, want diverging", id)
	}
	if id, _ := in.CurrentAspectID(); id != "straight" {
		t.Fatalf("in-facing aspect = %q, want straight", id)
	}
}

func TestJunctionSwitchQueuesUpdate(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(blockDef(), core.Out)

	if err := r.j.Switch(1); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if c.Updates() != 0 {
		t.Fatalf("switching must not update synchronously")
	}
	r.sweep.Drain(context.Background())
	if c.Updates() != 1 {
		t.Fatalf("Updates() = %d after drain, want 1", c.Updates())
	}
	if got := c.LastInfo().Segments[0].ID; got != "B1" {
		t.Fatalf("walk started on %q, want B1", got)
	}
}

func TestDistantSignalFollowsHome(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	home := r.junctionSignal(blockDef(), core.Out)
	distant := r.env.NewDistantSignal(&Definition{Aspects: []AspectDefinition{
		{ID: "warning", Rule: NextAspectSpec("closed")},
		{ID: "clear", Rule: AlwaysSpec()},
	}}, home, 1, 300, Placement{Position: core.Vec3{X: -300}})

	if distant.Name() != "J-T-D1" || distant.Kind() != core.KindDistant {
		t.Fatalf("distant = %s", distant)
	}

	home.UpdateAspect(ctx)
	if distant.Updates() != 0 {
		t.Fatalf("home change must not update the distant synchronously")
	}
	r.sweep.Drain(ctx)
	if distant.Updates() != 1 {
		t.Fatalf("distant updated %d times, want exactly 1", distant.Updates())
	}
	info := distant.LastInfo()
	if info.NextJunction != r.j || info.Next != core.Signal(home) || len(info.Segments) != 0 {
		t.Fatalf("distant walk not anchored at home junction: %+v", info)
	}
	if id, _ := distant.CurrentAspectID(); id != "clear" {
		t.Fatalf("distant aspect = %q, want clear", id)
	}

	r.sweep.Drain(ctx)
	if distant.Updates() != 1 {
		t.Fatalf("spurious re-evaluation without a home change")
	}

	r.occ.SetSegment("C", true)
	home.UpdateAspect(ctx)
	r.sweep.Drain(ctx)
	if id, _ := distant.CurrentAspectID(); id != "warning" || distant.Updates() != 2 {
		t.Fatalf("distant aspect = %q after %d updates, want warning after 2", id, distant.Updates())
	}

	distant.Dispose()
	r.occ.SetSegment("C", false)
	home.UpdateAspect(ctx)
	r.sweep.Drain(ctx)
	if distant.Updates() != 2 || distant.Alive() {
		t.Fatalf("disposed distant signal was still updated")
	}
}

func TestLightSequenceRotates(t *testing.T) {
	r := newRig(t)
	c := r.junctionSignal(&Definition{Aspects: []AspectDefinition{
		{ID: "flash", Rule: AlwaysSpec(), Sequences: []SequenceDefinition{
			{Lights: []string{"a", "b"}, States: []bool{true, false}, Timing: 0.5},
		}},
	}}, core.Out)

	c.ChangeAspect(0)
	if r.effects.light("J-T", "a") != LightOn || r.effects.light("J-T", "b") != LightOff {
		t.Fatalf("initial pattern wrong")
	}
	r.sched.Advance(500 * time.Millisecond)
	if r.effects.light("J-T", "a") != LightOff || r.effects.light("J-T", "b") != LightOn {
		t.Fatalf("pattern did not rotate")
	}

	c.TurnOff()
	if r.effects.light("J-T", "a") != LightOff || r.effects.light("J-T", "b") != LightOff {
		t.Fatalf("sequence lights left on")
	}
	if r.sched.Pending() != 0 {
		t.Fatalf("sequence step still scheduled after turning off")
	}
}
