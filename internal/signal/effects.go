package signal

import (
	"context"
	"time"

	"github.com/signalsfoundry/rail-signals/core"
	"github.com/signalsfoundry/rail-signals/internal/logging"
)

// LightState is what a single lamp shows.
type LightState int

const (
	LightOff LightState = iota
	LightOn
	LightBlinking
)

func (s LightState) String() string {
	switch s {
	case LightOn:
		return "on"
	case LightBlinking:
		return "blinking"
	default:
		return "off"
	}
}

// Effects receives the presentation side of a signal. The host renders
// lights, animations, sound and display text; the controller only decides.
type Effects interface {
	SetLight(signal, light string, state LightState)
	PlayAnimation(signal, animation string, crossfade time.Duration)
	SetAnimatorEnabled(signal string, enabled bool)
	PlayClip(signal, clip string, at core.Vec3)
	ShowText(signal string, display int, text string, visible bool)
}

// NopEffects discards everything.
type NopEffects struct{}

func (NopEffects) SetLight(string, string, LightState)         {}
func (NopEffects) PlayAnimation(string, string, time.Duration) {}
func (NopEffects) SetAnimatorEnabled(string, bool)             {}
func (NopEffects) PlayClip(string, string, core.Vec3)          {}
func (NopEffects) ShowText(string, int, string, bool)          {}

// LogEffects writes every effect to a logger at debug level. The headless
// simulator uses it in place of a renderer.
type LogEffects struct {
	Log logging.Logger
}

func (e LogEffects) SetLight(signal, light string, state LightState) {
	e.Log.Debug(context.Background(), "light",
		logging.String("signal", signal), logging.String("light", light), logging.String("state", state.String()))
}

func (e LogEffects) PlayAnimation(signal, animation string, crossfade time.Duration) {
	e.Log.Debug(context.Background(), "animation",
		logging.String("signal", signal), logging.String("animation", animation), logging.Duration("crossfade", crossfade))
}

func (e LogEffects) SetAnimatorEnabled(signal string, enabled bool) {
	e.Log.Debug(context.Background(), "animator",
		logging.String("signal", signal), logging.Bool("enabled", enabled))
}

func (e LogEffects) PlayClip(signal, clip string, at core.Vec3) {
	e.Log.Debug(context.Background(), "clip",
		logging.String("signal", signal), logging.String("clip", clip), logging.Any("at", at))
}

func (e LogEffects) ShowText(signal string, display int, text string, visible bool) {
	e.Log.Debug(context.Background(), "display",
		logging.String("signal", signal), logging.Int("display", display),
		logging.String("text", text), logging.Bool("visible", visible))
}
