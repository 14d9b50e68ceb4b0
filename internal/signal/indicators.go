package signal

// indicator is a light group lit whenever its rule holds, independent of
// the current aspect.
type indicator struct {
	def  IndicatorDefinition
	rule Rule
}

func (in *indicator) set(c *Controller, on bool) {
	state, blink := LightOff, LightOff
	if on {
		state, blink = LightOn, LightBlinking
	}
	for _, l := range in.def.OnLights {
		c.env.Effects.SetLight(c.Name(), l, state)
	}
	for _, l := range in.def.BlinkingLights {
		c.env.Effects.SetLight(c.Name(), l, blink)
	}
}

// refreshIndicators switches every indicator off before lighting the
// matching ones, so indicators sharing a lamp never leave it dark and a
// lamp left on by anything else is reset.
func (c *Controller) refreshIndicators(e Evaluation) {
	if len(c.indicators) == 0 {
		return
	}
	matches := make([]bool, len(c.indicators))
	for i, in := range c.indicators {
		matches[i] = in.rule != nil && in.rule.Matches(e)
	}
	for _, in := range c.indicators {
		in.set(c, false)
	}
	for i, in := range c.indicators {
		if matches[i] {
			in.set(c, true)
		}
	}
}
