package signal

import "time"

// sequence rotates a light pattern while its aspect is active. Each step
// shifts the pattern by one lamp.
type sequence struct {
	def    SequenceDefinition
	offset int
	event  string
	active bool
}

func (q *sequence) period() time.Duration {
	if q.def.Timing <= 0 {
		return time.Second
	}
	return time.Duration(q.def.Timing * float64(time.Second))
}

func (q *sequence) size() int {
	return min(len(q.def.Lights), len(q.def.States))
}

func (q *sequence) start(c *Controller) {
	if q.active || q.size() == 0 {
		return
	}
	q.active = true
	q.offset = 0
	q.step(c)
}

// step shows the pattern at the current offset and schedules the next one.
func (q *sequence) step(c *Controller) {
	if !q.active || !c.Alive() {
		return
	}
	n := q.size()
	for i := range n {
		state := LightOff
		if q.def.States[i] {
			state = LightOn
		}
		c.env.Effects.SetLight(c.Name(), q.def.Lights[(i+q.offset)%n], state)
	}
	q.offset = (q.offset + 1) % n
	q.event = c.after(q.period(), func() { q.step(c) })
}

func (q *sequence) stop(c *Controller) {
	if !q.active {
		return
	}
	q.active = false
	c.cancel(q.event)
	q.event = ""
	for _, l := range q.def.Lights {
		c.env.Effects.SetLight(c.Name(), l, LightOff)
	}
}
