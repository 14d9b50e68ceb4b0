package signal

import (
	"math"
	"strconv"

	"github.com/signalsfoundry/rail-signals/core"
)

// Built-in display type names.
const (
	DisplaySignalName     = "signal_name"
	DisplayJunctionBranch = "junction_branch"
	DisplayTrackID        = "track_id"
	DisplayDistance       = "distance_to_next"
	DisplayStatic         = "static"
	DisplayNextStation    = "next_station"
)

// Display renders the text of one display from the controller's last walk.
type Display interface {
	Text(c *Controller) string
}

// SignalNameDisplay shows the signal's name.
type SignalNameDisplay struct{}

func (SignalNameDisplay) Text(c *Controller) string { return c.Name() }

// JunctionBranchDisplay shows the selected branch of the signal's junction.
type JunctionBranchDisplay struct {
	OffsetByOne bool `json:"offset_by_one"`
	TowardsOnly bool `json:"towards_only"`
}

func (d JunctionBranchDisplay) Text(c *Controller) string {
	j := c.Junction()
	if j == nil {
		return ""
	}
	if d.TowardsOnly && !c.Facing().IsOut() {
		return ""
	}
	branch := j.Selected()
	if d.OffsetByOne {
		branch++
	}
	return strconv.Itoa(branch)
}

// TrackIDDisplay shows the first numbered track ahead.
type TrackIDDisplay struct {
	// Format is "number" (default), "number_type" or "full".
	Format   string `json:"format"`
	NoNumber string `json:"no_number"`
}

func (d TrackIDDisplay) Text(c *Controller) string {
	var text string
	if c.Junction() != nil {
		info := c.LastInfo()
		switch d.Format {
		case "number_type":
			text = info.NextTrackSign()
		case "full":
			text = info.NextTrackFullSign()
		default:
			text = info.NextTrackNumber()
		}
	}
	if text == "" {
		return d.NoNumber
	}
	return text
}

// DistanceDisplay shows the distance to the next signal in kilometres with
// one decimal, or nothing when it rounds to zero. Distant signals show their
// placement distance from the home signal.
type DistanceDisplay struct{}

func (DistanceDisplay) Text(c *Controller) string {
	d := c.distance
	if c.home == nil {
		d = c.LastInfo().Distance()
	}
	km := math.Round(d/100) / 10
	if km <= 0 {
		return ""
	}
	return strconv.FormatFloat(km, 'f', -1, 64)
}

// StaticDisplay always shows the same text.
type StaticDisplay struct {
	Value string `json:"text"`
}

func (d StaticDisplay) Text(*Controller) string { return d.Value }

// NextStationDisplay shows the yard of the first numbered track ahead. With
// search mode "until_found" it keeps walking past the next signal.
type NextStationDisplay struct {
	SearchMode string `json:"search_mode"`
	NoResult   string `json:"no_result"`
}

func (d NextStationDisplay) Text(c *Controller) string {
	info := c.LastInfo()
	text := info.NextStation()
	if text == "" && d.SearchMode == "until_found" && info.LastSegment != nil {
		text = core.Walk(info.LastSegment, info.LastDirection, nil).NextStation()
	}
	if text == "" {
		return d.NoResult
	}
	return text
}

// displayState tracks one display instance on a controller.
type displayState struct {
	def     DisplayDefinition
	impl    Display
	text    string
	updated bool
	off     bool
}

// refresh re-renders when the mode allows it and reports whether the
// display's visible output changed.
func (d *displayState) refresh(c *Controller, aspectChanged bool) bool {
	if d.def.DisableWhenOff && !c.IsOn() {
		if d.off {
			return false
		}
		d.off, d.updated = true, false
		return true
	}
	wasOff := d.off
	d.off = false

	switch d.def.Mode {
	case DisplayAtStart:
		if d.updated {
			return wasOff
		}
	case DisplayOnAspectChange:
		if !aspectChanged && d.updated {
			return wasOff
		}
	}
	d.updated = true
	text := d.impl.Text(c)
	if text == d.text {
		return wasOff
	}
	d.text = text
	return true
}
