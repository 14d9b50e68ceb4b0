package signal

import (
	"context"

	"github.com/samber/lo"

	"github.com/signalsfoundry/rail-signals/core"
)

// Built-in rule type names.
const (
	RuleAlways         = "always"
	RuleOccupancy      = "occupancy"
	RuleNextAspect     = "next_aspect"
	RuleJunctionBranch = "junction_branch"
)

// Evaluation is what a rule sees: the controller being updated, the result
// of its walk and the occupancy resolver.
type Evaluation struct {
	Ctx       context.Context
	Signal    *Controller
	Info      *core.TrackInfo
	Occupancy *core.Occupancy
}

// Rule is a predicate over an Evaluation. Third-party rules plug in through
// RuleRegistry.Register.
type Rule interface {
	Matches(e Evaluation) bool
}

// AlwaysRule always matches. It is typically the last, open aspect.
type AlwaysRule struct{}

func (AlwaysRule) Matches(Evaluation) bool { return true }

// OccupancyRule matches when any walked segment is occupied.
type OccupancyRule struct {
	Mode core.OccupancyMode `json:"mode"`
}

func (r OccupancyRule) Matches(e Evaluation) bool {
	if e.Info == nil {
		return false
	}
	return lo.SomeBy(e.Info.Segments, func(s *core.TrackSegment) bool {
		return e.Occupancy.IsOccupied(s, r.Mode)
	})
}

// NextAspectRule matches when the next signal shows the aspect NextID.
type NextAspectRule struct {
	NextID string `json:"next_id"`
}

func (r NextAspectRule) Matches(e Evaluation) bool {
	if e.Info == nil || e.Info.Next == nil {
		return false
	}
	id, on := e.Info.Next.CurrentAspectID()
	return on && id == r.NextID
}

// JunctionBranchRule matches when the signal's junction has Branch selected.
// With IgnoreIfFacingIn it never matches on the signal facing the in branch.
type JunctionBranchRule struct {
	Branch           int  `json:"branch"`
	IgnoreIfFacingIn bool `json:"ignore_if_facing_in"`
}

func (r JunctionBranchRule) Matches(e Evaluation) bool {
	if e.Signal == nil || e.Signal.Junction() == nil {
		return false
	}
	if r.IgnoreIfFacingIn && !e.Signal.Facing().IsOut() {
		return false
	}
	return e.Signal.Junction().Selected() == r.Branch
}
