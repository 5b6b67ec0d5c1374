// Package assignment locates assets to users and releases them again.
package assignment

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"asset-census-api/pkg/completion"
	"asset-census-api/pkg/inventory"
)

// Result describes what an Assign or Unassign call did.
type Result struct {
	Key            string                  `json:"key"`
	Changed        bool                    `json:"changed"`
	PreviousHolder string                  `json:"previous_holder,omitempty"`
	Holder         string                  `json:"holder,omitempty"`
	Location       string                  `json:"location,omitempty"`
	Mismatched     bool                    `json:"mismatched"`
	Transitions    []completion.Transition `json:"transitions,omitempty"`
}

// Engine applies locate and un-locate mutations and keeps completion state
// in step with them.
type Engine struct {
	tracker *completion.Tracker
	logger  *zap.Logger
}

// NewEngine returns an engine that re-evaluates completion through tracker.
func NewEngine(tracker *completion.Tracker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = completion.NewTracker(logger)
	}
	return &Engine{tracker: tracker, logger: logger}
}

// Assign locates the asset to the user at preciseLocation. An empty
// preciseLocation anchors the asset at the user's primary location.
// Assigning to the current holder at the current location changes nothing.
func (e *Engine) Assign(s *inventory.Session, key, userName, preciseLocation string) (Result, error) {
	asset, err := s.Asset(key)
	if err != nil {
		return Result{}, fmt.Errorf("assign %q: %w", key, err)
	}
	user, err := s.User(userName)
	if err != nil {
		return Result{}, fmt.Errorf("assign %q to %q: %w", key, userName, err)
	}

	loc := strings.TrimSpace(preciseLocation)
	if loc == "" {
		loc = user.Primary()
	}
	mismatched := asset.OriginArea != user.Area

	res := Result{
		Key:        asset.Key,
		Holder:     user.Name,
		Location:   loc,
		Mismatched: mismatched,
	}
	if asset.Located && asset.Holder() == user.Name && asset.Anchor() == loc && asset.Mismatched == mismatched {
		return res, nil
	}

	prev := ""
	if asset.Located {
		prev = asset.Holder()
	}
	asset.Located = true
	asset.AssignedUser = inventory.StringPtr(user.Name)
	asset.AnchorLocation = inventory.StringPtr(loc)
	asset.Mismatched = mismatched

	res.Changed = true
	if prev != "" && prev != user.Name {
		res.PreviousHolder = prev
		e.logger.Info("asset reassigned",
			zap.String("asset", asset.Key),
			zap.String("previous_holder", prev),
			zap.String("holder", user.Name),
			zap.String("location", loc))
	} else {
		e.logger.Debug("asset located",
			zap.String("asset", asset.Key),
			zap.String("holder", user.Name),
			zap.String("location", loc),
			zap.Bool("mismatched", mismatched))
	}
	res.Transitions = e.tracker.Evaluate(s, asset.OriginArea)
	return res, nil
}

// Unassign clears the location of an asset. Un-locating an asset that is not
// located changes nothing.
func (e *Engine) Unassign(s *inventory.Session, key string) (Result, error) {
	asset, err := s.Asset(key)
	if err != nil {
		return Result{}, fmt.Errorf("unassign %q: %w", key, err)
	}
	res := Result{Key: asset.Key}
	if !asset.Located && asset.AssignedUser == nil && asset.AnchorLocation == nil && !asset.Mismatched {
		return res, nil
	}
	res.PreviousHolder = asset.Holder()
	unlocate(asset)
	res.Changed = true
	e.logger.Debug("asset un-located", zap.String("asset", asset.Key), zap.String("previous_holder", res.PreviousHolder))
	res.Transitions = e.tracker.Evaluate(s, asset.OriginArea)
	return res, nil
}

// RefreshHolder recomputes the mismatch flag of every asset held by the user,
// after the user's area changed. It returns the keys whose flag flipped.
func (e *Engine) RefreshHolder(s *inventory.Session, userName string) ([]string, error) {
	user, err := s.User(userName)
	if err != nil {
		return nil, fmt.Errorf("refresh %q: %w", userName, err)
	}
	var flipped []string
	for _, a := range s.AssetsHeldBy(user.Name) {
		m := a.OriginArea != user.Area
		if a.Mismatched != m {
			a.Mismatched = m
			flipped = append(flipped, a.Key)
		}
	}
	return flipped, nil
}

// ReleaseHolder un-locates every asset held by the named user. It is used
// before the user is deleted, since assets only reference users by name.
func (e *Engine) ReleaseHolder(s *inventory.Session, userName string) []string {
	var released []string
	var areas []string
	for _, a := range s.AssetsHeldBy(userName) {
		unlocate(a)
		released = append(released, a.Key)
		areas = append(areas, a.OriginArea)
	}
	if len(released) > 0 {
		e.logger.Info("released assets of holder", zap.String("holder", userName), zap.Int("assets", len(released)))
		e.tracker.Evaluate(s, areas...)
	}
	return released
}

func unlocate(a *inventory.Asset) {
	a.Located = false
	a.AssignedUser = nil
	a.AnchorLocation = nil
	a.Mismatched = false
}
