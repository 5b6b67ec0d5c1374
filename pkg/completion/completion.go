// Package completion derives per-area and whole-inventory completion from the
// located flags of assets. State is always recomputed from the assets rather
// than tracked incrementally.
package completion

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"asset-census-api/pkg/inventory"
)

var ErrAreaClosed = errors.New("area is closed")

// Transition records an area moving between states.
type Transition struct {
	Area string              `json:"area"`
	From inventory.AreaState `json:"from"`
	To   inventory.AreaState `json:"to"`
}

// Tracker re-evaluates completion state on a session.
type Tracker struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker returns a tracker that logs transitions to logger. A nil logger
// discards output.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{logger: logger, now: time.Now}
}

// AreaComplete reports whether the area has at least one asset and every
// asset with that origin area is located.
func AreaComplete(s *inventory.Session, areaID string) bool {
	assets := s.AssetsInArea(areaID)
	if len(assets) == 0 {
		return false
	}
	for _, a := range assets {
		if !a.Located {
			return false
		}
	}
	return true
}

// InventoryComplete reports whether every asset in the session is located.
// An empty session is not complete.
func InventoryComplete(s *inventory.Session) bool {
	if len(s.Assets) == 0 {
		return false
	}
	for _, a := range s.Assets {
		if !a.Located {
			return false
		}
	}
	return true
}

// EvaluateArea recomputes the state of one area. Closed areas are left
// untouched. The returned transition is nil when the state did not change.
func (t *Tracker) EvaluateArea(s *inventory.Session, areaID string) *Transition {
	area := s.EnsureArea(areaID)
	if area.Closed {
		area.State = inventory.AreaClosed
		return nil
	}
	next := inventory.AreaPending
	if AreaComplete(s, area.ID) {
		next = inventory.AreaCompleted
	}
	if area.State == next {
		return nil
	}
	tr := &Transition{Area: area.ID, From: area.State, To: next}
	area.State = next
	t.logger.Info("area state changed",
		zap.String("area", tr.Area),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)))
	return tr
}

// EvaluateInventory latches the whole-inventory flag the first time every
// asset is located. It reports whether the latch was set by this call. The
// flag is never cleared.
func (t *Tracker) EvaluateInventory(s *inventory.Session) bool {
	if s.Inventory.Completed || !InventoryComplete(s) {
		return false
	}
	now := t.now().UTC()
	s.Inventory.Completed = true
	s.Inventory.CompletedAt = &now
	t.logger.Info("inventory completed", zap.Int("assets", len(s.Assets)))
	return true
}

// Evaluate re-evaluates the given areas and then the inventory latch.
func (t *Tracker) Evaluate(s *inventory.Session, areaIDs ...string) []Transition {
	var out []Transition
	seen := make(map[string]bool, len(areaIDs))
	for _, id := range areaIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if tr := t.EvaluateArea(s, id); tr != nil {
			out = append(out, *tr)
		}
	}
	t.EvaluateInventory(s)
	return out
}

// EvaluateAll re-evaluates every area referenced by an asset or already
// known to the session, then the inventory latch.
func (t *Tracker) EvaluateAll(s *inventory.Session) []Transition {
	ids := make([]string, 0, len(s.Areas))
	for _, a := range s.AssetList() {
		s.EnsureArea(a.OriginArea)
	}
	for _, a := range s.AreaList() {
		ids = append(ids, a.ID)
	}
	return t.Evaluate(s, ids...)
}

// Close marks an area closed. Closing is terminal; closing an already closed
// area returns ErrAreaClosed.
func (t *Tracker) Close(s *inventory.Session, areaID string) error {
	area, ok := s.Areas[areaID]
	if !ok {
		return inventory.ErrAreaNotFound
	}
	if area.Closed {
		return ErrAreaClosed
	}
	from := area.State
	area.Closed = true
	area.State = inventory.AreaClosed
	t.logger.Info("area closed", zap.String("area", areaID), zap.String("from", string(from)))
	return nil
}

// Progress summarizes one area for reporting.
type Progress struct {
	Area       string              `json:"area"`
	Name       string              `json:"name"`
	State      inventory.AreaState `json:"state"`
	Total      int                 `json:"total"`
	Located    int                 `json:"located"`
	Mismatched int                 `json:"mismatched"`
	Complete   bool                `json:"complete"`
}

// Report is the dashboard view of completion.
type Report struct {
	Areas       []Progress `json:"areas"`
	Total       int        `json:"total"`
	Located     int        `json:"located"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BuildReport summarizes every area in the session.
func BuildReport(s *inventory.Session) Report {
	r := Report{
		Total:       len(s.Assets),
		Completed:   s.Inventory.Completed,
		CompletedAt: s.Inventory.CompletedAt,
		Areas:       []Progress{},
	}
	for _, area := range s.AreaList() {
		p := Progress{Area: area.ID, Name: area.Name, State: area.State}
		for _, a := range s.AssetsInArea(area.ID) {
			p.Total++
			if a.Located {
				p.Located++
			}
			if a.Mismatched {
				p.Mismatched++
			}
		}
		p.Complete = p.Total > 0 && p.Located == p.Total
		r.Located += p.Located
		r.Areas = append(r.Areas, p)
	}
	return r
}
