package reconcile

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"asset-census-api/pkg/completion"
	"asset-census-api/pkg/inventory"
)

// ApplyResult reports what Apply changed.
type ApplyResult struct {
	Inserted []string `json:"inserted"`
	Updated  []string `json:"updated"`
	Deleted  []string `json:"deleted"`
	// Photos holds the photo references of deleted assets. The caller
	// removes them from photo storage once the new state is persisted.
	Photos      []string                `json:"photos,omitempty"`
	Areas       []string                `json:"areas"`
	Transitions []completion.Transition `json:"transitions,omitempty"`
}

// Apply writes the selected entries of cs into the session. Every selected
// entry is checked against the session before anything is written, so the
// session is either fully updated or left untouched.
func (e *Engine) Apply(s *inventory.Session, cs *ChangeSet) (ApplyResult, error) {
	res := ApplyResult{Inserted: []string{}, Updated: []string{}, Deleted: []string{}, Areas: []string{}}
	if err := check(s, cs); err != nil {
		return res, err
	}

	areas := make(map[string]bool)
	for _, en := range cs.Added {
		if !en.Selected {
			continue
		}
		a := inventory.NewAsset(*en.Record)
		s.Assets[a.Key] = a
		s.EnsureArea(a.OriginArea)
		areas[a.OriginArea] = true
		res.Inserted = append(res.Inserted, a.Key)
	}
	for _, en := range cs.Modified {
		if !en.Selected {
			continue
		}
		a := s.Assets[en.Key]
		for _, f := range en.Fields {
			setField(a, f.Field, f.New)
		}
		res.Updated = append(res.Updated, a.Key)
	}
	for _, en := range cs.Removed {
		if !en.Selected {
			continue
		}
		a := s.Assets[en.Key]
		if a.PhotoRef != nil {
			res.Photos = append(res.Photos, *a.PhotoRef)
		}
		areas[a.OriginArea] = true
		delete(s.Assets, en.Key)
		res.Deleted = append(res.Deleted, en.Key)
	}

	for id := range areas {
		res.Areas = append(res.Areas, id)
	}
	sort.Strings(res.Areas)
	res.Transitions = e.tracker.Evaluate(s, res.Areas...)

	e.logger.Info("change-set applied",
		zap.Int("inserted", len(res.Inserted)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("deleted", len(res.Deleted)),
		zap.Strings("areas", res.Areas))
	return res, nil
}

func check(s *inventory.Session, cs *ChangeSet) error {
	for _, en := range cs.Added {
		if !en.Selected {
			continue
		}
		if en.Record == nil {
			return fmt.Errorf("%w: added entry %q has no record", ErrStaleChangeSet, en.Key)
		}
		if _, ok := s.Assets[en.Key]; ok {
			return fmt.Errorf("%w: %q already exists", ErrStaleChangeSet, en.Key)
		}
	}
	for _, en := range cs.Modified {
		if !en.Selected {
			continue
		}
		a, ok := s.Assets[en.Key]
		if !ok {
			return fmt.Errorf("%w: %q no longer exists", ErrStaleChangeSet, en.Key)
		}
		if en.Current != nil && !sameDescription(en.Current, a) {
			return fmt.Errorf("%w: %q was edited since the diff", ErrStaleChangeSet, en.Key)
		}
	}
	for _, en := range cs.Removed {
		if !en.Selected {
			continue
		}
		if _, ok := s.Assets[en.Key]; !ok {
			return fmt.Errorf("%w: %q no longer exists", ErrStaleChangeSet, en.Key)
		}
	}
	return nil
}

func sameDescription(a, b *inventory.Asset) bool {
	return Equal(a.Description, b.Description) &&
		Equal(a.Brand, b.Brand) &&
		Equal(a.Model, b.Model) &&
		Equal(a.Serial, b.Serial)
}

func setField(a *inventory.Asset, field, value string) {
	switch field {
	case FieldDescription:
		a.Description = value
	case FieldBrand:
		a.Brand = value
	case FieldModel:
		a.Model = value
	case FieldSerial:
		a.Serial = value
	}
}
