package reconcile

import (
	"fmt"

	"asset-census-api/pkg/inventory"
)

// Kind classifies a change-set entry.
type Kind string

const (
	KindAdded    Kind = "added"
	KindModified Kind = "modified"
	KindRemoved  Kind = "removed"
)

// Compared descriptive fields, in report order.
const (
	FieldDescription = "description"
	FieldBrand       = "brand"
	FieldModel       = "model"
	FieldSerial      = "serial"
)

// FieldDiff is one descriptive field that differs after normalization.
type FieldDiff struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Entry is one reviewable change. Record is the incoming row (added and
// modified entries); Current is a copy of the live asset (modified and
// removed entries).
type Entry struct {
	Kind     Kind                 `json:"kind"`
	Key      string               `json:"key"`
	Selected bool                 `json:"selected"`
	Record   *inventory.RawRecord `json:"record,omitempty"`
	Current  *inventory.Asset     `json:"current,omitempty"`
	Fields   []FieldDiff          `json:"fields,omitempty"`
}

// RecordError describes an incoming record that was skipped.
type RecordError struct {
	Key     string `json:"key,omitempty"`
	Sheet   string `json:"sheet,omitempty"`
	Row     int    `json:"row,omitempty"`
	Message string `json:"message"`
}

// ChangeSet is the result of diffing a snapshot against the live assets.
// The three entry lists are disjoint by key and sorted by key.
type ChangeSet struct {
	Added    []Entry `json:"added"`
	Modified []Entry `json:"modified"`
	Removed  []Entry `json:"removed"`

	// Malformed counts incoming records skipped for missing key or area.
	Malformed     int           `json:"malformed"`
	MalformedRows []RecordError `json:"malformed_rows,omitempty"`

	// Duplicates lists keys that appeared more than once in the snapshot.
	// The last occurrence of each was used.
	Duplicates []string `json:"duplicates,omitempty"`

	// RemovalAreas lists the origin areas removal detection was limited to.
	// Empty means every current asset was a candidate.
	RemovalAreas []string `json:"removal_areas,omitempty"`
}

// Empty reports whether the change-set has no entries.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Select sets the selection of the entry with the given key.
func (c *ChangeSet) Select(key string, selected bool) error {
	e := c.find(key)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrEntryNotFound, key)
	}
	e.Selected = selected
	return nil
}

// SelectAll sets the selection of every entry of a kind.
func (c *ChangeSet) SelectAll(kind Kind, selected bool) {
	for _, list := range []*[]Entry{&c.Added, &c.Modified, &c.Removed} {
		for i := range *list {
			if (*list)[i].Kind == kind {
				(*list)[i].Selected = selected
			}
		}
	}
}

// Selected returns the number of selected entries per kind.
func (c *ChangeSet) Selected() map[Kind]int {
	out := map[Kind]int{KindAdded: 0, KindModified: 0, KindRemoved: 0}
	for _, list := range [][]Entry{c.Added, c.Modified, c.Removed} {
		for _, e := range list {
			if e.Selected {
				out[e.Kind]++
			}
		}
	}
	return out
}

func (c *ChangeSet) find(key string) *Entry {
	for _, list := range []*[]Entry{&c.Added, &c.Modified, &c.Removed} {
		for i := range *list {
			if (*list)[i].Key == key {
				return &(*list)[i]
			}
		}
	}
	return nil
}
