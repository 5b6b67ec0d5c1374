package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-census-api/pkg/inventory"
)

func trackedSession() *inventory.Session {
	s := newSession(
		&inventory.Asset{
			Key: "A", Description: "Silla", Brand: "Ikea", OriginArea: "ADM",
			Located: true, AssignedUser: inventory.StringPtr("luis"), AnchorLocation: inventory.StringPtr("SALA01"),
			Mismatched: true, Notes: "pata rota", PhotoRef: inventory.StringPtr("a.jpg"),
		},
		&inventory.Asset{Key: "B", Description: "Mesa", OriginArea: "ADM", PhotoRef: inventory.StringPtr("b.jpg")},
		&inventory.Asset{Key: "T", Description: "Servidor", OriginArea: "TI", Located: true, AssignedUser: inventory.StringPtr("luis")},
	)
	s.Users["luis"] = &inventory.User{Name: "luis", Area: "TI", Locations: []string{"SALA01"}}
	return s
}

func diff(t *testing.T, s *inventory.Session, incoming ...inventory.RawRecord) (*Engine, *ChangeSet) {
	t.Helper()
	e := NewEngine(DefaultOptions(), nil, nil)
	cs, err := e.Diff(context.Background(), s.Assets, incoming)
	require.NoError(t, err)
	return e, cs
}

func TestApply_ModifiedPreservesTracking(t *testing.T) {
	s := trackedSession()
	e, cs := diff(t, s,
		inventory.RawRecord{Key: "A", Description: "Silla ergonomica", Brand: "IKEA ", OriginArea: "ADM"},
		inventory.RawRecord{Key: "B", Description: "Mesa", OriginArea: "ADM"},
	)
	require.Len(t, cs.Modified, 1)

	res, err := e.Apply(s, cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Updated)

	a := s.Assets["A"]
	assert.Equal(t, "Silla ergonomica", a.Description)
	assert.Equal(t, "Ikea", a.Brand, "fields equal after normalization are not rewritten")
	assert.True(t, a.Located)
	assert.Equal(t, "luis", a.Holder())
	assert.Equal(t, "SALA01", a.Anchor())
	assert.True(t, a.Mismatched)
	assert.Equal(t, "pata rota", a.Notes)
	require.NotNil(t, a.PhotoRef)
	assert.Equal(t, "a.jpg", *a.PhotoRef)
}

func TestApply_RemovedRequiresConfirmation(t *testing.T) {
	s := trackedSession()
	e, cs := diff(t, s, inventory.RawRecord{Key: "A", Description: "Silla", Brand: "Ikea", OriginArea: "ADM"})
	require.Equal(t, []string{"B"}, keys(cs.Removed))

	res, err := e.Apply(s, cs)
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)
	assert.Contains(t, s.Assets, "B")

	require.NoError(t, cs.Select("B", true))
	res, err = e.Apply(s, cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Deleted)
	assert.Equal(t, []string{"b.jpg"}, res.Photos)
	assert.NotContains(t, s.Assets, "B")
}

func TestApply_AddedDefaultState(t *testing.T) {
	s := trackedSession()
	e, cs := diff(t, s,
		inventory.RawRecord{Key: "A", Description: "Silla", Brand: "Ikea", OriginArea: "ADM"},
		inventory.RawRecord{Key: "B", Description: "Mesa", OriginArea: "ADM"},
		inventory.RawRecord{Key: "N", Description: "Proyector", OriginArea: "BODEGA"},
	)
	res, err := e.Apply(s, cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"N"}, res.Inserted)

	n := s.Assets["N"]
	require.NotNil(t, n)
	assert.False(t, n.Located)
	assert.Nil(t, n.AssignedUser)
	assert.Nil(t, n.AnchorLocation)
	assert.False(t, n.Mismatched)
	assert.Contains(t, s.Areas, "BODEGA")
	assert.Equal(t, inventory.AreaPending, s.Areas["BODEGA"].State)
}

func TestApply_RemovalCompletesArea(t *testing.T) {
	s := trackedSession()
	e, cs := diff(t, s, inventory.RawRecord{Key: "A", Description: "Silla", Brand: "Ikea", OriginArea: "ADM"})
	require.NoError(t, cs.Select("B", true))

	res, err := e.Apply(s, cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"ADM"}, res.Areas)
	assert.Equal(t, inventory.AreaCompleted, s.Areas["ADM"].State)
	assert.True(t, s.Inventory.Completed)
}

func TestApply_StaleChangeSetLeavesSessionUntouched(t *testing.T) {
	s := trackedSession()
	e, cs := diff(t, s,
		inventory.RawRecord{Key: "A", Description: "Silla nueva", Brand: "Ikea", OriginArea: "ADM"},
		inventory.RawRecord{Key: "N", Description: "Proyector", OriginArea: "ADM"},
	)
	require.NoError(t, cs.Select("B", true))

	// B disappears between review and apply.
	delete(s.Assets, "B")
	before := s.Clone()

	_, err := e.Apply(s, cs)
	assert.ErrorIs(t, err, ErrStaleChangeSet)
	assert.Equal(t, before.Assets, s.Assets)
	assert.NotContains(t, s.Assets, "N")
}

func TestApply_EditAfterDiffIsStale(t *testing.T) {
	s := trackedSession()
	e, cs := diff(t, s,
		inventory.RawRecord{Key: "A", Description: "Silla nueva", Brand: "Ikea", OriginArea: "ADM"},
		inventory.RawRecord{Key: "B", Description: "Mesa", OriginArea: "ADM"},
	)
	require.Len(t, cs.Modified, 1)

	// A correction lands between review and apply.
	s.Assets["A"].Description = "Escritorio corregido"
	before := s.Clone()

	_, err := e.Apply(s, cs)
	assert.ErrorIs(t, err, ErrStaleChangeSet)
	assert.Equal(t, before.Assets, s.Assets)
	assert.Equal(t, "Escritorio corregido", s.Assets["A"].Description)
}

func TestApply_CosmeticEditAfterDiffIsNotStale(t *testing.T) {
	s := trackedSession()
	e, cs := diff(t, s,
		inventory.RawRecord{Key: "A", Description: "Silla nueva", Brand: "Ikea", OriginArea: "ADM"},
		inventory.RawRecord{Key: "B", Description: "Mesa", OriginArea: "ADM"},
	)

	s.Assets["A"].Brand = "  IKEA "
	res, err := e.Apply(s, cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Updated)
	assert.Equal(t, "Silla nueva", s.Assets["A"].Description)
}

func TestApply_UnselectedModifiedIsSkipped(t *testing.T) {
	s := trackedSession()
	e, cs := diff(t, s,
		inventory.RawRecord{Key: "A", Description: "Otra", Brand: "Ikea", OriginArea: "ADM"},
		inventory.RawRecord{Key: "B", Description: "Mesa", OriginArea: "ADM"},
	)
	require.NoError(t, cs.Select("A", false))
	res, err := e.Apply(s, cs)
	require.NoError(t, err)
	assert.Empty(t, res.Updated)
	assert.Equal(t, "Silla", s.Assets["A"].Description)
}
