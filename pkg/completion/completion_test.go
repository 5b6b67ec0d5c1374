package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-census-api/pkg/inventory"
)

func sessionWith(assets ...*inventory.Asset) *inventory.Session {
	s := inventory.NewSession()
	for _, a := range assets {
		s.Assets[a.Key] = a
		s.EnsureArea(a.OriginArea)
	}
	return s
}

func TestAreaComplete(t *testing.T) {
	s := sessionWith(
		&inventory.Asset{Key: "1", OriginArea: "ADM", Located: true},
		&inventory.Asset{Key: "2", OriginArea: "ADM", Located: false},
		&inventory.Asset{Key: "3", OriginArea: "TI", Located: true},
	)
	assert.False(t, AreaComplete(s, "ADM"))
	assert.True(t, AreaComplete(s, "TI"))
	assert.False(t, AreaComplete(s, "EMPTY"), "an area with no assets is never complete")
}

func TestEvaluateArea_Transitions(t *testing.T) {
	s := sessionWith(
		&inventory.Asset{Key: "1", OriginArea: "ADM"},
		&inventory.Asset{Key: "2", OriginArea: "ADM"},
	)
	tr := NewTracker(nil)

	assert.Nil(t, tr.EvaluateArea(s, "ADM"))
	assert.Equal(t, inventory.AreaPending, s.Areas["ADM"].State)

	s.Assets["1"].Located = true
	s.Assets["2"].Located = true
	got := tr.EvaluateArea(s, "ADM")
	require.NotNil(t, got)
	assert.Equal(t, Transition{Area: "ADM", From: inventory.AreaPending, To: inventory.AreaCompleted}, *got)

	s.Assets["2"].Located = false
	got = tr.EvaluateArea(s, "ADM")
	require.NotNil(t, got)
	assert.Equal(t, inventory.AreaPending, got.To)
}

func TestClose_DisablesAutomaticTransitions(t *testing.T) {
	s := sessionWith(&inventory.Asset{Key: "1", OriginArea: "ADM", Located: true})
	tr := NewTracker(nil)
	tr.Evaluate(s, "ADM")
	require.Equal(t, inventory.AreaCompleted, s.Areas["ADM"].State)

	require.NoError(t, tr.Close(s, "ADM"))
	assert.ErrorIs(t, tr.Close(s, "ADM"), ErrAreaClosed)
	assert.ErrorIs(t, tr.Close(s, "NOPE"), inventory.ErrAreaNotFound)

	s.Assets["1"].Located = false
	assert.Nil(t, tr.EvaluateArea(s, "ADM"))
	assert.Equal(t, inventory.AreaClosed, s.Areas["ADM"].State)
}

func TestEvaluateInventory_Latches(t *testing.T) {
	s := sessionWith(
		&inventory.Asset{Key: "1", OriginArea: "ADM", Located: true},
		&inventory.Asset{Key: "2", OriginArea: "TI"},
	)
	tr := NewTracker(nil)

	assert.False(t, tr.EvaluateInventory(s))
	assert.False(t, s.Inventory.Completed)

	s.Assets["2"].Located = true
	assert.True(t, tr.EvaluateInventory(s))
	assert.True(t, s.Inventory.Completed)
	require.NotNil(t, s.Inventory.CompletedAt)

	s.Assets["1"].Located = false
	tr.Evaluate(s, "ADM")
	assert.True(t, s.Inventory.Completed, "the inventory flag never reverts")
	assert.False(t, tr.EvaluateInventory(s))
}

func TestEvaluateInventory_EmptySession(t *testing.T) {
	s := inventory.NewSession()
	assert.False(t, NewTracker(nil).EvaluateInventory(s))
}

func TestEvaluateAll(t *testing.T) {
	s := inventory.NewSession()
	s.Assets["1"] = &inventory.Asset{Key: "1", OriginArea: "ADM", Located: true}
	s.Assets["2"] = &inventory.Asset{Key: "2", OriginArea: "TI"}

	trs := NewTracker(nil).EvaluateAll(s)
	require.Len(t, s.Areas, 2)
	assert.Equal(t, inventory.AreaCompleted, s.Areas["ADM"].State)
	assert.Equal(t, inventory.AreaPending, s.Areas["TI"].State)
	assert.Len(t, trs, 1)
}

func TestBuildReport(t *testing.T) {
	s := sessionWith(
		&inventory.Asset{Key: "1", OriginArea: "ADM", Located: true, Mismatched: true},
		&inventory.Asset{Key: "2", OriginArea: "ADM"},
		&inventory.Asset{Key: "3", OriginArea: "TI", Located: true},
	)
	NewTracker(nil).EvaluateAll(s)

	r := BuildReport(s)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 2, r.Located)
	assert.False(t, r.Completed)
	require.Len(t, r.Areas, 2)
	assert.Equal(t, Progress{Area: "ADM", Name: "ADM", State: inventory.AreaPending, Total: 2, Located: 1, Mismatched: 1}, r.Areas[0])
	assert.True(t, r.Areas[1].Complete)
}
