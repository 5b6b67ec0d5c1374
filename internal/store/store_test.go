package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-census-api/pkg/inventory"
)

func seed() *inventory.Session {
	s := inventory.NewSession()
	s.Assets["1"] = &inventory.Asset{Key: "1", Description: "Silla", OriginArea: "ADM"}
	s.Assets["2"] = &inventory.Asset{Key: "2", Description: "Mesa", OriginArea: "ADM"}
	s.Users["ana"] = &inventory.User{Name: "ana", Area: "ADM", Locations: []string{"OFICINA01"}}
	s.Users["luis"] = &inventory.User{Name: "luis", Area: "TI", Locations: []string{"SALA01"}}
	s.EnsureArea("ADM")
	s.Counter["OFICINA"] = 1
	s.Counter["SALA"] = 1
	return s
}

func TestDelta_NoChange(t *testing.T) {
	s := seed()
	assert.True(t, Delta(s, s.Clone()).Empty())
}

func TestDelta(t *testing.T) {
	before := seed()
	after := before.Clone()

	after.Assets["1"].Located = true
	after.Assets["1"].AssignedUser = inventory.StringPtr("ana")
	delete(after.Assets, "2")
	after.Assets["3"] = &inventory.Asset{Key: "3", OriginArea: "TI"}
	after.EnsureArea("TI")
	after.Areas["ADM"].State = inventory.AreaCompleted
	delete(after.Users, "luis")
	after.Users["ana"].Locations = append(after.Users["ana"].Locations, "BODEGA01")
	after.Counter["BODEGA"] = 1
	now := time.Now()
	after.Inventory = inventory.InventoryState{Completed: true, CompletedAt: &now}

	m := Delta(before, after)
	assert.Equal(t, []string{"1", "3"}, assetKeys(m.PutAssets))
	assert.Equal(t, []string{"2"}, m.DeleteAssets)
	require.Len(t, m.PutUsers, 1)
	assert.Equal(t, "ana", m.PutUsers[0].Name)
	assert.Equal(t, []string{"luis"}, m.DeleteUsers)
	require.Len(t, m.PutAreas, 2)
	assert.Empty(t, m.DeleteAreas)
	assert.Equal(t, inventory.LocationCounter{"OFICINA": 1, "SALA": 1, "BODEGA": 1}, m.Counter)
	require.NotNil(t, m.Inventory)
	assert.True(t, m.Inventory.Completed)
}

func TestMemory_CommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(seed())

	live, err := st.Load(ctx)
	require.NoError(t, err)
	next := live.Clone()
	next.Assets["2"].Notes = "rayada"
	delete(next.Assets, "1")
	next.Counter["OFICINA"] = 2

	require.NoError(t, st.Commit(ctx, Delta(live, next)))
	assert.Equal(t, 1, st.Commits())

	loaded, err := st.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(next, loaded); diff != "" {
		t.Errorf("loaded session mismatch (-want +got):\n%s", diff)
	}
}

func TestMemory_FailCommit(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(seed())
	boom := errors.New("disk full")
	st.FailCommit = boom

	live, _ := st.Load(ctx)
	next := live.Clone()
	delete(next.Assets, "1")

	assert.ErrorIs(t, st.Commit(ctx, Delta(live, next)), boom)
	loaded, _ := st.Load(ctx)
	assert.Contains(t, loaded.Assets, "1")
	assert.Equal(t, 0, st.Commits())

	// The failure is one-shot.
	require.NoError(t, st.Commit(ctx, Delta(live, next)))
}

func TestMemory_LoadReturnsCopy(t *testing.T) {
	st := NewMemory(seed())
	s, _ := st.Load(context.Background())
	s.Assets["1"].Description = "changed"

	again, _ := st.Load(context.Background())
	assert.Equal(t, "Silla", again.Assets["1"].Description)
}

func TestMemory_Operator(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(nil)
	id := st.AddOperator(Operator{Email: " Coord@Example.com", Roles: []string{"coordinator"}, Active: true})
	st.AddOperator(Operator{Email: "gone@example.com", Active: false})

	op, err := st.Operator(ctx, "coord@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, op.ID)
	assert.Equal(t, []string{"coordinator"}, op.Roles)

	_, err = st.Operator(ctx, "gone@example.com")
	assert.ErrorIs(t, err, ErrOperatorNotFound)

	require.NoError(t, st.RecordLogin(ctx, id))
	op, _ = st.Operator(ctx, "coord@example.com")
	assert.NotNil(t, op.LastLoginAt)
	assert.ErrorIs(t, st.RecordLogin(ctx, 99), ErrOperatorNotFound)
}

func assetKeys(assets []*inventory.Asset) []string {
	out := []string{}
	for _, a := range assets {
		out = append(out, a.Key)
	}
	return out
}
