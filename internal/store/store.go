// Package store persists the inventory session. The server loads the whole
// session once at startup and commits the delta of every mutation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/go-cmp/cmp"

	"asset-census-api/pkg/inventory"
)

var ErrOperatorNotFound = errors.New("operator not found")

// Store is the persistence layer behind the server.
type Store interface {
	// Load reads the full session.
	Load(ctx context.Context) (*inventory.Session, error)
	// Commit writes a mutation atomically. Nothing is written on error.
	Commit(ctx context.Context, m Mutation) error
	// Operator returns the active operator with the given email.
	Operator(ctx context.Context, email string) (*Operator, error)
	// RecordLogin stamps an operator's last login time.
	RecordLogin(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close() error
}

// Operator is an account that can log into the API.
type Operator struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Name         string     `json:"name,omitempty"`
	Roles        []string   `json:"roles"`
	Active       bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Mutation is the row-level difference between two sessions.
type Mutation struct {
	PutAssets    []*inventory.Asset
	DeleteAssets []string
	PutUsers     []*inventory.User
	DeleteUsers  []string
	PutAreas     []*inventory.Area
	DeleteAreas  []string

	// Counter is the full replacement counter, or nil when unchanged.
	Counter inventory.LocationCounter
	// Inventory is the new latch state, or nil when unchanged.
	Inventory *inventory.InventoryState
}

// Empty reports whether the mutation writes nothing.
func (m Mutation) Empty() bool {
	return len(m.PutAssets) == 0 && len(m.DeleteAssets) == 0 &&
		len(m.PutUsers) == 0 && len(m.DeleteUsers) == 0 &&
		len(m.PutAreas) == 0 && len(m.DeleteAreas) == 0 &&
		m.Counter == nil && m.Inventory == nil
}

// Delta computes the mutation that turns before into after.
func Delta(before, after *inventory.Session) Mutation {
	var m Mutation
	for _, a := range after.AssetList() {
		if old, ok := before.Assets[a.Key]; !ok || !cmp.Equal(old, a) {
			m.PutAssets = append(m.PutAssets, a)
		}
	}
	for _, a := range before.AssetList() {
		if _, ok := after.Assets[a.Key]; !ok {
			m.DeleteAssets = append(m.DeleteAssets, a.Key)
		}
	}
	for _, u := range after.UserList() {
		if old, ok := before.Users[u.Name]; !ok || !cmp.Equal(old, u) {
			m.PutUsers = append(m.PutUsers, u)
		}
	}
	for _, u := range before.UserList() {
		if _, ok := after.Users[u.Name]; !ok {
			m.DeleteUsers = append(m.DeleteUsers, u.Name)
		}
	}
	for _, a := range after.AreaList() {
		if old, ok := before.Areas[a.ID]; !ok || !cmp.Equal(old, a) {
			m.PutAreas = append(m.PutAreas, a)
		}
	}
	for _, a := range before.AreaList() {
		if _, ok := after.Areas[a.ID]; !ok {
			m.DeleteAreas = append(m.DeleteAreas, a.ID)
		}
	}
	if !cmp.Equal(before.Counter, after.Counter) {
		m.Counter = after.Counter.Clone()
	}
	if !cmp.Equal(before.Inventory, after.Inventory) {
		st := after.Inventory
		m.Inventory = &st
	}
	return m
}
