package inventory

import (
	"sort"
	"strings"
)

// Session is the full in-memory inventory state. The host application owns
// it and passes it by reference into engine operations; nothing in this
// module keeps a package-level copy.
type Session struct {
	Assets    map[string]*Asset
	Users     map[string]*User
	Areas     map[string]*Area
	Counter   LocationCounter
	Inventory InventoryState
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		Assets:  make(map[string]*Asset),
		Users:   make(map[string]*User),
		Areas:   make(map[string]*Area),
		Counter: make(LocationCounter),
	}
}

// Clone returns a deep copy. Mutations that must become visible atomically
// are applied to a clone which then replaces the original.
func (s *Session) Clone() *Session {
	c := &Session{
		Assets:    make(map[string]*Asset, len(s.Assets)),
		Users:     make(map[string]*User, len(s.Users)),
		Areas:     make(map[string]*Area, len(s.Areas)),
		Counter:   s.Counter.Clone(),
		Inventory: s.Inventory,
	}
	if s.Inventory.CompletedAt != nil {
		t := *s.Inventory.CompletedAt
		c.Inventory.CompletedAt = &t
	}
	for k, a := range s.Assets {
		c.Assets[k] = a.Clone()
	}
	for k, u := range s.Users {
		c.Users[k] = u.Clone()
	}
	for k, a := range s.Areas {
		area := *a
		c.Areas[k] = &area
	}
	return c
}

// Asset looks up an asset by key.
func (s *Session) Asset(key string) (*Asset, error) {
	a, ok := s.Assets[key]
	if !ok {
		return nil, ErrAssetNotFound
	}
	return a, nil
}

// User looks up a user by name.
func (s *Session) User(name string) (*User, error) {
	u, ok := s.Users[name]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// EnsureArea returns the area with the given id, creating it in the pending
// state if it does not exist yet.
func (s *Session) EnsureArea(id string) *Area {
	id = strings.TrimSpace(id)
	if a, ok := s.Areas[id]; ok {
		return a
	}
	a := &Area{ID: id, Name: id, State: AreaPending}
	s.Areas[id] = a
	return a
}

// AssetsInArea returns the assets whose origin area is id.
func (s *Session) AssetsInArea(id string) []*Asset {
	var out []*Asset
	for _, a := range s.Assets {
		if a.OriginArea == id {
			out = append(out, a)
		}
	}
	return out
}

// AssetsHeldBy returns the assets currently located to the named user.
func (s *Session) AssetsHeldBy(name string) []*Asset {
	var out []*Asset
	for _, a := range s.Assets {
		if a.Located && a.Holder() == name {
			out = append(out, a)
		}
	}
	sortAssets(out)
	return out
}

// AssetList returns all assets sorted by key.
func (s *Session) AssetList() []*Asset {
	out := make([]*Asset, 0, len(s.Assets))
	for _, a := range s.Assets {
		out = append(out, a)
	}
	sortAssets(out)
	return out
}

// UserList returns all users sorted by name.
func (s *Session) UserList() []*User {
	out := make([]*User, 0, len(s.Users))
	for _, u := range s.Users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AreaList returns all areas sorted by id.
func (s *Session) AreaList() []*Area {
	out := make([]*Area, 0, len(s.Areas))
	for _, a := range s.Areas {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortAssets(a []*Asset) {
	sort.Slice(a, func(i, j int) bool { return a[i].Key < a[j].Key })
}
