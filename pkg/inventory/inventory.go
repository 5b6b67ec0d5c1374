// Package inventory holds the record types shared by the location, completion,
// assignment and reconcile engines, and the Session that owns them.
package inventory

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrAreaNotFound  = errors.New("area not found")
	ErrAssetExists   = errors.New("asset already exists")
	ErrUserExists    = errors.New("user already exists")
)

// AreaState is the derived completion state of an area.
type AreaState string

const (
	AreaPending   AreaState = "pending"
	AreaCompleted AreaState = "completed"
	AreaClosed    AreaState = "closed"
)

// Asset is one physical item being tracked.
type Asset struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	Serial      string `json:"serial"`
	OriginArea  string `json:"origin_area"`

	Located        bool    `json:"located"`
	AssignedUser   *string `json:"assigned_user,omitempty"`
	AnchorLocation *string `json:"anchor_location,omitempty"`
	Mismatched     bool    `json:"mismatched"`
	LabelPending   bool    `json:"label_pending"`

	Notes    string  `json:"notes,omitempty"`
	PhotoRef *string `json:"photo_ref,omitempty"`
}

// Holder returns the name of the user the asset is located to, or "".
func (a *Asset) Holder() string {
	if a.AssignedUser == nil {
		return ""
	}
	return *a.AssignedUser
}

// Anchor returns the anchor location, or "".
func (a *Asset) Anchor() string {
	if a.AnchorLocation == nil {
		return ""
	}
	return *a.AnchorLocation
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	c := *a
	c.AssignedUser = cloneString(a.AssignedUser)
	c.AnchorLocation = cloneString(a.AnchorLocation)
	c.PhotoRef = cloneString(a.PhotoRef)
	return &c
}

// User is a holder assets can be located to. Locations is ordered and the
// first entry is the primary location.
type User struct {
	Name      string   `json:"name"`
	Area      string   `json:"area"`
	Locations []string `json:"locations"`
}

// Primary returns the user's first location, or "".
func (u *User) Primary() string {
	if len(u.Locations) == 0 {
		return ""
	}
	return u.Locations[0]
}

// HasLocation reports whether loc is one of the user's locations.
func (u *User) HasLocation(loc string) bool {
	for _, l := range u.Locations {
		if l == loc {
			return true
		}
	}
	return false
}

// Validate checks the user record shape.
func (u *User) Validate() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Name, validation.Required, validation.By(notBlank)),
		validation.Field(&u.Area, validation.Required, validation.By(notBlank)),
		validation.Field(&u.Locations, validation.Required, validation.Each(validation.Required, validation.By(notBlank))),
	)
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	c := *u
	c.Locations = append([]string(nil), u.Locations...)
	return &c
}

// Area groups assets by their origin area.
type Area struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	State  AreaState `json:"state"`
	Closed bool      `json:"closed"`
}

// LocationCounter maps a canonical location base to the number of location
// strings issued under it.
type LocationCounter map[string]int

// Clone copies the counter map.
func (c LocationCounter) Clone() LocationCounter {
	out := make(LocationCounter, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// RawRecord is one row of an incoming snapshot, already parsed by the
// spreadsheet collaborator.
type RawRecord struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	Serial      string `json:"serial"`
	OriginArea  string `json:"origin_area"`

	// Sheet and Row locate the record in its source, for error reporting.
	Sheet string `json:"sheet,omitempty"`
	Row   int    `json:"row,omitempty"`
}

// Validate reports whether the record carries the fields reconciliation needs.
func (r RawRecord) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Key, validation.Required, validation.By(notBlank)),
		validation.Field(&r.OriginArea, validation.Required, validation.By(notBlank)),
	)
}

// NewAsset builds a default-state asset from a raw record.
func NewAsset(r RawRecord) *Asset {
	return &Asset{
		Key:         strings.TrimSpace(r.Key),
		Description: r.Description,
		Brand:       r.Brand,
		Model:       r.Model,
		Serial:      r.Serial,
		OriginArea:  strings.TrimSpace(r.OriginArea),
	}
}

// InventoryState is the whole-inventory completion latch.
type InventoryState struct {
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func notBlank(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
