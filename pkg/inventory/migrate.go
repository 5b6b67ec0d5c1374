package inventory

import "strings"

// LegacyUser is the stored user shape from before users could hold several
// locations: a single Location field and no Locations list.
type LegacyUser struct {
	Name      string   `json:"name"`
	Area      string   `json:"area"`
	Location  string   `json:"location,omitempty"`
	Locations []string `json:"locations,omitempty"`
}

// MigrateLegacyUser converts a stored user into the current shape. It is run
// once when users are loaded; the rest of the code only sees User.
func MigrateLegacyUser(l LegacyUser) *User {
	u := &User{
		Name: strings.TrimSpace(l.Name),
		Area: strings.TrimSpace(l.Area),
	}
	for _, loc := range l.Locations {
		if loc = strings.TrimSpace(loc); loc != "" {
			u.Locations = append(u.Locations, loc)
		}
	}
	if len(u.Locations) == 0 {
		if loc := strings.TrimSpace(l.Location); loc != "" {
			u.Locations = []string{loc}
		}
	}
	return u
}
