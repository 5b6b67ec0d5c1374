package internal

import (
	"net/http"
	"sort"

	"asset-census-api/internal/auth"
	"asset-census-api/pkg/inventory"
	"asset-census-api/pkg/location"
)

// LocationView is one location string and the users that list it.
type LocationView struct {
	Location string   `json:"location"`
	Base     string   `json:"base"`
	Users    []string `json:"users"`
}

// listLocations returns the counter map and every location held by a user
func (s *Server) listLocations(w http.ResponseWriter, r *http.Request) {
	sess := s.snapshot()
	byLoc := make(map[string]*LocationView)
	for _, u := range sess.UserList() {
		for _, loc := range u.Locations {
			v, ok := byLoc[loc]
			if !ok {
				v = &LocationView{Location: loc, Base: location.Normalize(loc)}
				byLoc[loc] = v
			}
			v.Users = append(v.Users, u.Name)
		}
	}
	views := make([]*LocationView, 0, len(byLoc))
	for _, v := range byLoc {
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Location < views[j].Location })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counters":  sess.Counter,
		"locations": views,
	})
}

// nextLocation previews the id the allocator would issue for a label
func (s *Server) nextLocation(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	base := location.Normalize(label)
	if base == "" {
		auth.SendErrorResponse(w, "label must contain a name", "INVALID_LABEL", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"base": base,
		"next": location.NewAllocator(s.snapshot()).Peek(base),
	})
}

// recomputeLocations rebuilds the counter map from every user's locations
func (s *Server) recomputeLocations(w http.ResponseWriter, r *http.Request) {
	var counts inventory.LocationCounter
	err := s.mutate(r.Context(), func(next *inventory.Session) error {
		alloc := location.NewAllocator(next)
		alloc.Recompute()
		counts = alloc.Counts()
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counters": counts})
}
