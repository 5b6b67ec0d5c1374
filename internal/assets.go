package internal

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"asset-census-api/internal/auth"
	"asset-census-api/pkg/assignment"
	"asset-census-api/pkg/inventory"
	"asset-census-api/pkg/reconcile"
)

const maxNotesLength = 2000

// LocateRequest locates an asset to a user. An empty Location anchors the
// asset at the user's primary location.
type LocateRequest struct {
	User     string `json:"user"`
	Location string `json:"location"`
}

func (r LocateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.User, validation.Required),
	)
}

// LabelRequest sets or clears the pending-label marker.
type LabelRequest struct {
	Pending bool `json:"pending"`
}

// NotesRequest replaces an asset's notes.
type NotesRequest struct {
	Notes string `json:"notes"`
}

func (r NotesRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Notes, validation.RuneLength(0, maxNotesLength)),
	)
}

var assetSort = map[string]func(*inventory.Asset) string{
	"key":         func(a *inventory.Asset) string { return a.Key },
	"description": func(a *inventory.Asset) string { return a.Description },
	"brand":       func(a *inventory.Asset) string { return a.Brand },
	"origin_area": func(a *inventory.Asset) string { return a.OriginArea },
	"holder":      func(a *inventory.Asset) string { return a.Holder() },
}

// listAssets handles asset listing with filters and pagination
func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	query := r.URL.Query()

	located, err := boolParam(r, "located")
	if err != nil {
		auth.SendErrorResponse(w, err.Error(), "INVALID_FILTER", http.StatusBadRequest)
		return
	}
	mismatched, err := boolParam(r, "mismatched")
	if err != nil {
		auth.SendErrorResponse(w, err.Error(), "INVALID_FILTER", http.StatusBadRequest)
		return
	}
	labelPending, err := boolParam(r, "label_pending")
	if err != nil {
		auth.SendErrorResponse(w, err.Error(), "INVALID_FILTER", http.StatusBadRequest)
		return
	}
	area := strings.TrimSpace(query.Get("area"))
	user := strings.TrimSpace(query.Get("user"))
	q := reconcile.Normalize(params.q)

	assets := []*inventory.Asset{}
	for _, a := range s.snapshot().AssetList() {
		switch {
		case area != "" && a.OriginArea != area:
			continue
		case user != "" && a.Holder() != user:
			continue
		case located != nil && a.Located != *located:
			continue
		case mismatched != nil && a.Mismatched != *mismatched:
			continue
		case labelPending != nil && a.LabelPending != *labelPending:
			continue
		case q != "" && !matchesAsset(a, q):
			continue
		}
		assets = append(assets, a)
	}

	total := len(assets)
	page := sortAndPage(assets, params, sortFunc(params.sort, assetSort, func(a, b *inventory.Asset) int {
		return strings.Compare(a.Key, b.Key)
	}))
	sendListResponse(w, page, total, params)
}

// matchesAsset reports whether the normalized query appears in the asset's
// key or descriptive fields.
func matchesAsset(a *inventory.Asset, q string) bool {
	for _, f := range []string{a.Key, a.Description, a.Brand, a.Model, a.Serial} {
		if strings.Contains(reconcile.Normalize(f), q) {
			return true
		}
	}
	return false
}

// getAsset handles getting a single asset by key
func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.snapshot().Asset(chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// deleteAsset removes an asset by hand and drops its photo.
func (s *Server) deleteAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var photo string
	err := s.mutate(r.Context(), func(next *inventory.Session) error {
		a, err := next.Asset(key)
		if err != nil {
			return err
		}
		if a.PhotoRef != nil {
			photo = *a.PhotoRef
		}
		delete(next.Assets, key)
		s.tracker.Evaluate(next, a.OriginArea)
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if photo != "" {
		s.deletePhotos(photo)
	}
	s.Logger.Info("asset deleted",
		zap.String("asset", key),
		zap.Int64("operator", auth.OperatorIDFromContext(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) locateAsset(w http.ResponseWriter, r *http.Request) {
	var req LocateRequest
	if err := decodeJSON(r, &req); err != nil {
		auth.SendErrorResponse(w, "invalid JSON body", "INVALID_JSON", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	var res assignment.Result
	err := s.mutate(r.Context(), func(next *inventory.Session) error {
		var err error
		res, err = s.assigner.Assign(next, chi.URLParam(r, "key"), strings.TrimSpace(req.User), req.Location)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Changed {
		s.Metrics.CountAssignment("locate")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) unlocateAsset(w http.ResponseWriter, r *http.Request) {
	var res assignment.Result
	err := s.mutate(r.Context(), func(next *inventory.Session) error {
		var err error
		res, err = s.assigner.Unassign(next, chi.URLParam(r, "key"))
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Changed {
		s.Metrics.CountAssignment("unlocate")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) setLabel(w http.ResponseWriter, r *http.Request) {
	var req LabelRequest
	if err := decodeJSON(r, &req); err != nil {
		auth.SendErrorResponse(w, "invalid JSON body", "INVALID_JSON", http.StatusBadRequest)
		return
	}
	s.updateAsset(w, r, func(a *inventory.Asset) { a.LabelPending = req.Pending })
}

func (s *Server) setNotes(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if err := decodeJSON(r, &req); err != nil {
		auth.SendErrorResponse(w, "invalid JSON body", "INVALID_JSON", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, err)
		return
	}
	s.updateAsset(w, r, func(a *inventory.Asset) { a.Notes = strings.TrimSpace(req.Notes) })
}

// updateAsset applies fn to the asset named in the URL and writes it back.
func (s *Server) updateAsset(w http.ResponseWriter, r *http.Request, fn func(a *inventory.Asset)) {
	var out *inventory.Asset
	err := s.mutate(r.Context(), func(next *inventory.Session) error {
		a, err := next.Asset(chi.URLParam(r, "key"))
		if err != nil {
			return err
		}
		fn(a)
		out = a
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// uploadPhoto stores a multipart "file" image and attaches it to the asset,
// replacing any previous photo.
func (s *Server) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	if s.Photos == nil {
		auth.SendErrorResponse(w, "photo storage is not configured", "PHOTOS_DISABLED", http.StatusServiceUnavailable)
		return
	}
	key := chi.URLParam(r, "key")
	if _, err := s.snapshot().Asset(key); err != nil {
		s.writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.PhotoMaxBytes+1<<20)
	file, _, err := r.FormFile("file")
	if err != nil {
		auth.SendErrorResponse(w, "file is required: "+err.Error(), "MISSING_FILE", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ref, err := s.Photos.Save(file)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var previous string
	var out *inventory.Asset
	err = s.mutate(r.Context(), func(next *inventory.Session) error {
		a, err := next.Asset(key)
		if err != nil {
			return err
		}
		if a.PhotoRef != nil {
			previous = *a.PhotoRef
		}
		a.PhotoRef = inventory.StringPtr(ref)
		out = a
		return nil
	})
	if err != nil {
		s.deletePhotos(ref)
		s.writeError(w, err)
		return
	}
	if previous != "" {
		s.deletePhotos(previous)
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getPhoto(w http.ResponseWriter, r *http.Request) {
	a, err := s.snapshot().Asset(chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if a.PhotoRef == nil || s.Photos == nil {
		auth.SendErrorResponse(w, "asset has no photo", "PHOTO_NOT_FOUND", http.StatusNotFound)
		return
	}
	f, err := s.Photos.Open(*a.PhotoRef)
	if errors.Is(err, os.ErrNotExist) {
		auth.SendErrorResponse(w, "photo file is missing", "PHOTO_NOT_FOUND", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
