package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"asset-census-api/internal/auth"
	"asset-census-api/internal/photos"
	"asset-census-api/pkg/completion"
	"asset-census-api/pkg/inventory"
	"asset-census-api/pkg/reconcile"
)

// listParams holds common query parameters for list endpoints
type listParams struct {
	limit  int
	offset int
	q      string
	sort   string
}

// parseListParams parses limit, offset, q, and sort from the request
// Defaults: limit=50 (max 200), offset=0
func parseListParams(r *http.Request) listParams {
	values := r.URL.Query()

	limit := 50
	if s := strings.TrimSpace(values.Get("limit")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			if v > 200 {
				v = 200
			}
			limit = v
		}
	}

	offset := 0
	if s := strings.TrimSpace(values.Get("offset")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	return listParams{
		limit:  limit,
		offset: offset,
		q:      strings.TrimSpace(values.Get("q")),
		sort:   strings.TrimSpace(values.Get("sort")),
	}
}

// boolParam parses an optional boolean query parameter. nil means absent.
func boolParam(r *http.Request, name string) (*bool, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, errors.New(name + " must be true or false")
	}
	return &v, nil
}

// sortFunc builds a comparison from a whitelist of sort keys.
// Input sort is comma-separated; prefix with '-' for DESC. Unknown keys are
// ignored; ties and an empty sort fall back to fallback.
func sortFunc[T any](sortParam string, allowed map[string]func(T) string, fallback func(a, b T) int) func(a, b T) int {
	type key struct {
		get  func(T) string
		desc bool
	}
	var keys []key
	for _, raw := range strings.Split(sortParam, ",") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		desc := strings.HasPrefix(s, "-")
		if get, ok := allowed[strings.TrimPrefix(s, "-")]; ok {
			keys = append(keys, key{get: get, desc: desc})
		}
	}
	return func(a, b T) int {
		for _, k := range keys {
			c := strings.Compare(k.get(a), k.get(b))
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return fallback(a, b)
	}
}

// sortAndPage sorts items in place and returns the requested page.
func sortAndPage[T any](items []T, p listParams, cmp func(a, b T) int) []T {
	slices.SortStableFunc(items, cmp)
	if p.offset >= len(items) {
		return []T{}
	}
	end := p.offset + p.limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.offset:end]
}

// sendListResponse writes a page of results with paging metadata
func sendListResponse(w http.ResponseWriter, data interface{}, total int, p listParams) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": data,
		"meta": map[string]interface{}{
			"total":  total,
			"limit":  p.limit,
			"offset": p.offset,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("json encode failed", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError maps engine and store errors to HTTP responses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs):
		auth.SendErrorResponse(w, err.Error(), "VALIDATION_FAILED", http.StatusBadRequest)
	case errors.Is(err, inventory.ErrAssetNotFound):
		auth.SendErrorResponse(w, err.Error(), "ASSET_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, inventory.ErrUserNotFound):
		auth.SendErrorResponse(w, err.Error(), "USER_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, inventory.ErrAreaNotFound):
		auth.SendErrorResponse(w, err.Error(), "AREA_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, inventory.ErrUserExists):
		auth.SendErrorResponse(w, err.Error(), "USER_EXISTS", http.StatusConflict)
	case errors.Is(err, inventory.ErrAssetExists):
		auth.SendErrorResponse(w, err.Error(), "ASSET_EXISTS", http.StatusConflict)
	case errors.Is(err, completion.ErrAreaClosed):
		auth.SendErrorResponse(w, err.Error(), "AREA_CLOSED", http.StatusConflict)
	case errors.Is(err, reconcile.ErrStaleChangeSet):
		auth.SendErrorResponse(w, err.Error(), "STALE_CHANGESET", http.StatusConflict)
	case errors.Is(err, photos.ErrUnsupportedType):
		auth.SendErrorResponse(w, err.Error(), "UNSUPPORTED_MEDIA_TYPE", http.StatusUnsupportedMediaType)
	case errors.Is(err, photos.ErrTooLarge):
		auth.SendErrorResponse(w, err.Error(), "PHOTO_TOO_LARGE", http.StatusRequestEntityTooLarge)
	default:
		s.Logger.Error("request failed", zap.Error(err))
		auth.SendErrorResponse(w, "internal error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
