package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"asset-census-api/internal/auth"
	"asset-census-api/pkg/importer"
	"asset-census-api/pkg/inventory"
	"asset-census-api/pkg/reconcile"
)

// Inventory is the part of the server the import handlers drive.
type Inventory interface {
	Diff(ctx context.Context, records []inventory.RawRecord) (*reconcile.ChangeSet, error)
	Apply(ctx context.Context, cs *reconcile.ChangeSet) (reconcile.ApplyResult, error)
}

// ImportsHandler handles Excel import previews and applies
type ImportsHandler struct {
	Inventory   Inventory
	MaxBytes    int64
	MappingPath string
	MaxErrors   int
	TTL         time.Duration
	Logger      *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingImport
	now     func() time.Time
}

type pendingImport struct {
	ID        uuid.UUID            `json:"id"`
	Filename  string               `json:"filename"`
	CreatedBy string               `json:"created_by,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
	Summary   importer.Summary     `json:"summary"`
	Changes   *reconcile.ChangeSet `json:"changes"`
}

// ApplyRequest adjusts the default selection before applying. Keys in
// Select and Deselect must name entries of the change-set.
type ApplyRequest struct {
	Select        []string         `json:"select"`
	Deselect      []string         `json:"deselect"`
	SelectKinds   []reconcile.Kind `json:"select_kinds"`
	DeselectKinds []reconcile.Kind `json:"deselect_kinds"`
}

// NewImportsHandler creates a new imports handler
func NewImportsHandler(inv Inventory, logger *zap.Logger) *ImportsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportsHandler{
		Inventory: inv,
		MaxBytes:  20 << 20, // 20 MB
		MaxErrors: 50,
		TTL:       time.Hour,
		Logger:    logger,
		pending:   make(map[uuid.UUID]*pendingImport),
		now:       time.Now,
	}
}

// UploadExcel reads an uploaded workbook, diffs it against the live assets
// and keeps the change-set for review.
func (h *ImportsHandler) UploadExcel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		auth.SendErrorResponse(w, "content-type must be multipart/form-data", "INVALID_CONTENT_TYPE", http.StatusBadRequest)
		return
	}
	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		auth.SendErrorResponse(w, "invalid multipart form: "+err.Error(), "INVALID_FORM", http.StatusBadRequest)
		return
	}

	maxErrors := h.MaxErrors
	if v := r.FormValue("max_errors"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxErrors = n
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		auth.SendErrorResponse(w, "file is required: "+err.Error(), "MISSING_FILE", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isXLSX(header) {
		auth.SendErrorResponse(w, "only .xlsx files are accepted", "UNSUPPORTED_FILE", http.StatusBadRequest)
		return
	}

	records, sum, err := importer.Read(file, importer.Options{MappingPath: h.MappingPath, MaxErrors: maxErrors})
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "IMPORT_FAILED",
			"details": err.Error(),
			"data":    sum,
		})
		return
	}

	cs, err := h.Inventory.Diff(r.Context(), records)
	if err != nil {
		h.Logger.Error("diff failed", zap.String("file", header.Filename), zap.Error(err))
		auth.SendErrorResponse(w, "failed to compare snapshot", "DIFF_FAILED", http.StatusInternalServerError)
		return
	}

	now := h.now().UTC()
	p := &pendingImport{
		ID:        uuid.New(),
		Filename:  header.Filename,
		CreatedAt: now,
		ExpiresAt: now.Add(h.TTL),
		Summary:   sum,
		Changes:   cs,
	}
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		p.CreatedBy = claims.Email
	}

	h.mu.Lock()
	h.prune(now)
	h.pending[p.ID] = p
	h.mu.Unlock()

	h.Logger.Info("import previewed",
		zap.String("id", p.ID.String()),
		zap.String("file", p.Filename),
		zap.Int("rows", sum.Rows),
		zap.Int("added", len(cs.Added)),
		zap.Int("modified", len(cs.Modified)),
		zap.Int("removed", len(cs.Removed)),
		zap.Int("malformed", cs.Malformed))

	writeJSON(w, http.StatusOK, map[string]any{
		"data": p,
		"meta": map[string]any{
			"timestamp": now.Format(time.RFC3339),
			"selected":  cs.Selected(),
		},
	})
}

// GetImport returns a pending preview.
func (h *ImportsHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": p})
}

// DiscardImport drops a pending preview.
func (h *ImportsHandler) DiscardImport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.forget(p.ID)
	w.WriteHeader(http.StatusNoContent)
}

// ApplyImport applies the selected entries of a pending preview.
func (h *ImportsHandler) ApplyImport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		auth.SendErrorResponse(w, "invalid JSON body", "INVALID_JSON", http.StatusBadRequest)
		return
	}

	cs := copyChangeSet(p.Changes)
	for _, k := range req.SelectKinds {
		cs.SelectAll(k, true)
	}
	for _, k := range req.DeselectKinds {
		cs.SelectAll(k, false)
	}
	for _, key := range req.Select {
		if err := cs.Select(key, true); err != nil {
			auth.SendErrorResponse(w, err.Error(), "UNKNOWN_ENTRY", http.StatusBadRequest)
			return
		}
	}
	for _, key := range req.Deselect {
		if err := cs.Select(key, false); err != nil {
			auth.SendErrorResponse(w, err.Error(), "UNKNOWN_ENTRY", http.StatusBadRequest)
			return
		}
	}

	res, err := h.Inventory.Apply(r.Context(), cs)
	switch {
	case errors.Is(err, reconcile.ErrStaleChangeSet):
		h.forget(p.ID)
		auth.SendErrorResponse(w, err.Error(), "STALE_CHANGESET", http.StatusConflict)
		return
	case err != nil:
		h.Logger.Error("apply failed", zap.String("id", p.ID.String()), zap.Error(err))
		auth.SendErrorResponse(w, "failed to apply change-set", "APPLY_FAILED", http.StatusInternalServerError)
		return
	}
	h.forget(p.ID)

	writeJSON(w, http.StatusOK, map[string]any{"data": res})
}

func (h *ImportsHandler) lookup(w http.ResponseWriter, r *http.Request) (*pendingImport, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		auth.SendErrorResponse(w, "invalid import id", "INVALID_ID", http.StatusBadRequest)
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune(h.now())
	p, ok := h.pending[id]
	if !ok {
		auth.SendErrorResponse(w, "import not found or expired", "IMPORT_NOT_FOUND", http.StatusNotFound)
		return nil, false
	}
	return p, true
}

func (h *ImportsHandler) forget(id uuid.UUID) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// prune drops expired previews. Callers hold h.mu.
func (h *ImportsHandler) prune(now time.Time) {
	for id, p := range h.pending {
		if !now.Before(p.ExpiresAt) {
			delete(h.pending, id)
		}
	}
}

func copyChangeSet(cs *reconcile.ChangeSet) *reconcile.ChangeSet {
	out := *cs
	out.Added = append([]reconcile.Entry(nil), cs.Added...)
	out.Modified = append([]reconcile.Entry(nil), cs.Modified...)
	out.Removed = append([]reconcile.Entry(nil), cs.Removed...)
	return &out
}

// isXLSX checks if the uploaded file is an Excel .xlsx file
func isXLSX(h *multipart.FileHeader) bool {
	return strings.HasSuffix(strings.ToLower(h.Filename), ".xlsx")
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
