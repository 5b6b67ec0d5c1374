package internal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"asset-census-api/internal/auth"
	"asset-census-api/internal/store"
	"asset-census-api/pkg/inventory"
	"asset-census-api/pkg/location"
)

// LoginRequest represents the request payload for operator login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// LoginResponse represents the response payload for operator login
type LoginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Operator  *store.Operator `json:"operator"`
}

// UserRequest creates or updates a holder. NewLocation is a free-text label
// that is normalized and numbered ("oficina" -> "OFICINA03") and appended to
// Locations, becoming the primary location when Locations is empty.
type UserRequest struct {
	Name        string   `json:"name"`
	Area        *string  `json:"area"`
	Locations   []string `json:"locations"`
	NewLocation string   `json:"new_location"`
}

func (r UserRequest) validateLabel() error {
	if strings.TrimSpace(r.NewLocation) != "" && location.Normalize(r.NewLocation) == "" {
		return validation.Errors{"new_location": errors.New("must contain a name, not only digits")}
	}
	return nil
}

// UserView is a user together with the assets located to them.
type UserView struct {
	*inventory.User
	Assets []*inventory.Asset `json:"assets"`
}

// loginOperator handles operator authentication
func (s *Server) loginOperator(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		auth.SendErrorResponse(w, "Invalid request body", "INVALID_JSON", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		auth.SendErrorResponse(w, "Email and password are required", "VALIDATION_FAILED", http.StatusBadRequest)
		return
	}

	op, err := s.Store.Operator(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, store.ErrOperatorNotFound) {
		auth.SendErrorResponse(w, "Invalid credentials", "INVALID_CREDENTIALS", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		auth.SendErrorResponse(w, "Invalid credentials", "INVALID_CREDENTIALS", http.StatusUnauthorized)
		return
	}

	// A failed stamp does not fail the login
	if err := s.Store.RecordLogin(r.Context(), op.ID); err != nil {
		s.Logger.Warn("failed to record login", zap.Int64("operator", op.ID), zap.Error(err))
	}

	token, err := s.JWTManager.GenerateToken(op.ID, op.Email, op.Roles)
	if err != nil {
		s.Logger.Error("failed to generate token", zap.Int64("operator", op.ID), zap.Error(err))
		auth.SendErrorResponse(w, "Failed to generate token", "TOKEN_GENERATION_FAILED", http.StatusInternalServerError)
		return
	}
	claims, err := s.JWTManager.ValidateToken(token)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.Logger.Info("operator logged in", zap.Int64("operator", op.ID), zap.Strings("roles", op.Roles))
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: claims.ExpiresAt.Time, Operator: op})
}

// getProfile returns the claims of the calling operator
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		auth.SendErrorResponse(w, "Authentication required", "AUTHENTICATION_REQUIRED", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         claims.OperatorID,
		"email":      claims.Email,
		"roles":      claims.Roles,
		"expires_at": claims.ExpiresAt,
	})
}

var userSort = map[string]func(*inventory.User) string{
	"name":     func(u *inventory.User) string { return u.Name },
	"area":     func(u *inventory.User) string { return u.Area },
	"location": func(u *inventory.User) string { return u.Primary() },
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	area := strings.TrimSpace(r.URL.Query().Get("area"))
	q := strings.ToLower(params.q)

	users := []*inventory.User{}
	for _, u := range s.snapshot().UserList() {
		if area != "" && u.Area != area {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(u.Name), q) {
			continue
		}
		users = append(users, u)
	}
	total := len(users)
	page := sortAndPage(users, params, sortFunc(params.sort, userSort, func(a, b *inventory.User) int {
		return strings.Compare(a.Name, b.Name)
	}))
	sendListResponse(w, page, total, params)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	sess := s.snapshot()
	u, err := sess.User(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	assets := sess.AssetsHeldBy(u.Name)
	if assets == nil {
		assets = []*inventory.Asset{}
	}
	writeJSON(w, http.StatusOK, UserView{User: u, Assets: assets})
}

// createUser adds a holder. The location counter is rebuilt afterwards.
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeJSON(r, &req); err != nil {
		auth.SendErrorResponse(w, "Invalid request body", "INVALID_JSON", http.StatusBadRequest)
		return
	}
	if err := req.validateLabel(); err != nil {
		s.writeError(w, err)
		return
	}

	var out *inventory.User
	err := s.mutate(r.Context(), func(next *inventory.Session) error {
		u := &inventory.User{Name: strings.TrimSpace(req.Name), Locations: trimAll(req.Locations)}
		if req.Area != nil {
			u.Area = strings.TrimSpace(*req.Area)
		}
		if _, exists := next.Users[u.Name]; exists {
			return fmt.Errorf("create %q: %w", u.Name, inventory.ErrUserExists)
		}
		// Registered first so the allocator sees the user's own locations.
		next.Users[u.Name] = u
		alloc := location.NewAllocator(next)
		if strings.TrimSpace(req.NewLocation) != "" {
			id, err := alloc.Allocate(req.NewLocation)
			if err != nil {
				return err
			}
			u.Locations = append(u.Locations, id)
		}
		if err := u.Validate(); err != nil {
			return err
		}
		alloc.Recompute()
		out = u
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.Logger.Info("user created", zap.String("user", out.Name), zap.Strings("locations", out.Locations))
	writeJSON(w, http.StatusCreated, out)
}

// updateUser changes a holder's area or locations. Mismatch flags of the
// assets they hold follow an area change.
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeJSON(r, &req); err != nil {
		auth.SendErrorResponse(w, "Invalid request body", "INVALID_JSON", http.StatusBadRequest)
		return
	}
	if err := req.validateLabel(); err != nil {
		s.writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if req.Name != "" && strings.TrimSpace(req.Name) != name {
		auth.SendErrorResponse(w, "users cannot be renamed", "RENAME_NOT_SUPPORTED", http.StatusBadRequest)
		return
	}

	var out *inventory.User
	var flipped []string
	err := s.mutate(r.Context(), func(next *inventory.Session) error {
		u, err := next.User(name)
		if err != nil {
			return err
		}
		areaChanged := false
		if req.Area != nil && strings.TrimSpace(*req.Area) != u.Area {
			u.Area = strings.TrimSpace(*req.Area)
			areaChanged = true
		}
		if req.Locations != nil {
			u.Locations = trimAll(req.Locations)
		}
		alloc := location.NewAllocator(next)
		if strings.TrimSpace(req.NewLocation) != "" {
			id, err := alloc.Allocate(req.NewLocation)
			if err != nil {
				return err
			}
			u.Locations = append(u.Locations, id)
		}
		if err := u.Validate(); err != nil {
			return err
		}
		if areaChanged {
			if flipped, err = s.assigner.RefreshHolder(next, u.Name); err != nil {
				return err
			}
		}
		alloc.Recompute()
		out = u
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(flipped) > 0 {
		s.Logger.Info("mismatch flags refreshed", zap.String("user", out.Name), zap.Strings("assets", flipped))
	}
	writeJSON(w, http.StatusOK, out)
}

// deleteUser releases every asset the holder has and removes them.
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var released []string
	err := s.mutate(r.Context(), func(next *inventory.Session) error {
		if _, err := next.User(name); err != nil {
			return err
		}
		released = s.assigner.ReleaseHolder(next, name)
		delete(next.Users, name)
		location.NewAllocator(next).Recompute()
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if released == nil {
		released = []string{}
	}
	s.Logger.Info("user deleted", zap.String("user", name), zap.Int("released", len(released)))
	writeJSON(w, http.StatusOK, map[string]interface{}{"released": released})
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
