package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cylinder-billing/internal/core"

	"github.com/golang-jwt/jwt/v5"
)

type principalKey struct{}

// principalFromContext returns the resolved Principal stored in ctx, or nil.
func principalFromContext(ctx context.Context) *core.Principal {
	v, _ := ctx.Value(principalKey{}).(*core.Principal)
	return v
}

// jwtClaims is the JWT payload struct used for signing and parsing.
type jwtClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	AdminID  *int64 `json:"admin_id,omitempty"`
	jwt.RegisteredClaims
}

// RequireAuth is chi middleware that validates the auth_token cookie, resolves
// the tenant identity, and injects the Principal into the request context.
// Returns 401 if the token is absent or invalid.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("auth_token")
		if err != nil {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		claims := &jwtClaims{}
		token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(h.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		principal := core.Principal{
			UserID:  claims.UserID,
			Role:    core.Role(claims.Role),
			AdminID: claims.AdminID,
		}
		if _, err := core.ResolveTenant(principal); err != nil {
			writeError(w, r, "invalid token identity", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, &principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// login handles POST /api/auth/login.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.svc.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, "invalid username or password", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}

	claims := &jwtClaims{
		UserID:   session.UserID,
		Username: session.Username,
		Role:     string(session.Role),
		AdminID:  session.AdminID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.jwtSecret))
	if err != nil {
		writeError(w, r, "token generation failed", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   12 * 3600,
	})
	writeJSON(w, session)
}

// logout handles POST /api/auth/logout by clearing the auth cookie.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// me handles GET /api/auth/me. It reloads the identity from the user store so
// a role change takes effect without waiting for token expiry.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if p == nil {
		writeError(w, r, "not authenticated", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}

	principal, err := h.svc.PrincipalByID(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, "user not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	type meResponse struct {
		UserID  int64  `json:"user_id"`
		Role    string `json:"role"`
		AdminID *int64 `json:"admin_id,omitempty"`
	}
	writeJSON(w, meResponse{
		UserID:  principal.UserID,
		Role:    string(principal.Role),
		AdminID: principal.AdminID,
	})
}
