package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"media-share/internal/database"
	"media-share/internal/logging"
	"media-share/internal/metrics"
)

const (
	// SessionCookieName is the name of the session cookie
	SessionCookieName = "media_share_session"

	minPasswordLength = 6
	// bcrypt ignores anything past 72 bytes
	maxPasswordLength = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type contextKey int

const userKey contextKey = iota

// Credentials is the body of register and login requests.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse represents the response from authentication endpoints
type AuthResponse struct {
	Success   bool   `json:"success"`
	Username  string `json:"username,omitempty"`
	IsAdmin   bool   `json:"isAdmin,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"` // Seconds until session expires
}

// UserFromContext returns the user AuthMiddleware attached to ctx.
func UserFromContext(ctx context.Context) *database.User {
	u, _ := ctx.Value(userKey).(*database.User)
	return u
}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *database.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// Register creates an account and logs it in. The first account is an
// administrator; later ones are refused while signups are locked.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(req.Username) {
		writeJSONError(w, "username must be 3-32 letters, digits, '.', '_' or '-'", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLength || len(req.Password) > maxPasswordLength {
		writeJSONError(w, "password must be 6-72 characters", http.StatusBadRequest)
		return
	}

	user, err := h.db.Register(r.Context(), req.Username, req.Password, h.settings.Get().SignupLocked)
	if err != nil {
		writeError(w, "register", err)
		return
	}

	logging.Info("Registered user %s", user.Username)
	h.startSession(w, r, user)
}

// Login handles user login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.db.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, database.ErrInvalidCredentials) {
			metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
			logging.Warn("Failed login attempt for %q from %s", req.Username, r.RemoteAddr)
		}
		writeError(w, "login", err)
		return
	}

	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	h.startSession(w, r, user)
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request, user *database.User) {
	session, err := h.db.CreateSession(r.Context(), user.Username, h.sessionDuration)
	if err != nil {
		writeError(w, "create session", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSONResponse(w, AuthResponse{
		Success:   true,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		ExpiresIn: int(h.sessionDuration.Seconds()),
	})
}

// Logout handles user logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.db.DeleteSession(r.Context(), cookie.Value); err != nil {
			logging.Warn("Failed to delete session: %v", err)
		}
	}

	clearSessionCookie(w)
	writeJSONResponse(w, AuthResponse{Success: true})
}

// CheckAuth reports whether the request carries a valid session.
func (h *Handlers) CheckAuth(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeJSONResponse(w, AuthResponse{Success: false})
		return
	}

	user, err := h.db.ValidateSession(r.Context(), cookie.Value)
	if err != nil {
		writeJSONResponse(w, AuthResponse{Success: false})
		return
	}

	writeJSONResponse(w, AuthResponse{
		Success:  true,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// isPublicPath reports whether path is reachable without a session.
func isPublicPath(path string) bool {
	switch path {
	case "/api/auth/register", "/api/auth/login", "/api/auth/logout", "/api/auth/check",
		"/health", "/healthz", "/livez", "/readyz", "/version":
		return true
	}
	return false
}

// AuthMiddleware rejects requests without a valid session and attaches the
// session's user to the request context.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := h.db.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, database.ErrInvalidSession) {
				logging.Error("Session validation failed: %v", err)
			}
			clearSessionCookie(w)
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// AdminOnly allows only administrators through. It must run after
// AuthMiddleware.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !user.IsAdmin {
			writeJSONError(w, "administrator access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// currentUser returns the authenticated user, writing a 401 when there is
// none.
func currentUser(w http.ResponseWriter, r *http.Request) (*database.User, bool) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return user, true
}
