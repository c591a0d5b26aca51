package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Role is what an API key may do. Higher roles include the lower ones.
type Role int

const (
	RoleNone Role = iota
	RoleMember
	RoleStaff
	RoleAdmin
)

func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member":
		return RoleMember
	case "staff":
		return RoleStaff
	case "admin":
		return RoleAdmin
	}
	return RoleNone
}

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleStaff:
		return "staff"
	case RoleAdmin:
		return "admin"
	}
	return "none"
}

// Grant is what one API key carries. A member key bound to UserID may only
// act for that user; an unbound member key may act for anyone.
type Grant struct {
	Role   string
	UserID string
}

type principal struct {
	role   Role
	userID string
}

type principalKey struct{}

// KeyRing resolves x-api-key values to roles. An empty ring lets every
// request through as admin, which is only meant for local development.
type KeyRing struct {
	keys   map[string]principal
	logger zerolog.Logger
}

func NewKeyRing(keys map[string]Grant, logger zerolog.Logger) *KeyRing {
	k := &KeyRing{
		keys:   make(map[string]principal, len(keys)),
		logger: logger.With().Str("component", "access").Logger(),
	}
	for key, g := range keys {
		r := ParseRole(g.Role)
		if key == "" || r == RoleNone {
			k.logger.Warn().Str("role", g.Role).Msg("ignoring api key with unknown role")
			continue
		}
		if r == RoleMember && g.UserID == "" {
			k.logger.Warn().Msg("member api key is not bound to a user")
		}
		k.keys[key] = principal{role: r, userID: g.UserID}
	}
	if len(k.keys) == 0 {
		k.logger.Warn().Msg("no api keys configured, authentication disabled")
	}
	return k
}

func (k *KeyRing) resolve(key string) principal {
	if len(k.keys) == 0 {
		return principal{role: RoleAdmin}
	}
	return k.keys[key]
}

func (k *KeyRing) Role(key string) Role {
	return k.resolve(key).role
}

// Require rejects requests whose key does not carry at least min.
func (k *KeyRing) Require(min Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := k.resolve(r.Header.Get("x-api-key"))
		switch {
		case p.role == RoleNone:
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		case p.role < min:
			k.logger.Warn().
				Str("path", r.URL.Path).
				Str("role", p.role.String()).
				Str("required", min.String()).
				Msg("access denied")
			writeError(w, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	}
}

// boundUser is the user a member key is bound to, or "" for unrestricted
// callers.
func boundUser(r *http.Request) string {
	p, _ := r.Context().Value(principalKey{}).(principal)
	if p.role != RoleMember {
		return ""
	}
	return p.userID
}

// actingFor resolves the user a request acts for. A bound member key fills in
// its own user when userID is empty and may not name anyone else.
func actingFor(r *http.Request, userID string) (string, bool) {
	own := boundUser(r)
	switch {
	case own == "":
		return userID, true
	case userID == "":
		return own, true
	}
	return userID, userID == own
}

func (s *Server) denyUser(w http.ResponseWriter, r *http.Request, userID string) {
	s.logger.Warn().
		Str("path", r.URL.Path).
		Str("user_id", userID).
		Msg("access denied for another user")
	writeError(w, http.StatusForbidden, "forbidden", "forbidden")
}

// ownUser pins the user_id query parameter to the caller's own user for
// bound member keys. It runs before the page cache builds its key.
func (s *Server) ownUser(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		userID, ok := actingFor(r, q.Get("user_id"))
		if !ok {
			s.denyUser(w, r, q.Get("user_id"))
			return
		}
		if userID != q.Get("user_id") {
			q.Set("user_id", userID)
			r = r.Clone(r.Context())
			r.URL.RawQuery = q.Encode()
		}
		h(w, r)
	}
}
