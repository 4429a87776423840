package web

import (
	"net/http"

	"github.com/tapwave/typingarena/internal/model"
)

// FromRequest extracts the verified principal a real deployment's auth
// middleware (opaque, out of scope per §1) would attach to the request
// after validating a bearer token. This package does not decode or verify
// tokens itself ("the core never decodes tokens", §6); it only trusts
// headers a front-door middleware is assumed to set after doing so. Tokens
// with a missing userId or role must be rejected before reaching here —
// ok is false whenever either header is absent or the role is unrecognized.
func FromRequest(r *http.Request) (model.Principal, bool) {
	userID := r.Header.Get("X-User-Id")
	role := model.Role(r.Header.Get("X-User-Role"))
	if userID == "" {
		return model.Principal{}, false
	}
	switch role {
	case model.RoleUser, model.RoleAdmin:
	default:
		return model.Principal{}, false
	}
	return model.Principal{UserID: userID, Role: role}, true
}
