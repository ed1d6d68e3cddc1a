package handlers

import (
	"net/http"

	"github.com/camden-git/membersync/permissions"
)

type PermissionHandler struct{}

// ListPermissionDefinitions serves the statically defined permission groups,
// plus the scopes of the calling token.
func (h *PermissionHandler) ListPermissionDefinitions(w http.ResponseWriter, r *http.Request) {
	var granted []string
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		granted = claims.Scopes
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups":  permissions.DefinedPermissionGroups,
		"granted": granted,
	})
}

// ListPermissionKeys serves just the scope keys, for tooling that builds
// token requests.
func (h *PermissionHandler) ListPermissionKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, permissions.GetAllPermissionKeys())
}
