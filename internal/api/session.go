package api

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/askdb/askdb/internal/auth"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// sessionKey scopes a client session id to the caller so two API keys
// never share history.
func sessionKey(r *http.Request, sessionID string) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Subject != "" {
		return identity.Subject + "/" + sessionID
	}
	return "anonymous/" + sessionID
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
