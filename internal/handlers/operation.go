package handlers

import (
	"net/http"
	"time"

	"github.com/railbook/apiserver/internal/auth"
	"github.com/railbook/apiserver/types"
	"github.com/sirupsen/logrus"
)

// Operation is a protected endpoint together with the roles allowed to
// call it. A nil Roles set only requires a valid session.
type Operation struct {
	Roles  auth.RoleSet
	Handle func(w http.ResponseWriter, r *http.Request, principal types.Principal)
}

// Guard authenticates and authorizes requests before running an Operation.
type Guard struct {
	auth   *auth.Service
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewGuard(authService *auth.Service, logger logrus.FieldLogger) *Guard {
	return &Guard{auth: authService, logger: logger, now: time.Now}
}

// Protect adapts op to an http.HandlerFunc. The principal is handed to
// op.Handle as an argument.
func (g *Guard) Protect(op Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.auth.Authenticate(r.Context(), r.Header.Get("Authorization"), g.now())
		if err != nil {
			writeServiceError(w, g.logger, err, "authenticate")
			return
		}
		if op.Roles != nil {
			if err := g.auth.Authorize(principal, op.Roles); err != nil {
				writeServiceError(w, g.logger, err, "authorize")
				return
			}
		}
		op.Handle(w, r, principal)
	}
}
