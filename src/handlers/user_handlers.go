package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	"github.com/wwwillott/where-the-hbll-are-you/src/session"
)

func UserEndpointHandler(ctx context.Context, eng *engine.Engine) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := session.FromContext(r.Context())
		if !ok {
			WriteErrorToWriter(w, "Error: Unable to identify requesting user", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodGet:
			GETAuthUserInformation(ctx, w, eng, identity)
		}
	})
}

// GETAuthUserInformation returns the caller's own record, creating it on
// first sign-in and staleness-correcting presence before it is served.
func GETAuthUserInformation(ctx context.Context, w http.ResponseWriter, eng *engine.Engine, identity session.Identity) {
	user, err := eng.EstablishUser(ctx, identity.UserID, identity.Email)
	if err != nil {
		logrus.WithField("user_id", identity.UserID).WithError(err).Error("loading user record")
		WriteErrorToWriter(w, "Error: Unable to load user record", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, user)
}
