package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	"github.com/wwwillott/where-the-hbll-are-you/src/session"
)

func PresenceEndpointHandler(ctx context.Context, eng *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := session.FromContext(r.Context())
		if !ok {
			WriteErrorToWriter(w, "Error: Unable to identify requesting user", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodPut:
			PUTTogglePresence(ctx, w, r, eng, identity)
		}
	})
}

func PUTTogglePresence(ctx context.Context, w http.ResponseWriter, r *http.Request, eng *engine.Engine, identity session.Identity) {
	note := r.URL.Query().Get("note")

	inLibrary, err := eng.TogglePresence(ctx, identity.UserID, identity.Email, note)
	if err != nil {
		logrus.WithField("user_id", identity.UserID).WithError(err).Error("toggling presence")
		WriteErrorToWriter(w, "Error: Unable to update presence", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, map[string]bool{"is_in_library": inLibrary})
}
