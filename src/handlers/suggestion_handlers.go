package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	"github.com/wwwillott/where-the-hbll-are-you/src/session"
)

func SuggestionEndpointHandler(ctx context.Context, eng *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := session.FromContext(r.Context())
		if !ok {
			WriteErrorToWriter(w, "Error: Unable to identify requesting user", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodGet:
			GETFriendSuggestions(ctx, w, eng, identity.UserID)
		}
	})
}

func GETFriendSuggestions(ctx context.Context, w http.ResponseWriter, eng *engine.Engine, userID string) {
	suggestions, err := eng.Suggestions(ctx, userID)
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Error("ranking suggestions")
		WriteErrorToWriter(w, "Error: Unable to compute suggestions", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, suggestions)
}
