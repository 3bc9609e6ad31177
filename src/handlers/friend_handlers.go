package handlers

import (
	"context"
	"net/http"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	"github.com/wwwillott/where-the-hbll-are-you/src/session"
)

func FriendEndpointHandler(ctx context.Context, eng *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := session.FromContext(r.Context())
		if !ok {
			WriteErrorToWriter(w, "Error: Unable to identify requesting user", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodGet:
			GETFriendsByUserID(ctx, w, eng, identity.UserID)
		case http.MethodDelete:
			peerEmail := r.URL.Query().Get("email")
			DELETERemoveFriend(ctx, w, eng, identity.UserID, peerEmail)
		}
	})
}

func GETFriendsByUserID(ctx context.Context, w http.ResponseWriter, eng *engine.Engine, userID string) {
	friends, err := eng.Friends(ctx, userID)
	if err != nil {
		WriteGraphError(w, err)
		return
	}
	WriteJSONResponse(w, friends)
}

func DELETERemoveFriend(ctx context.Context, w http.ResponseWriter, eng *engine.Engine, userID, peerEmail string) {
	if err := eng.RemoveFriend(ctx, userID, peerEmail); err != nil {
		WriteGraphError(w, err)
		return
	}
	WriteJSONResponse(w, "friend removed")
}
