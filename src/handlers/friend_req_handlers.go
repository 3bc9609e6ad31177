package handlers

import (
	"context"
	"net/http"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	"github.com/wwwillott/where-the-hbll-are-you/src/models"
	"github.com/wwwillott/where-the-hbll-are-you/src/session"
)

func FriendRequestHandler(ctx context.Context, eng *engine.Engine, messagingClient *messaging.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := session.FromContext(r.Context())
		if !ok {
			WriteErrorToWriter(w, "Error: Unable to identify requesting user", http.StatusUnauthorized)
			return
		}

		email := r.URL.Query().Get("email")
		switch r.Method {
		case http.MethodPost:
			POSTFriendRequest(ctx, w, eng, messagingClient, identity, email)
		case http.MethodPut:
			PUTAcceptFriendRequest(ctx, w, eng, identity.UserID, email)
		case http.MethodDelete:
			DELETEDenyFriendRequest(ctx, w, eng, identity.UserID, email)
		}
	})
}

func POSTFriendRequest(ctx context.Context, w http.ResponseWriter, eng *engine.Engine, messagingClient *messaging.Client, identity session.Identity, toEmail string) {
	if err := eng.SendRequest(ctx, identity.UserID, toEmail); err != nil {
		WriteGraphError(w, err)
		return
	}

	// Push notification is best-effort: the request is already committed and
	// the target's own subscription will surface it regardless.
	if messagingClient != nil {
		target, err := eng.UserByEmail(ctx, toEmail)
		if err == nil {
			notification := models.FirebaseNotification{
				Type:           "friend-request",
				RequesterEmail: identity.Email,
				RecipientEmail: target.Email,
			}
			if err := SendFirebaseMessageToUser(ctx, messagingClient, target, notification); err != nil {
				logrus.WithField("to", target.Email).WithError(err).Warn("friend request push not delivered")
			}
		}
	}

	WriteJSONResponse(w, "friend request sent - success")
}

func PUTAcceptFriendRequest(ctx context.Context, w http.ResponseWriter, eng *engine.Engine, userID, requesterEmail string) {
	if err := eng.AcceptRequest(ctx, userID, requesterEmail); err != nil {
		WriteGraphError(w, err)
		return
	}
	WriteJSONResponse(w, "friend request accepted")
}

func DELETEDenyFriendRequest(ctx context.Context, w http.ResponseWriter, eng *engine.Engine, userID, requesterEmail string) {
	if err := eng.DenyRequest(ctx, userID, requesterEmail); err != nil {
		WriteGraphError(w, err)
		return
	}
	WriteJSONResponse(w, "friend request denied")
}
