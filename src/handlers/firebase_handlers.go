package handlers

import (
	"context"
	"fmt"
	"net/http"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	"github.com/wwwillott/where-the-hbll-are-you/src/models"
	"github.com/wwwillott/where-the-hbll-are-you/src/session"
)

func FirebaseHandlers(ctx context.Context, eng *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := session.FromContext(r.Context())
		if !ok {
			WriteErrorToWriter(w, "Error: Unable to identify requesting user", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodPut:
			switch r.URL.Path {
			case "/fcm":
				PUTFirebaseToken(ctx, w, r, eng, identity.UserID)
			}
		}
	})
}

func PUTFirebaseToken(ctx context.Context, w http.ResponseWriter, r *http.Request, eng *engine.Engine, userID string) {
	token := r.URL.Query().Get("token")
	if token == "" {
		WriteErrorToWriter(w, "Error: token is required", http.StatusBadRequest)
		return
	}

	if err := eng.RegisterFCMToken(ctx, userID, token); err != nil {
		logrus.WithField("user_id", userID).WithError(err).Error("registering fcm token")
		WriteErrorToWriter(w, "Error: Unable to register token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("updated token - success"))
}

// SendFirebaseMessageToUser multicasts a push to every device token on the
// recipient's record.
func SendFirebaseMessageToUser(ctx context.Context, messagingClient *messaging.Client, recipient models.User, notification models.FirebaseNotification) error {
	if len(recipient.FCMTokens) == 0 {
		return nil
	}

	var title string
	var body string
	switch notification.Type {
	case "friend-request":
		title = "New friend request"
		body = fmt.Sprintf("%v sent you a friend request.", notification.RequesterEmail)
	}

	fcmNotification := messaging.Notification{
		Title: title,
		Body:  body,
	}

	message := messaging.MulticastMessage{
		Data:         nil,
		Tokens:       recipient.FCMTokens,
		Notification: &fcmNotification,
	}

	_, err := messagingClient.SendEachForMulticast(ctx, &message)
	if err != nil {
		return err
	}

	return nil
}
