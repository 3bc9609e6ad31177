package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	"github.com/wwwillott/where-the-hbll-are-you/src/models"
	"github.com/wwwillott/where-the-hbll-are-you/src/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1048,
	WriteBufferSize: 1048,
}

// WebSocketPayload is the envelope pushed to the client. Operation is SYNC
// for engine-derived state, PRESENCE for toggle acknowledgements, WARNING
// for degraded-data signals.
type WebSocketPayload struct {
	Operation string      `json:"operation"`
	Type      string      `json:"type"`
	UserID    string      `json:"user_id"`
	Payload   interface{} `json:"payload"`
}

// clientMessage is what the browser sends over the socket.
type clientMessage struct {
	Operation string `json:"operation"`
	Note      string `json:"note"`
}

type wsClient struct {
	id     string
	userID string
	conn   *websocket.Conn

	mu sync.Mutex
}

// send serializes writes; engine callbacks fire from different goroutines.
func (c *wsClient) send(payload WebSocketPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(payload); err != nil {
		logrus.WithFields(logrus.Fields{"client_id": c.id, "user_id": c.userID}).
			WithError(err).Warn("websocket write failed")
	}
}

// WebSocketEndpointHandler binds one websocket connection to one engine
// session. The connection is the session scope: every subscription the
// engine opens for it is released when the socket closes.
func WebSocketEndpointHandler(eng *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := session.FromContext(r.Context())
		if !ok {
			WriteErrorToWriter(w, "Error: Unable to identify requesting user", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintf(w, "failed to upgrade websocket: %s", err)
			return
		}

		client := &wsClient{id: uuid.NewString(), userID: identity.UserID, conn: conn}

		callbacks := engine.Callbacks{
			Roster: func(roster []models.User) {
				client.send(WebSocketPayload{Operation: "SYNC", Type: "roster", UserID: identity.UserID, Payload: roster})
			},
			Requests: func(requests []string) {
				client.send(WebSocketPayload{Operation: "SYNC", Type: "requests", UserID: identity.UserID, Payload: requests})
			},
			Suggestions: func(suggestions []models.Suggestion) {
				client.send(WebSocketPayload{Operation: "SYNC", Type: "suggestions", UserID: identity.UserID, Payload: suggestions})
			},
			Presence: func(inLibrary bool) {
				client.send(WebSocketPayload{Operation: "PRESENCE", Type: "presence", UserID: identity.UserID, Payload: inLibrary})
			},
			Warning: func(err error) {
				client.send(WebSocketPayload{Operation: "WARNING", Type: "degraded", UserID: identity.UserID, Payload: err.Error()})
			},
		}

		// The request context dies when this handler returns; the session
		// must outlive it and end with the connection instead.
		sess, err := eng.OpenSession(context.Background(), identity.UserID, identity.Email, callbacks)
		if err != nil {
			logrus.WithField("user_id", identity.UserID).WithError(err).Error("opening session")
			conn.Close()
			return
		}

		client.send(WebSocketPayload{Operation: "PRESENCE", Type: "presence", UserID: identity.UserID, Payload: sess.InLibrary()})

		go listenAndToggle(client, sess)
	})
}

// listenAndToggle is the read loop: presence toggles come in over the
// socket, everything else ends the session.
func listenAndToggle(client *wsClient, sess *engine.Session) {
	defer func() {
		sess.Close()
		client.conn.Close()
	}()

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err) {
				logrus.WithField("client_id", client.id).WithError(err).Warn("websocket closed unexpectedly")
			}
			return
		}

		var message clientMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			logrus.WithField("client_id", client.id).WithError(err).Warn("undecodable websocket message")
			continue
		}

		switch message.Operation {
		case "TOGGLE":
			inLibrary := sess.TogglePresence(message.Note)
			client.send(WebSocketPayload{Operation: "PRESENCE", Type: "presence", UserID: client.userID, Payload: inLibrary})
		}
	}
}
