package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
)

func GETHandlerRoot(w http.ResponseWriter, r *http.Request) {
	welcomeString := "Where The HBLL Are You.\nRequest one of the following routes:\n /user\n /presence\n /friends\n /friends/request\n /suggestions\n /search\n /ws\n"
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(welcomeString))
}

func WriteErrorToWriter(w http.ResponseWriter, errorString string, statusCode int) {
	jsonString, err := json.MarshalIndent(errorString, "", "\t")
	if err != nil {
		logrus.WithError(err).Error("encoding error response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonString)
}

// WriteGraphError maps the friend-graph error taxonomy onto status codes.
// Partial mutations are accepted-with-warning: the first write committed and
// a later accept/remove restores symmetry.
func WriteGraphError(w http.ResponseWriter, err error) {
	var partial *engine.PartialMutationError
	switch {
	case errors.Is(err, engine.ErrInvalidTarget):
		WriteErrorToWriter(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrUserNotFound):
		WriteErrorToWriter(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrAlreadyFriends):
		WriteErrorToWriter(w, err.Error(), http.StatusConflict)
	case errors.As(err, &partial):
		logrus.WithError(partial).Warn("friend graph left asymmetric")
		WriteErrorToWriter(w, "warning: "+partial.Error(), http.StatusAccepted)
	default:
		WriteErrorToWriter(w, err.Error(), http.StatusInternalServerError)
	}
}

func WriteJSONResponse(w http.ResponseWriter, payload any) {
	responseBytes, err := json.MarshalIndent(payload, "", "\t")
	if err != nil {
		logrus.WithError(err).Error("encoding response")
		WriteErrorToWriter(w, "Error: failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(responseBytes)
}
