package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
)

const avatarBucket = "hbll-user-avatars"

// ContentEndpointHandler serves profile photos and mints signed upload URLs
// for them. The stored photoURL field points at these objects.
func ContentEndpointHandler(ctx context.Context, gcpStorage storage.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			switch r.URL.Path {
			case "/avatar":
				ServeAvatar(ctx, w, r, gcpStorage)
			case "/avatar/upload":
				GenerateAndSendSignedUrl(ctx, w, r, gcpStorage)
			}
		}
	})
}

func GenerateAndSendSignedUrl(ctx context.Context, w http.ResponseWriter, r *http.Request, gcpStorage storage.Client) {
	object := r.URL.Query().Get("id")

	opts := &storage.SignedURLOptions{
		Scheme: storage.SigningSchemeV4,
		Method: "PUT",
		Headers: []string{
			"Content-Type:application/octet-stream",
		},
		Expires: time.Now().UTC().Add(3 * time.Minute),
	}

	url, err := gcpStorage.Bucket(avatarBucket).SignedURL(object, opts)
	if err != nil {
		logrus.WithField("object", object).WithError(err).Error("generating signed upload url")
		WriteErrorToWriter(w, "Error: Unable to generate upload link", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(url))
}

func ServeAvatar(ctx context.Context, w http.ResponseWriter, r *http.Request, gcpStorage storage.Client) {
	avatarId := r.URL.Query().Get("id")

	obj := gcpStorage.Bucket(avatarBucket).Object(avatarId)
	avatarReader, err := obj.NewReader(ctx)
	if err != nil {
		logrus.WithField("object", avatarId).WithError(err).Warn("avatar not readable")
		WriteErrorToWriter(w, "Error: Avatar not found", http.StatusNotFound)
		return
	}
	defer avatarReader.Close()

	avatarBytes, err := io.ReadAll(avatarReader)
	if err != nil {
		logrus.WithField("object", avatarId).WithError(err).Error("reading avatar")
		WriteErrorToWriter(w, "Error: Unable to read avatar", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(avatarBytes)
}
