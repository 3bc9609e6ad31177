package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/gorilla/mux"
	"github.com/lpernett/godotenv"
	"github.com/opensearch-project/opensearch-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	h "github.com/wwwillott/where-the-hbll-are-you/src/handlers"
	"github.com/wwwillott/where-the-hbll-are-you/src/inits"
	"github.com/wwwillott/where-the-hbll-are-you/src/session"
	"github.com/wwwillott/where-the-hbll-are-you/src/store"
	"github.com/wwwillott/where-the-hbll-are-you/src/store/memstore"
	"github.com/wwwillott/where-the-hbll-are-you/src/store/pgstore"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		logrus.Info("no .env file, using process environment")
	}

	// Document store: Postgres + Redis when configured, in-memory otherwise.
	var docStore store.Store
	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		pool, err := inits.CreatePostgresPool(connString, ctx)
		if err != nil {
			logrus.WithError(err).Fatal("postgres unavailable")
		}
		defer pool.Close()

		rdb := redis.NewClient(&redis.Options{
			Addr:     envOr("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		})
		docStore = pgstore.New(pool, rdb)
	} else {
		logrus.Warn("DATABASE_URL not set, running on the in-memory store")
		docStore = memstore.New()
	}

	eng := engine.New(docStore)

	// Auth0 Initialization
	checkJWT, err := session.EnsureValidToken(os.Getenv("AUTH0_DOMAIN"), os.Getenv("AUTH0_AUDIENCE"))
	if err != nil {
		logrus.WithError(err).Fatal("building token middleware")
	}

	// Firebase Initialization (push notifications, optional)
	var messagingClient *messaging.Client
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
		app, err := firebase.NewApp(ctx, nil)
		if err != nil {
			logrus.WithError(err).Warn("firebase unavailable, pushes disabled")
		} else if messagingClient, err = app.Messaging(ctx); err != nil {
			logrus.WithError(err).Warn("firebase messaging unavailable, pushes disabled")
		}
	}

	// OpenSearch Initialization (user directory, optional)
	var searchClient *opensearch.Client
	if osURL := os.Getenv("OPENSEARCH_URL"); osURL != "" {
		searchClient, err = opensearch.NewClient(opensearch.Config{Addresses: []string{osURL}})
		if err != nil {
			logrus.WithError(err).Warn("opensearch unavailable, directory search disabled")
			searchClient = nil
		} else {
			inits.InitOpenSearch(ctx, docStore, searchClient)
		}
	}

	// GCS Initialization (avatars, optional)
	var gcpStorage *storage.Client
	if gcpStorage, err = storage.NewClient(ctx); err != nil {
		logrus.WithError(err).Warn("cloud storage unavailable, avatars disabled")
		gcpStorage = nil
	}

	//Server Starting String
	serverString := fmt.Sprintf("%v:%v", envOr("HOST", "0.0.0.0"), envOr("PORT", "2525"))

	//Route Register
	router := mux.NewRouter()
	router.HandleFunc("/", h.GETHandlerRoot)

	secured := router.PathPrefix("/").Subrouter()
	secured.Use(mux.MiddlewareFunc(checkJWT))
	secured.Handle("/ws", h.WebSocketEndpointHandler(eng))
	secured.Handle("/user", h.UserEndpointHandler(ctx, eng))
	secured.Handle("/presence", h.PresenceEndpointHandler(ctx, eng))
	secured.Handle("/friends", h.FriendEndpointHandler(ctx, eng))
	secured.Handle("/friends/request", h.FriendRequestHandler(ctx, eng, messagingClient))
	secured.Handle("/suggestions", h.SuggestionEndpointHandler(ctx, eng))
	secured.Handle("/fcm", h.FirebaseHandlers(ctx, eng))
	if searchClient != nil {
		secured.Handle("/search", h.SearchEndpointHandler(ctx, searchClient))
	}
	if gcpStorage != nil {
		secured.Handle("/avatar", h.ContentEndpointHandler(ctx, *gcpStorage))
		secured.Handle("/avatar/upload", h.ContentEndpointHandler(ctx, *gcpStorage))
	}

	//Start Server
	logrus.WithField("addr", serverString).Info("server starting")
	if err := http.ListenAndServe(serverString, router); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}
