package inits

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/opensearch-project/opensearch-go"
	"github.com/opensearch-project/opensearch-go/opensearchapi"
	"github.com/sirupsen/logrus"

	"github.com/wwwillott/where-the-hbll-are-you/src/engine"
	m "github.com/wwwillott/where-the-hbll-are-you/src/models"
	"github.com/wwwillott/where-the-hbll-are-you/src/store"
)

const directoryIndex = "user-directory"

// InitOpenSearch (re)builds the user directory index from the document
// store. Full reindex at startup; the directory tolerates being a little
// behind between restarts.
func InitOpenSearch(ctx context.Context, st store.Store, client *opensearch.Client) {
	settings := strings.NewReader(`{
		"settings": {"index": {"number_of_shards": 1, "number_of_replicas": 1}},
		"mappings": {"properties": {
			"display_name": {"type": "search_as_you_type"},
			"email": {"type": "search_as_you_type"}
		}}
	}`)

	createReq := opensearchapi.IndicesCreateRequest{Index: directoryIndex, Body: settings}
	createRes, err := createReq.Do(ctx, client)
	if err != nil {
		logrus.WithError(err).Warn("creating directory index, search degraded")
		return
	}
	createRes.Body.Close()

	docs, err := st.List(ctx, engine.UsersKind)
	if err != nil {
		logrus.WithError(err).Warn("enumerating users for directory index")
		return
	}

	for _, doc := range docs {
		user := m.UserFromDoc(doc.ID, doc.Fields)

		data, err := json.Marshal(m.Search{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			PhotoURL:    user.PhotoURL,
		})
		if err != nil {
			logrus.WithField("user_id", user.ID).WithError(err).Warn("encoding directory entry")
			continue
		}

		req := opensearchapi.IndexRequest{
			Index:      directoryIndex,
			DocumentID: user.ID,
			Body:       strings.NewReader(string(data)),
		}
		indexRes, err := req.Do(ctx, client)
		if err != nil {
			logrus.WithField("user_id", user.ID).WithError(err).Warn("indexing directory entry")
			continue
		}
		indexRes.Body.Close()
	}

	logrus.WithField("count", len(docs)).Info("user directory indexed")
}
