package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go"
	"github.com/opensearch-project/opensearch-go/opensearchapi"
	"github.com/sirupsen/logrus"

	m "github.com/wwwillott/where-the-hbll-are-you/src/models"
)

const searchIndex = "user-directory"

func SearchEndpointHandler(ctx context.Context, client *opensearch.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			searchVal := r.URL.Query().Get("lookup")
			UserDirectorySearch(ctx, w, client, searchVal)
		}
	})
}

// UserDirectorySearch finds users by display name or email prefix in the
// directory index maintained at startup. Directory search is how a user
// discovers the email to put in a friend request; it is not part of the
// sync core.
func UserDirectorySearch(ctx context.Context, w http.ResponseWriter, client *opensearch.Client, searchVal string) {
	searchVal = strings.TrimSpace(searchVal)
	if searchVal == "" {
		WriteJSONResponse(w, []m.Search{})
		return
	}

	query := fmt.Sprintf(`{
		"query": {
			"multi_match": {
				"query": %q,
				"type": "bool_prefix",
				"fields": ["display_name", "display_name._2gram", "email"]
			}
		}
	}`, searchVal)

	req := opensearchapi.SearchRequest{
		Index: []string{searchIndex},
		Body:  strings.NewReader(query),
	}
	response, err := req.Do(ctx, client)
	if err != nil {
		logrus.WithError(err).Error("directory search failed")
		WriteErrorToWriter(w, "Error: Failed to perform search", http.StatusBadGateway)
		return
	}
	defer response.Body.Close()

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source m.Search `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		logrus.WithError(err).Error("decoding directory search response")
		WriteErrorToWriter(w, "Error: Failed to parse search results", http.StatusBadGateway)
		return
	}

	results := make([]m.Search, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		result := hit.Source
		result.ResultType = "user"
		results = append(results, result)
	}

	WriteJSONResponse(w, results)
}
