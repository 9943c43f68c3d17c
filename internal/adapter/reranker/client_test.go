package reranker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dgchat/internal/adapter/reranker"
	"dgchat/internal/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Rerank_Providers(t *testing.T) {
	tests := []struct {
		provider  string
		key       string
		wantModel string
	}{
		{reranker.ProviderJina, "k1", "jina-reranker-v2-base-multilingual"},
		{reranker.ProviderCohere, "k2", "rerank-english-v3.0"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/rerank", r.URL.Path)
				assert.Equal(t, "Bearer "+tt.key, r.Header.Get("Authorization"))

				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, tt.wantModel, body["model"])
				assert.Equal(t, "stowage of class 3", body["query"])
				assert.Equal(t, float64(3), body["top_n"])

				json.NewEncoder(w).Encode(map[string]interface{}{
					"results": []map[string]interface{}{
						{"index": 2, "relevance_score": 0.9},
						{"index": 0, "relevance_score": 0.4},
						{"index": 0, "relevance_score": 0.3},
						{"index": 7, "relevance_score": 0.2},
						{"index": 1, "relevance_score": 0.1},
					},
				})
			}))
			defer ts.Close()

			client := reranker.NewClient(tt.provider, "", tt.key)
			client.SetBaseURL(ts.URL + "/v1/rerank")

			got, err := client.Rerank(context.Background(), "stowage of class 3", []string{"d0", "d1", "d2"})
			require.NoError(t, err)
			assert.Equal(t, []retrieval.Ranking{
				{Index: 2, Score: 0.9},
				{Index: 0, Score: 0.4},
				{Index: 1, Score: 0.1},
			}, got)
		})
	}
}

func TestClient_Rerank_None(t *testing.T) {
	client := reranker.NewClient(reranker.ProviderNone, "", "")
	got, err := client.Rerank(context.Background(), "q", []string{"d1", "d2"})
	require.NoError(t, err)
	assert.Equal(t, []retrieval.Ranking{{Index: 0, Score: 1}, {Index: 1, Score: 0.5}}, got)

	empty, err := client.Rerank(context.Background(), "q", nil)
	assert.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClient_Rerank_ErrorHandling(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"invalid query"}`))
	}))
	defer ts.Close()

	client := reranker.NewClient(reranker.ProviderJina, "custom-model", "k1")
	client.SetBaseURL(ts.URL)

	_, err := client.Rerank(context.Background(), "q", []string{"d1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jina api error: 400")
	assert.Contains(t, err.Error(), `{"detail":"invalid query"}`)
}
