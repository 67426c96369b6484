package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"delivery-core/internal/common/errors"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type esRequest struct {
	Method string
	Path   string
	Body   string
}

func newESServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*elasticsearch.Client, func() []esRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []esRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, esRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	return es, func() []esRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]esRequest(nil), requests...)
	}
}

func TestAuditIndex_Index(t *testing.T) {
	es, requests := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	audit := NewAuditIndex(es, "notifications")
	err := audit.Index(context.Background(), &Notification{ID: "n-1", Title: "Promo", Message: "20% off", Roles: []string{"customer"}})
	require.NoError(t, err)

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPut, got[0].Method)
	assert.Equal(t, "/notifications/_doc/n-1", got[0].Path)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(got[0].Body), &doc))
	assert.Equal(t, "Promo", doc["title"])
}

func TestAuditIndex_IndexFailureIsUpstream(t *testing.T) {
	es, _ := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"cluster_block_exception"}`))
	})

	err := NewAuditIndex(es, "notifications").Index(context.Background(), &Notification{ID: "n-1"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUpstreamUnavailable))
}

func TestAuditIndex_Search(t *testing.T) {
	es, requests := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"hits": {"hits": [
				{"_source": {"id": "n-2", "title": "Kitchen closing", "message": "early", "roles": ["restaurant"]}},
				{"_source": {"id": "n-1", "title": "Kitchen open", "message": "late", "roles": ["restaurant"]}}
			]}
		}`))
	})

	results, err := NewAuditIndex(es, "notifications").Search(context.Background(), "kitchen", "restaurant", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "n-2", results[0].ID)
	assert.Equal(t, []string{"restaurant"}, results[1].Roles)

	got := requests()
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0].Path, "/notifications/_search"))
	assert.Contains(t, got[0].Body, `"multi_match"`)
	assert.Contains(t, got[0].Body, `"roles":"restaurant"`)
}
