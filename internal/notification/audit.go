package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"delivery-core/internal/common/errors"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// AuditMapping is the index mapping for the audit mirror. Roles are keywords so
// the role filter is an exact term match.
var AuditMapping = []byte(`{
  "mappings": {
    "properties": {
      "id":        {"type": "keyword"},
      "title":     {"type": "text"},
      "message":   {"type": "text"},
      "roles":     {"type": "keyword"},
      "recipientIds": {"type": "keyword"},
      "channels":  {"type": "keyword"},
      "createdAt": {"type": "date"}
    }
  }
}`)

// AuditIndex mirrors stored notifications into Elasticsearch for full-text search.
// PostgreSQL stays the source of truth; the mirror may lag or miss documents.
type AuditIndex struct {
	es    *elasticsearch.Client
	index string
}

func NewAuditIndex(es *elasticsearch.Client, index string) *AuditIndex {
	return &AuditIndex{es: es, index: index}
}

func (a *AuditIndex) Index(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal audit document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      a.index,
		DocumentID: n.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, a.es)
	if err != nil {
		return errors.NewUpstreamUnavailableError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewUpstreamUnavailableError("elasticsearch", fmt.Errorf("index %s: %s", n.ID, res.Status()))
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source Notification `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search matches q against title and message, optionally restricted to one role.
func (a *AuditIndex) Search(ctx context.Context, q, role string, limit int) ([]Notification, error) {
	must := []map[string]interface{}{}
	if q != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q,
				"fields": []string{"title^2", "message"},
			},
		})
	}
	filter := []map[string]interface{}{}
	if role != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"roles": role},
		})
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
		"sort": []map[string]interface{}{
			{"createdAt": map[string]string{"order": "desc"}},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encode search query: %w", err)
	}

	res, err := a.es.Search(
		a.es.Search.WithContext(ctx),
		a.es.Search.WithIndex(a.index),
		a.es.Search.WithBody(&buf),
		a.es.Search.WithSize(limit),
	)
	if err != nil {
		return nil, errors.NewUpstreamUnavailableError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.NewUpstreamUnavailableError("elasticsearch", fmt.Errorf("search: %s", res.Status()))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Notification, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, hit.Source)
	}
	return results, nil
}
