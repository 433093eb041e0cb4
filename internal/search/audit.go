package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"example.com/backstage/services/keygate/config"
	"example.com/backstage/services/keygate/internal/gate"
	"example.com/backstage/services/keygate/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Audit event types
const (
	EventEscalation = "escalation"
	EventKeyIssued  = "key_issued"
)

const indexTimeout = 10 * time.Second

// Event is one audit document
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Path      string    `json:"path,omitempty"`
	Referer   string    `json:"referer,omitempty"`
	Key       string    `json:"key,omitempty"`
	Owner     string    `json:"owner,omitempty"`
	Source    string    `json:"source,omitempty"`
	Blacklist string    `json:"blacklist_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Expiry    string    `json:"expiry,omitempty"`
}

// AuditIndexer writes audit events to Elasticsearch.
// A nil *AuditIndexer drops every event.
type AuditIndexer struct {
	client *elasticsearch.Client
	index  string
	wg     sync.WaitGroup
}

// NewAuditIndexer creates a new Elasticsearch audit indexer
func NewAuditIndexer(cfg config.ElasticConfig) (*AuditIndexer, error) {
	return newAuditIndexer(cfg, nil)
}

func newAuditIndexer(cfg config.ElasticConfig, transport http.RoundTripper) (*AuditIndexer, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &AuditIndexer{
		client: client,
		index:  cfg.Index,
	}, nil
}

// RecordEscalation indexes a Gate escalation in the background
func (a *AuditIndexer) RecordEscalation(ctx context.Context, req gate.Request, entry *models.BlacklistEntry) {
	if a == nil || entry == nil {
		return
	}
	a.async(ctx, Event{
		Type:      EventEscalation,
		ClientIP:  req.ClientIP,
		Path:      req.Path,
		Referer:   req.Referer,
		Blacklist: entry.ID,
		Reason:    entry.Reason,
		Expiry:    entry.Expiry.String(),
	})
}

// KeyIssued indexes a newly minted key in the background
func (a *AuditIndexer) KeyIssued(ctx context.Context, key *models.AccessKey, source string) {
	if a == nil || key == nil {
		return
	}
	a.async(ctx, Event{
		Type:   EventKeyIssued,
		Key:    key.Token,
		Owner:  key.Owner,
		Source: source,
		Expiry: key.Expiry.String(),
	})
}

func (a *AuditIndexer) async(ctx context.Context, event Event) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexTimeout)
		defer cancel()
		if err := a.Index(ctx, event); err != nil {
			log.Warn().Err(err).Str("type", event.Type).Msg("Failed to index audit event")
		}
	}()
}

// Wait blocks until background indexing finishes
func (a *AuditIndexer) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}

// Index writes one event synchronously
func (a *AuditIndexer) Index(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	// Marshall the document to JSON
	docJSON, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit event")
	}

	// Prepare the index request
	req := esapi.IndexRequest{
		Index:      a.index,
		DocumentID: event.ID,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	// Execute the request
	res, err := req.Do(ctx, a.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	// Check for errors in the response
	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("id", event.ID).Str("type", event.Type).Msg("audit event indexed")
	return nil
}

// Recent returns the newest events, optionally of one type
func (a *AuditIndexer) Recent(ctx context.Context, eventType string, size int) ([]Event, error) {
	if a == nil {
		return []Event{}, nil
	}
	if size <= 0 {
		size = 50
	}

	query := map[string]interface{}{
		"size": size,
		"sort": []interface{}{map[string]interface{}{"time": map[string]string{"order": "desc"}}},
	}
	if eventType != "" {
		query["query"] = map[string]interface{}{
			"term": map[string]interface{}{"type": eventType},
		}
	}

	// Convert query to JSON
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	// Prepare the search request
	req := esapi.SearchRequest{
		Index: []string{a.index},
		Body:  bytes.NewReader(queryJSON),
	}

	// Execute the request
	res, err := req.Do(ctx, a.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	// Check for errors in the response
	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	// Parse the response
	var result struct {
		Hits struct {
			Hits []struct {
				Source Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	events := make([]Event, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}
