package events

import (
	"context"
	"fmt"
	"time"

	"kyc-service/internal/models"
)

// DocumentStore is satisfied by client.ESClient.
type DocumentStore interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
	Search(ctx context.Context, index string, query map[string]interface{}, target interface{}) error
}

// VerificationDocument is the searchable projection of a record. Provider
// payloads and verification URLs stay out of the index.
type VerificationDocument struct {
	Reference       string    `json:"reference"`
	UserID          string    `json:"user_id"`
	Status          string    `json:"status"`
	AttemptCount    int       `json:"attempt_count"`
	ParentReference string    `json:"parent_reference,omitempty"`
	SupersededBy    string    `json:"superseded_by,omitempty"`
	LastEvent       string    `json:"last_event,omitempty"`
	DeclineCodes    []string  `json:"decline_codes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SearchFilter narrows GET /kyc/verifications.
type SearchFilter struct {
	Status string
	UserID string
	Size   int
}

const maxSearchSize = 100

// SearchIndexer keeps one Elasticsearch document per reference.
type SearchIndexer struct {
	store DocumentStore
	index string
}

func NewSearchIndexer(store DocumentStore, index string) *SearchIndexer {
	return &SearchIndexer{store: store, index: index}
}

func (s *SearchIndexer) Name() string { return "elasticsearch" }

func (s *SearchIndexer) StatusChanged(ctx context.Context, _ *models.StatusChange, rec *models.VerificationRecord) error {
	if rec == nil {
		return nil
	}
	return s.store.IndexDocument(ctx, s.index, rec.Reference, toDocument(rec))
}

func (s *SearchIndexer) WebhookReceived(ctx context.Context, _ *models.WebhookReceipt) error {
	return nil
}

// Search returns matching documents, most recently updated first.
func (s *SearchIndexer) Search(ctx context.Context, filter SearchFilter) ([]VerificationDocument, int, error) {
	size := filter.Size
	if size <= 0 || size > maxSearchSize {
		size = maxSearchSize
	}

	var must []interface{}
	if filter.Status != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"status": filter.Status}})
	}
	if filter.UserID != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"user_id": filter.UserID}})
	}

	query := map[string]interface{}{
		"size": size,
		"sort": []interface{}{map[string]interface{}{"updated_at": map[string]interface{}{"order": "desc"}}},
	}
	if len(must) > 0 {
		query["query"] = map[string]interface{}{"bool": map[string]interface{}{"filter": must}}
	} else {
		query["query"] = map[string]interface{}{"match_all": map[string]interface{}{}}
	}

	var result struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source VerificationDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := s.store.Search(ctx, s.index, query, &result); err != nil {
		return nil, 0, fmt.Errorf("verification search failed: %w", err)
	}

	docs := make([]VerificationDocument, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		docs = append(docs, h.Source)
	}
	return docs, result.Hits.Total.Value, nil
}

func toDocument(rec *models.VerificationRecord) VerificationDocument {
	return VerificationDocument{
		Reference:       rec.Reference,
		UserID:          rec.UserID,
		Status:          rec.Status.String(),
		AttemptCount:    rec.AttemptCount,
		ParentReference: rec.ParentReference,
		SupersededBy:    rec.SupersededBy,
		LastEvent:       rec.LastEvent,
		DeclineCodes:    rec.DeclineCodes,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}
