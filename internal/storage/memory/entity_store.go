// Package memory provides store implementations for development/testing.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

type entityKey struct {
	kind     harvest.Kind
	sourceID string
}

// EntityStore keeps content entities in a map keyed by (kind, source id).
type EntityStore struct {
	mu       sync.RWMutex
	entities map[entityKey]harvest.ContentEntity
}

// NewEntityStore constructs an EntityStore.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities: make(map[entityKey]harvest.ContentEntity),
	}
}

// FindEntity fetches an entity or harvest.ErrNotFound.
func (s *EntityStore) FindEntity(_ context.Context, kind harvest.Kind, sourceID string) (harvest.ContentEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[entityKey{kind, sourceID}]
	if !ok {
		return harvest.ContentEntity{}, harvest.ErrNotFound
	}
	return entity, nil
}

// UpsertEntity creates or overwrites the entity for the key. At most one
// entity exists per (kind, source id); repeats update in place.
func (s *EntityStore) UpsertEntity(_ context.Context, kind harvest.Kind, sourceID string, fields harvest.EntityFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entityKey{kind, sourceID}] = harvest.ContentEntity{
		Kind:        kind,
		SourceID:    sourceID,
		Title:       fields.Title,
		Body:        fields.Body,
		AuthorID:    fields.AuthorID,
		AuthorName:  fields.AuthorName,
		Category:    fields.Category,
		Tags:        append([]string(nil), fields.Tags...),
		PublishedAt: fields.PublishedAt,
		WordCount:   fields.WordCount,
		ReadingTime: fields.ReadingTime,
		HasImages:   fields.HasImages,
		HasCode:     fields.HasCode,
		SnapshotURI: fields.SnapshotURI,
		Status:      fields.Status,
		FailureText: fields.FailureText,
		CrawledAt:   fields.CrawledAt,
	}
	return nil
}
