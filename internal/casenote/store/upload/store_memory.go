// Package upload persists file uploads. Errors follow the note store contract.
package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	uploads map[id.FileUploadID]*models.FileUpload
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{uploads: make(map[id.FileUploadID]*models.FileUpload)}
}

func (s *InMemoryStore) Create(_ context.Context, u *models.FileUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploads[u.ID]; ok {
		return fmt.Errorf("file upload %s: %w", u.ID, sentinel.ErrConflict)
	}
	c := *u
	s.uploads[u.ID] = &c
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, uploadID id.FileUploadID) (*models.FileUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[uploadID]
	if !ok {
		return nil, fmt.Errorf("file upload %s: %w", uploadID, sentinel.ErrNotFound)
	}
	c := *u
	return &c, nil
}

// Execute validates and mutates an upload under the store lock.
func (s *InMemoryStore) Execute(_ context.Context, uploadID id.FileUploadID, validate func(*models.FileUpload) error, mutate func(*models.FileUpload)) (*models.FileUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.uploads[uploadID]
	if !ok {
		return nil, fmt.Errorf("file upload %s: %w", uploadID, sentinel.ErrNotFound)
	}
	next := *current
	if err := validate(&next); err != nil {
		return nil, err
	}
	mutate(&next)
	s.uploads[uploadID] = &next
	out := next
	return &out, nil
}
