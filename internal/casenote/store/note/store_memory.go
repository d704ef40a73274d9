// Package note persists case notes.
//
// Error contract for every store:
//   - sentinel.ErrNotFound when the note does not exist
//   - sentinel.ErrConflict when an ID or originating file is already taken
//   - validate errors are returned unchanged and nothing is written
//   - a mutation that leaves the note invalid is returned as the note's
//     Validate error and nothing is written
package note

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
)

// InMemoryStore keeps notes in a map guarded by one mutex. Reads return
// copies so callers never observe or cause unlocked mutation.
type InMemoryStore struct {
	mu       sync.RWMutex
	notes    map[id.CaseNoteID]*models.CaseNote
	byUpload map[id.FileUploadID]id.CaseNoteID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		notes:    make(map[id.CaseNoteID]*models.CaseNote),
		byUpload: make(map[id.FileUploadID]id.CaseNoteID),
	}
}

func clone(n *models.CaseNote) *models.CaseNote {
	c := *n
	if n.ConfidenceScore != nil {
		v := *n.ConfidenceScore
		c.ConfidenceScore = &v
	}
	if n.FileUploadID != nil {
		v := *n.FileUploadID
		c.FileUploadID = &v
	}
	if n.PreviousVersionID != nil {
		v := *n.PreviousVersionID
		c.PreviousVersionID = &v
	}
	if n.SupersededBy != nil {
		v := *n.SupersededBy
		c.SupersededBy = &v
	}
	if n.ReviewedBy != nil {
		v := *n.ReviewedBy
		c.ReviewedBy = &v
	}
	return &c
}

func (s *InMemoryStore) Create(_ context.Context, n *models.CaseNote) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(n)
}

func (s *InMemoryStore) insertLocked(n *models.CaseNote) error {
	if _, ok := s.notes[n.ID]; ok {
		return fmt.Errorf("case note %s: %w", n.ID, sentinel.ErrConflict)
	}
	if n.FileUploadID != nil {
		if _, ok := s.byUpload[*n.FileUploadID]; ok {
			return fmt.Errorf("file upload %s already linked: %w", *n.FileUploadID, sentinel.ErrConflict)
		}
		s.byUpload[*n.FileUploadID] = n.ID
	}
	s.notes[n.ID] = clone(n)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, noteID id.CaseNoteID) (*models.CaseNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[noteID]
	if !ok {
		return nil, fmt.Errorf("case note %s: %w", noteID, sentinel.ErrNotFound)
	}
	return clone(n), nil
}

func (s *InMemoryStore) FindByFileUpload(_ context.Context, uploadID id.FileUploadID) (*models.CaseNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	noteID, ok := s.byUpload[uploadID]
	if !ok {
		return nil, fmt.Errorf("case note for upload %s: %w", uploadID, sentinel.ErrNotFound)
	}
	return clone(s.notes[noteID]), nil
}

// ListByPatient returns every version of the patient's notes, oldest first.
func (s *InMemoryStore) ListByPatient(_ context.Context, patientID id.PatientID) ([]*models.CaseNote, error) {
	return s.list(func(n *models.CaseNote) bool { return n.PatientID == patientID }), nil
}

// ListRequiringReview returns notes awaiting a review decision, oldest first.
func (s *InMemoryStore) ListRequiringReview(_ context.Context) ([]*models.CaseNote, error) {
	return s.list(func(n *models.CaseNote) bool { return n.RequiresReview }), nil
}

func (s *InMemoryStore) list(keep func(*models.CaseNote) bool) []*models.CaseNote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CaseNote, 0)
	for _, n := range s.notes {
		if keep(n) {
			out = append(out, clone(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Execute validates and mutates a note under the store lock. The mutation is
// applied to a copy that replaces the stored note only if it validates.
func (s *InMemoryStore) Execute(_ context.Context, noteID id.CaseNoteID, validate func(*models.CaseNote) error, mutate func(*models.CaseNote)) (*models.CaseNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.notes[noteID]
	if !ok {
		return nil, fmt.Errorf("case note %s: %w", noteID, sentinel.ErrNotFound)
	}
	next := clone(current)
	if err := validate(next); err != nil {
		return nil, err
	}
	mutate(next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	s.notes[noteID] = next
	return clone(next), nil
}

// AppendVersion inserts next and applies mutate to prevID as one write. mutate
// is expected to link prev to next with ApplySupersededBy.
func (s *InMemoryStore) AppendVersion(_ context.Context, prevID id.CaseNoteID, validate func(*models.CaseNote) error, mutate func(prev *models.CaseNote), next *models.CaseNote) (*models.CaseNote, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.notes[prevID]
	if !ok {
		return nil, fmt.Errorf("case note %s: %w", prevID, sentinel.ErrNotFound)
	}
	prev := clone(current)
	if err := validate(prev); err != nil {
		return nil, err
	}
	mutate(prev)
	if err := prev.Validate(); err != nil {
		return nil, err
	}
	if err := s.insertLocked(next); err != nil {
		return nil, err
	}
	s.notes[prevID] = prev
	return clone(prev), nil
}
