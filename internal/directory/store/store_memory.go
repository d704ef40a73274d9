// Package store persists patients and users.
//
// Create returns sentinel.ErrAlreadyUsed when a unique identifier (NHS
// number, email, practitioner identifier) is taken; lookups return
// sentinel.ErrNotFound.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
)

type InMemoryPatients struct {
	mu       sync.RWMutex
	patients map[id.PatientID]*models.Patient
	byNHS    map[id.NHSNumber]id.PatientID
}

func NewInMemoryPatients() *InMemoryPatients {
	return &InMemoryPatients{
		patients: make(map[id.PatientID]*models.Patient),
		byNHS:    make(map[id.NHSNumber]id.PatientID),
	}
}

func (s *InMemoryPatients) Create(_ context.Context, p *models.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byNHS[p.NHSNumber]; ok {
		return fmt.Errorf("nhs number: %w", sentinel.ErrAlreadyUsed)
	}
	if _, ok := s.patients[p.ID]; ok {
		return fmt.Errorf("patient %s: %w", p.ID, sentinel.ErrConflict)
	}
	c := *p
	s.patients[p.ID] = &c
	s.byNHS[p.NHSNumber] = p.ID
	return nil
}

func (s *InMemoryPatients) FindByID(_ context.Context, patientID id.PatientID) (*models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, sentinel.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (s *InMemoryPatients) FindByNHSNumber(ctx context.Context, nhs id.NHSNumber) (*models.Patient, error) {
	s.mu.RLock()
	patientID, ok := s.byNHS[nhs]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("patient with nhs number: %w", sentinel.ErrNotFound)
	}
	return s.FindByID(ctx, patientID)
}

func (s *InMemoryPatients) Execute(_ context.Context, patientID id.PatientID, validate func(*models.Patient) error, mutate func(*models.Patient)) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.patients[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, sentinel.ErrNotFound)
	}
	next := *current
	if err := validate(&next); err != nil {
		return nil, err
	}
	mutate(&next)
	s.patients[patientID] = &next
	out := next
	return &out, nil
}

type InMemoryUsers struct {
	mu      sync.RWMutex
	users   map[id.UserID]*models.User
	byEmail map[string]id.UserID
	byNHSID map[string]id.UserID
}

func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{
		users:   make(map[id.UserID]*models.User),
		byEmail: make(map[string]id.UserID),
		byNHSID: make(map[string]id.UserID),
	}
}

func (s *InMemoryUsers) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return fmt.Errorf("email: %w", sentinel.ErrAlreadyUsed)
	}
	if _, ok := s.byNHSID[u.NHSID]; ok {
		return fmt.Errorf("practitioner identifier: %w", sentinel.ErrAlreadyUsed)
	}
	c := *u
	s.users[u.ID] = &c
	s.byEmail[u.Email] = u.ID
	s.byNHSID[u.NHSID] = u.ID
	return nil
}

func (s *InMemoryUsers) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, sentinel.ErrNotFound)
	}
	c := *u
	return &c, nil
}
