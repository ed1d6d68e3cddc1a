package services

import (
	"context"
	"fmt"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/repository"
)

// PeopleService is the admin view of person records.
type PeopleService struct {
	people     repository.PersonRepository
	reconciler *Reconciler
	log        logging.Logger
}

func NewPeopleService(people repository.PersonRepository, reconciler *Reconciler, log logging.Logger) *PeopleService {
	return &PeopleService{people: people, reconciler: reconciler, log: log}
}

// PersonView is a person with the other holders of its email.
type PersonView struct {
	Person  *models.Person  `json:"person"`
	Holders []models.Person `json:"holders"`
}

func (s *PeopleService) Get(id uint) (PersonView, error) {
	p, err := s.people.GetByID(id)
	if err != nil {
		return PersonView{}, err
	}
	holders, err := s.people.ListByEmail(p.Email)
	if err != nil {
		return PersonView{}, err
	}
	return PersonView{Person: p, Holders: holders}, nil
}

// Trash unpublishes a person, severs its account link and hands the primary
// role to another holder of the email if there is one.
func (s *PeopleService) Trash(ctx context.Context, id uint) error {
	p, err := s.people.GetByID(id)
	if err != nil {
		return err
	}
	if err := s.people.Trash(id); err != nil {
		return fmt.Errorf("failed to trash person %d: %w", id, err)
	}
	s.log.Info("trashed person", "id", id, "email", p.Email)
	return s.reconciler.Reconcile(ctx, p.Email)
}
