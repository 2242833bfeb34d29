// Package contact keeps the emergency contact directory readable offline.
package contact

import (
	"context"
	"fmt"

	"floodwatch/internal/model"
	"floodwatch/internal/service/storage"
	"floodwatch/internal/util"

	"github.com/go-playground/validator/v10"
)

type ContactService struct {
	store    storage.Store
	validate *validator.Validate
}

func NewContactService(store storage.Store) *ContactService {
	return &ContactService{store: store, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Save stores a contact, assigning an id when it has none
func (s *ContactService) Save(ctx context.Context, c model.EmergencyContact) (model.EmergencyContact, error) {
	if err := s.validate.Struct(c); err != nil {
		return c, fmt.Errorf("invalid contact: %w", err)
	}
	if c.ID == "" {
		c.ID = util.NewID("ctc")
	}
	index := map[string]string{model.IndexType: string(c.Type)}
	if err := storage.PutJSON(ctx, s.store, model.PartitionEmergencyContacts, c.ID, c, index, 0); err != nil {
		return c, err
	}
	return c, nil
}

// List returns contacts of one type, or all of them for an empty type
func (s *ContactService) List(ctx context.Context, typ model.ContactType) ([]model.EmergencyContact, error) {
	var filter *storage.IndexFilter
	if typ != "" {
		filter = storage.By(model.IndexType, string(typ))
	}
	return storage.ListJSON[model.EmergencyContact](ctx, s.store, model.PartitionEmergencyContacts, filter)
}

func (s *ContactService) Remove(ctx context.Context, id string) error {
	return s.store.Remove(ctx, model.PartitionEmergencyContacts, id)
}
