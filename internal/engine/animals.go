package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"adoptline/internal/domain"
	"adoptline/internal/events"
)

// PublishAnimalOptions describe a new listing.
type PublishAnimalOptions struct {
	ID         string
	OwnerID    string
	Name       string
	Species    string
	Breed      string
	Attributes map[string]string
}

// PublishAnimal lists an animal as available for adoption.
func (e Engine) PublishAnimal(ctx context.Context, opts PublishAnimalOptions) (a domain.Animal, err error) {
	start := time.Now()
	defer func() { e.observe("publish_animal", start, false, err) }()

	if strings.TrimSpace(opts.OwnerID) == "" {
		return a, fmt.Errorf("%w: owner_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(opts.Name) == "" {
		return a, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()
	a = domain.Animal{
		ID:            id,
		OwnerID:       strings.TrimSpace(opts.OwnerID),
		CustodyStatus: domain.CustodyAvailable,
		Name:          strings.TrimSpace(opts.Name),
		Species:       opts.Species,
		Breed:         opts.Breed,
		Attributes:    opts.Attributes,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = e.runTx(ctx, "publish_animal", func(ctx context.Context, tx *sql.Tx) error {
		if err := e.Repo.InsertAnimal(ctx, tx, a); err != nil {
			return fmt.Errorf("insert animal: %w", err)
		}
		return e.appendEvent(ctx, tx, events.AnimalPublished, events.KindAnimal, a.ID, a.OwnerID, events.EventPayload{
			"name":    a.Name,
			"species": a.Species,
		})
	})
	if err != nil {
		return domain.Animal{}, err
	}
	return a, nil
}
