package engine

import (
	"context"
	"fmt"

	"adoptline/internal/directory"
	"adoptline/internal/domain"
	"adoptline/internal/repo"
)

func (e Engine) GetAnimal(ctx context.Context, id string) (domain.Animal, error) {
	return e.loadAnimal(ctx, e.DB, id)
}

func (e Engine) ListAnimals(ctx context.Context, ownerID string, status domain.CustodyStatus) ([]domain.Animal, error) {
	return e.Repo.ListAnimals(ctx, ownerID, status)
}

func (e Engine) GetRequest(ctx context.Context, id string) (domain.AdoptionRequest, error) {
	return e.loadRequest(ctx, e.DB, id)
}

// ParseRole accepts "applicant", "owner" or "" / "any".
func ParseRole(s string) (repo.Role, error) {
	switch s {
	case "", "any":
		return repo.RoleAny, nil
	case string(repo.RoleApplicant):
		return repo.RoleApplicant, nil
	case string(repo.RoleOwner):
		return repo.RoleOwner, nil
	}
	return "", fmt.Errorf("%w: role must be applicant, owner or any", ErrInvalidInput)
}

// ListRequestsForUser returns the requests a user submitted, received as
// owner, or both.
func (e Engine) ListRequestsForUser(ctx context.Context, userID string, role repo.Role, status domain.RequestStatus) ([]domain.AdoptionRequest, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return e.Repo.ListRequestsForUser(ctx, userID, role, status)
}

// PendingCount counts pending requests for the user in the given role.
func (e Engine) PendingCount(ctx context.Context, userID string, role repo.Role) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return e.Repo.CountPending(ctx, userID, role)
}

func (e Engine) ListRequestsForAnimal(ctx context.Context, animalID string) ([]domain.AdoptionRequest, error) {
	if _, err := e.loadAnimal(ctx, e.DB, animalID); err != nil {
		return nil, err
	}
	return e.Repo.ListRequestsForAnimal(ctx, animalID)
}

func (e Engine) ListHistory(ctx context.Context, animalID, userID string) ([]domain.HistoryEntry, error) {
	return e.Repo.ListHistory(ctx, animalID, userID)
}

func (e Engine) LatestEvents(ctx context.Context, entityKind, entityID string, limit int) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, entityKind, entityID, limit)
}

func (e Engine) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, afterID, limit)
}

// User resolves a user id through the directory, falling back to a
// placeholder name.
func (e Engine) User(ctx context.Context, id string) directory.User {
	return e.users(ctx, id)[id]
}
