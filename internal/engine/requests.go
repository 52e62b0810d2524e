package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"adoptline/internal/domain"
	"adoptline/internal/engine/auth"
	"adoptline/internal/events"
	"adoptline/internal/repo"
)

// CreateRequestOptions are parameters for submitting an adoption request.
type CreateRequestOptions struct {
	AnimalID    string
	ApplicantID string
	Answers     []domain.Answer
}

// CreateRequest records the applicant's interest in an animal. Submitting
// again for the same pair returns the stored request with created=false.
func (e Engine) CreateRequest(ctx context.Context, opts CreateRequestOptions) (req domain.AdoptionRequest, created bool, err error) {
	start := time.Now()
	defer func() { e.observe("create_request", start, !created, err) }()

	opts.AnimalID = strings.TrimSpace(opts.AnimalID)
	opts.ApplicantID = strings.TrimSpace(opts.ApplicantID)
	if opts.AnimalID == "" || opts.ApplicantID == "" {
		return req, false, fmt.Errorf("%w: animal_id and applicant_id are required", ErrInvalidInput)
	}
	for i, a := range opts.Answers {
		if strings.TrimSpace(a.Question) == "" {
			return req, false, fmt.Errorf("%w: answer %d has no question", ErrInvalidInput, i)
		}
	}
	id := RequestID(opts.AnimalID, opts.ApplicantID)

	err = e.runTx(ctx, "create_request", func(ctx context.Context, tx *sql.Tx) error {
		created = false
		existing, err := e.Repo.GetRequest(ctx, tx, id)
		if err == nil {
			req = existing
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		animal, err := e.loadAnimal(ctx, tx, opts.AnimalID)
		if err != nil {
			return err
		}
		if animal.OwnerID == opts.ApplicantID {
			return ErrSelfAdoption
		}
		if animal.CustodyStatus != domain.CustodyAvailable {
			return fmt.Errorf("%w: %s is %s", ErrAnimalNotAvailable, animal.ID, animal.CustodyStatus)
		}
		// Claims the animal row so an approval committing concurrently makes
		// this transaction conflict instead of leaving a stray pending request.
		if err := e.Repo.GuardAnimal(ctx, tx, animal.ID, animal.Version); err != nil {
			return err
		}
		now := e.stamp()
		req = domain.AdoptionRequest{
			ID:          id,
			AnimalID:    animal.ID,
			ApplicantID: opts.ApplicantID,
			OwnerID:     animal.OwnerID,
			Status:      domain.RequestPending,
			Answers:     opts.Answers,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		inserted, err := e.Repo.InsertRequestIfAbsent(ctx, tx, req)
		if err != nil {
			return err
		}
		if !inserted {
			req, err = e.Repo.GetRequest(ctx, tx, id)
			return err
		}
		created = true
		return e.appendEvent(ctx, tx, events.RequestCreated, events.KindRequest, req.ID, req.ApplicantID, events.EventPayload{
			"animal_id": req.AnimalID,
			"owner_id":  req.OwnerID,
			"answers":   len(req.Answers),
		})
	})
	if err != nil {
		return domain.AdoptionRequest{}, false, err
	}
	if created {
		e.afterCreate(ctx, req)
	}
	return req, created, nil
}

// ApproveRequest accepts a pending request, reserves the animal and rejects
// every other pending request for it, all in one transaction.
func (e Engine) ApproveRequest(ctx context.Context, requestID, actorID string) (req domain.AdoptionRequest, err error) {
	start := time.Now()
	var (
		noop       bool
		animal     domain.Animal
		suppressed []domain.AdoptionRequest
	)
	defer func() { e.observe("approve_request", start, noop, err) }()

	err = e.runTx(ctx, "approve_request", func(ctx context.Context, tx *sql.Tx) error {
		noop, suppressed = false, nil
		var err error
		req, err = e.loadRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := auth.RequireRequestOwner(auth.ActionApprove, actorID, req); err != nil {
			return err
		}
		if req.Status == domain.RequestApproved || req.Status == domain.RequestCompleted {
			noop = true
			return nil
		}
		if err := ensureRequestTransition(req.Status, domain.RequestApproved, false); err != nil {
			return err
		}
		animal, err = e.loadAnimal(ctx, tx, req.AnimalID)
		if err != nil {
			return err
		}
		if animal.CustodyStatus != domain.CustodyAvailable {
			return fmt.Errorf("%w: %s is %s", ErrAnimalNotAvailable, animal.ID, animal.CustodyStatus)
		}
		now := e.stamp()
		animal.CustodyStatus = domain.CustodyReserved
		animal.UpdatedAt = now
		if err := e.Repo.UpdateAnimalState(ctx, tx, animal); err != nil {
			return err
		}
		req.Status = domain.RequestApproved
		req.ReviewedAt = &now
		req.UpdatedAt = now
		if err := e.Repo.UpdateRequest(ctx, tx, req, domain.RequestPending); err != nil {
			return err
		}
		suppressed, err = e.suppressCompeting(ctx, tx, animal.ID, req.ID, actorID, now)
		if err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.RequestApproved, events.KindRequest, req.ID, actorID, events.EventPayload{
			"animal_id":  animal.ID,
			"suppressed": len(suppressed),
		})
	})
	if err != nil {
		return domain.AdoptionRequest{}, err
	}
	if noop {
		return req, nil
	}
	req = e.afterApproval(ctx, req, animal, suppressed)
	return req, nil
}

// suppressCompeting rejects every pending request of the animal except keep.
func (e Engine) suppressCompeting(ctx context.Context, tx *sql.Tx, animalID, keep, actorID, now string) ([]domain.AdoptionRequest, error) {
	pending, err := e.Repo.ListPendingForAnimal(ctx, tx, animalID)
	if err != nil {
		return nil, err
	}
	var out []domain.AdoptionRequest
	for _, other := range pending {
		if other.ID == keep {
			continue
		}
		other.Status = domain.RequestRejected
		other.RejectionReason = SuppressionReason
		other.ReviewedAt = &now
		other.UpdatedAt = now
		if err := e.Repo.UpdateRequest(ctx, tx, other, domain.RequestPending); err != nil {
			return nil, err
		}
		if err := e.appendEvent(ctx, tx, events.RequestSuppressed, events.KindRequest, other.ID, actorID, events.EventPayload{
			"animal_id":   animalID,
			"approved_id": keep,
		}); err != nil {
			return nil, err
		}
		out = append(out, other)
	}
	return out, nil
}

// RejectRequest declines a single pending request. The animal is untouched.
func (e Engine) RejectRequest(ctx context.Context, requestID, actorID, reason string) (req domain.AdoptionRequest, err error) {
	start := time.Now()
	var noop bool
	defer func() { e.observe("reject_request", start, noop, err) }()

	err = e.runTx(ctx, "reject_request", func(ctx context.Context, tx *sql.Tx) error {
		noop = false
		var err error
		req, err = e.loadRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := auth.RequireRequestOwner(auth.ActionReject, actorID, req); err != nil {
			return err
		}
		if req.Status == domain.RequestRejected {
			noop = true
			return nil
		}
		if err := ensureRequestTransition(req.Status, domain.RequestRejected, false); err != nil {
			return err
		}
		now := e.stamp()
		req.Status = domain.RequestRejected
		req.RejectionReason = strings.TrimSpace(reason)
		req.ReviewedAt = &now
		req.UpdatedAt = now
		if err := e.Repo.UpdateRequest(ctx, tx, req, domain.RequestPending); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.RequestRejected, events.KindRequest, req.ID, actorID, events.EventPayload{
			"animal_id": req.AnimalID,
			"reason":    req.RejectionReason,
		})
	})
	if err != nil {
		return domain.AdoptionRequest{}, err
	}
	if !noop {
		e.afterReject(ctx, req)
	}
	return req, nil
}
