package auth

import (
	"errors"
	"fmt"

	"adoptline/internal/domain"
)

// Actions checked by the engine.
const (
	ActionApprove         = "request.approve"
	ActionReject          = "request.reject"
	ActionInitiate        = "handover.initiate"
	ActionCancel          = "handover.cancel"
	ActionConfirmOwner    = "handover.confirm_owner"
	ActionConfirmReceipt  = "handover.confirm_receipt"
	ActionDeliveryOwner   = "delivery.confirm_owner"
	ActionDeliveryAdopter = "delivery.confirm_adopter"
	ActionFinalize        = "request.finalize"
)

// ErrActorRequired is returned when an operation is attempted anonymously.
var ErrActorRequired = errors.New("actor_id required")

// ForbiddenError indicates the caller is not the party the action belongs to.
type ForbiddenError struct {
	Action  string
	ActorID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s may not perform %s", e.ActorID, e.Action)
}

func requireActor(actorID string) error {
	if actorID == "" {
		return ErrActorRequired
	}
	return nil
}

// RequireOwner checks that actorID is the animal's current custodian.
func RequireOwner(action, actorID string, a domain.Animal) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if a.OwnerID != actorID {
		return ForbiddenError{Action: action, ActorID: actorID}
	}
	return nil
}

// RequireRequestOwner checks actorID against the owner recorded on the request.
func RequireRequestOwner(action, actorID string, r domain.AdoptionRequest) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if r.OwnerID != actorID {
		return ForbiddenError{Action: action, ActorID: actorID}
	}
	return nil
}

// RequireApplicant checks that actorID submitted the request.
func RequireApplicant(action, actorID string, r domain.AdoptionRequest) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if r.ApplicantID != actorID {
		return ForbiddenError{Action: action, ActorID: actorID}
	}
	return nil
}

// RequireParty checks that actorID is the request's owner or applicant.
func RequireParty(action, actorID string, r domain.AdoptionRequest) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if r.OwnerID != actorID && r.ApplicantID != actorID {
		return ForbiddenError{Action: action, ActorID: actorID}
	}
	return nil
}

// RequireSelectedApplicant checks that actorID is the applicant chosen for
// the animal's pending handover.
func RequireSelectedApplicant(action, actorID string, a domain.Animal) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if a.Handover == nil || a.Handover.SelectedApplicantID != actorID {
		return ForbiddenError{Action: action, ActorID: actorID}
	}
	return nil
}
