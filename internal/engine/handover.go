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

// Party names one side of the handshake.
type Party string

const (
	PartyOwner     Party = "owner"
	PartyApplicant Party = "applicant"
)

func (p Party) counterpart() Party {
	if p == PartyOwner {
		return PartyApplicant
	}
	return PartyOwner
}

// ConfirmResult reports where the handshake stands after a confirmation.
type ConfirmResult struct {
	Request domain.AdoptionRequest `json:"request"`
	Animal  domain.Animal          `json:"animal"`
	// Finalized is true only for the call that completed the adoption.
	Finalized bool `json:"finalized"`
	// AlreadyCompleted is true when the adoption had completed before the call.
	AlreadyCompleted bool `json:"already_completed"`
	// WaitingOn names the party whose confirmation is still missing.
	WaitingOn Party `json:"waiting_on,omitempty"`
}

// InitiateHandover stages delivery for a request: the animal becomes
// handover_pending for the request's applicant with both confirmations unset.
// A pending request is approved on the way, suppressing its competitors.
func (e Engine) InitiateHandover(ctx context.Context, requestID, actorID string) (req domain.AdoptionRequest, animal domain.Animal, err error) {
	start := time.Now()
	var (
		noop       bool
		approved   bool
		suppressed []domain.AdoptionRequest
	)
	defer func() { e.observe("initiate_handover", start, noop, err) }()

	err = e.runTx(ctx, "initiate_handover", func(ctx context.Context, tx *sql.Tx) error {
		noop, approved, suppressed = false, false, nil
		var err error
		req, err = e.loadRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := auth.RequireRequestOwner(auth.ActionInitiate, actorID, req); err != nil {
			return err
		}
		animal, err = e.loadAnimal(ctx, tx, req.AnimalID)
		if err != nil {
			return err
		}
		if req.Status == domain.RequestCompleted {
			noop = true
			return nil
		}
		if req.Status == domain.RequestRejected {
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, req.Status)
		}
		if animal.CustodyStatus == domain.CustodyHandoverPending && animal.Handover.SelectedApplicantID == req.ApplicantID {
			noop = true
			return nil
		}
		switch {
		case animal.CustodyStatus == domain.CustodyAvailable:
		case animal.CustodyStatus == domain.CustodyReserved && req.Status == domain.RequestApproved:
		default:
			return fmt.Errorf("%w: %s is %s", ErrAnimalNotAvailable, animal.ID, animal.CustodyStatus)
		}
		if err := ensureCustodyTransition(animal.CustodyStatus, domain.CustodyHandoverPending, false); err != nil {
			return err
		}
		now := e.stamp()
		animal.CustodyStatus = domain.CustodyHandoverPending
		animal.Handover = &domain.Handover{SelectedApplicantID: req.ApplicantID}
		animal.UpdatedAt = now
		if err := e.Repo.UpdateAnimalState(ctx, tx, animal); err != nil {
			return err
		}
		animal.Version++
		expected := req.Status
		// Confirmations given before the handover was staged do not count
		// towards it; both sides confirm again.
		reset := req.OwnerDeliveryConfirmedAt != nil || req.ApplicantDeliveryConfirmedAt != nil
		req.OwnerDeliveryConfirmedAt, req.ApplicantDeliveryConfirmedAt = nil, nil
		if req.Status == domain.RequestPending {
			req.Status = domain.RequestApproved
			req.ReviewedAt = &now
		}
		if expected == domain.RequestPending || reset {
			req.UpdatedAt = now
			if err := e.Repo.UpdateRequest(ctx, tx, req, expected); err != nil {
				return err
			}
		}
		if expected == domain.RequestPending {
			approved = true
			if err := e.appendEvent(ctx, tx, events.RequestApproved, events.KindRequest, req.ID, actorID, events.EventPayload{
				"animal_id": animal.ID,
				"via":       "handover",
			}); err != nil {
				return err
			}
		}
		suppressed, err = e.suppressCompeting(ctx, tx, animal.ID, req.ID, actorID, now)
		if err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.HandoverInitiated, events.KindAnimal, animal.ID, actorID, events.EventPayload{
			"request_id":   req.ID,
			"applicant_id": req.ApplicantID,
			"suppressed":   len(suppressed),
		})
	})
	if err != nil {
		return domain.AdoptionRequest{}, domain.Animal{}, err
	}
	if noop {
		return req, animal, nil
	}
	if approved {
		req = e.afterApproval(ctx, req, animal, suppressed)
	} else {
		e.notifySuppressed(ctx, animal, suppressed)
	}
	e.afterHandoverInitiated(ctx, req, animal)
	return req, animal, nil
}

// ConfirmHandoverByOwner records that the owner handed the animal over. The
// call finalizes the adoption when the applicant has already confirmed.
func (e Engine) ConfirmHandoverByOwner(ctx context.Context, animalID, ownerID string, details domain.DeliveryDetails) (ConfirmResult, error) {
	return e.confirm(ctx, "confirm_handover_owner", PartyOwner, ownerID, details, func(ctx context.Context, tx *sql.Tx) (domain.AdoptionRequest, domain.Animal, error) {
		animal, err := e.loadAnimal(ctx, tx, animalID)
		if err != nil {
			return domain.AdoptionRequest{}, animal, err
		}
		switch animal.CustodyStatus {
		case domain.CustodyAdopted:
			req, err := e.completedRequest(ctx, tx, animal.ID)
			if err != nil {
				return req, animal, err
			}
			return req, animal, auth.RequireRequestOwner(auth.ActionConfirmOwner, ownerID, req)
		case domain.CustodyHandoverPending:
		default:
			return domain.AdoptionRequest{}, animal, fmt.Errorf("%w: no handover pending for %s", ErrInvalidTransition, animal.ID)
		}
		if err := auth.RequireOwner(auth.ActionConfirmOwner, ownerID, animal); err != nil {
			return domain.AdoptionRequest{}, animal, err
		}
		req, err := e.loadRequest(ctx, tx, RequestID(animal.ID, animal.Handover.SelectedApplicantID))
		return req, animal, err
	})
}

// ConfirmReceiptByApplicant records that the selected applicant received the
// animal. The call finalizes the adoption when the owner has already confirmed.
func (e Engine) ConfirmReceiptByApplicant(ctx context.Context, animalID, applicantID string, details domain.DeliveryDetails) (ConfirmResult, error) {
	return e.confirm(ctx, "confirm_receipt_applicant", PartyApplicant, applicantID, details, func(ctx context.Context, tx *sql.Tx) (domain.AdoptionRequest, domain.Animal, error) {
		animal, err := e.loadAnimal(ctx, tx, animalID)
		if err != nil {
			return domain.AdoptionRequest{}, animal, err
		}
		switch animal.CustodyStatus {
		case domain.CustodyAdopted:
			req, err := e.completedRequest(ctx, tx, animal.ID)
			if err != nil {
				return req, animal, err
			}
			return req, animal, auth.RequireApplicant(auth.ActionConfirmReceipt, applicantID, req)
		case domain.CustodyHandoverPending:
		default:
			return domain.AdoptionRequest{}, animal, fmt.Errorf("%w: no handover pending for %s", ErrInvalidTransition, animal.ID)
		}
		if err := auth.RequireSelectedApplicant(auth.ActionConfirmReceipt, applicantID, animal); err != nil {
			return domain.AdoptionRequest{}, animal, err
		}
		req, err := e.loadRequest(ctx, tx, RequestID(animal.ID, applicantID))
		return req, animal, err
	})
}

// ConfirmDeliveryAsOwner is the request-level confirmation used when delivery
// was not staged through InitiateHandover.
func (e Engine) ConfirmDeliveryAsOwner(ctx context.Context, requestID, animalID, actorID string, details domain.DeliveryDetails) (ConfirmResult, error) {
	return e.confirm(ctx, "confirm_delivery_owner", PartyOwner, actorID, details, e.locateByRequest(requestID, animalID, func(req domain.AdoptionRequest) error {
		return auth.RequireRequestOwner(auth.ActionDeliveryOwner, actorID, req)
	}))
}

// ConfirmDeliveryAsAdopter is the applicant's request-level confirmation.
func (e Engine) ConfirmDeliveryAsAdopter(ctx context.Context, requestID, animalID, actorID string, details domain.DeliveryDetails) (ConfirmResult, error) {
	return e.confirm(ctx, "confirm_delivery_adopter", PartyApplicant, actorID, details, e.locateByRequest(requestID, animalID, func(req domain.AdoptionRequest) error {
		return auth.RequireApplicant(auth.ActionDeliveryAdopter, actorID, req)
	}))
}

type locateFunc func(ctx context.Context, tx *sql.Tx) (domain.AdoptionRequest, domain.Animal, error)

func (e Engine) locateByRequest(requestID, animalID string, authorize func(domain.AdoptionRequest) error) locateFunc {
	return func(ctx context.Context, tx *sql.Tx) (domain.AdoptionRequest, domain.Animal, error) {
		req, err := e.loadRequest(ctx, tx, requestID)
		if err != nil {
			return req, domain.Animal{}, err
		}
		if animalID != "" && req.AnimalID != animalID {
			return req, domain.Animal{}, fmt.Errorf("%w: request %s is not for animal %s", ErrInvalidInput, req.ID, animalID)
		}
		if err := authorize(req); err != nil {
			return req, domain.Animal{}, err
		}
		animal, err := e.loadAnimal(ctx, tx, req.AnimalID)
		return req, animal, err
	}
}

func (e Engine) completedRequest(ctx context.Context, tx *sql.Tx, animalID string) (domain.AdoptionRequest, error) {
	req, err := e.Repo.LatestRequestForAnimal(ctx, tx, animalID, domain.RequestCompleted)
	if errors.Is(err, repo.ErrNotFound) {
		return req, fmt.Errorf("%w: no completed request for %s", ErrInvalidTransition, animalID)
	}
	return req, err
}

// confirm sets the party's confirmation on the request, and on the animal
// when a handover is staged, then finalizes in the same transaction once both
// request timestamps are present.
func (e Engine) confirm(ctx context.Context, op string, party Party, actorID string, details domain.DeliveryDetails, locate locateFunc) (res ConfirmResult, err error) {
	start := time.Now()
	var (
		changed  bool
		previous domain.Animal
	)
	defer func() { e.observe(op, start, !changed && !res.Finalized, err) }()

	err = e.runTx(ctx, op, func(ctx context.Context, tx *sql.Tx) error {
		res, changed = ConfirmResult{}, false
		req, animal, err := locate(ctx, tx)
		if err != nil {
			return err
		}
		res.Request, res.Animal = req, animal
		if req.Status == domain.RequestCompleted {
			res.AlreadyCompleted = true
			return nil
		}
		if req.Status != domain.RequestApproved {
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, req.Status)
		}
		switch animal.CustodyStatus {
		case domain.CustodyReserved:
		case domain.CustodyHandoverPending:
			if animal.Handover.SelectedApplicantID != req.ApplicantID {
				return fmt.Errorf("%w: handover is staged for another applicant", ErrInvalidTransition)
			}
		case domain.CustodyAdopted:
			// Request approved while the animal is adopted cannot occur through
			// the engine; treat it as a completed adoption.
			res.AlreadyCompleted = true
			return nil
		default:
			return fmt.Errorf("%w: animal is %s", ErrInvalidTransition, animal.CustodyStatus)
		}

		now := e.stamp()
		changed = applyConfirmation(&req, &animal, party, now)
		if !details.Empty() {
			merged := mergeDelivery(req.Delivery, details)
			req.Delivery = &merged
			changed = true
		}
		if changed {
			evt := events.HandoverOwnerConfirmed
			if party == PartyApplicant {
				evt = events.HandoverApplicantConfirmed
			}
			if err := e.appendEvent(ctx, tx, evt, events.KindRequest, req.ID, actorID, events.EventPayload{
				"animal_id": animal.ID,
				"staged":    animal.Handover != nil,
			}); err != nil {
				return err
			}
		}
		if req.BothConfirmed() {
			previous = animal
			req, animal, err = e.finalizeTx(ctx, tx, req, animal, actorID)
			if err != nil {
				return err
			}
			res.Request, res.Animal, res.Finalized = req, animal, true
			return nil
		}
		if changed {
			// The animal row is written even for a request-level confirmation:
			// the version bump makes a concurrent confirmation by the
			// counterpart conflict and retry instead of overwriting this one.
			animal.UpdatedAt = now
			if err := e.Repo.UpdateAnimalState(ctx, tx, animal); err != nil {
				return err
			}
			animal.Version++
			req.UpdatedAt = now
			if err := e.Repo.UpdateRequest(ctx, tx, req, domain.RequestApproved); err != nil {
				return err
			}
		}
		res.Request, res.Animal = req, animal
		res.WaitingOn = party.counterpart()
		return nil
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	switch {
	case res.Finalized:
		res.Request = e.afterFinalize(ctx, res.Request, previous)
	case changed:
		e.afterConfirmation(ctx, res.Request, res.Animal, party)
	}
	return res, nil
}

// applyConfirmation records party's confirmation once; later calls keep the
// first timestamp. It reports whether anything changed.
func applyConfirmation(req *domain.AdoptionRequest, animal *domain.Animal, party Party, now string) bool {
	changed := false
	switch party {
	case PartyOwner:
		if req.OwnerDeliveryConfirmedAt == nil {
			req.OwnerDeliveryConfirmedAt = &now
			changed = true
		}
		if animal.Handover != nil && !animal.Handover.OwnerConfirmedHandover {
			animal.Handover.OwnerConfirmedHandover = true
			changed = true
		}
	case PartyApplicant:
		if req.ApplicantDeliveryConfirmedAt == nil {
			req.ApplicantDeliveryConfirmedAt = &now
			changed = true
		}
		if animal.Handover != nil && !animal.Handover.ApplicantConfirmedReceipt {
			animal.Handover.ApplicantConfirmedReceipt = true
			changed = true
		}
	}
	return changed
}

func mergeDelivery(existing *domain.DeliveryDetails, in domain.DeliveryDetails) domain.DeliveryDetails {
	var out domain.DeliveryDetails
	if existing != nil {
		out = *existing
	}
	if s := strings.TrimSpace(in.Location); s != "" {
		out.Location = s
	}
	out.Checklist = appendUnique(out.Checklist, in.Checklist)
	out.PhotoURLs = appendUnique(out.PhotoURLs, in.PhotoURLs)
	if s := strings.TrimSpace(in.Notes); s != "" {
		if out.Notes == "" {
			out.Notes = s
		} else if !strings.Contains(out.Notes, s) {
			out.Notes += "\n" + s
		}
	}
	return out
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

// finalizeTx transfers custody: the animal is adopted by the applicant, the
// request completes and a ledger entry is appended. Callers ensure both
// confirmations are present and the animal is not adopted yet.
func (e Engine) finalizeTx(ctx context.Context, tx *sql.Tx, req domain.AdoptionRequest, animal domain.Animal, actorID string) (domain.AdoptionRequest, domain.Animal, error) {
	if err := ensureCustodyTransition(animal.CustodyStatus, domain.CustodyAdopted, false); err != nil {
		return req, animal, err
	}
	if err := ensureRequestTransition(req.Status, domain.RequestCompleted, false); err != nil {
		return req, animal, err
	}
	now := e.stamp()
	previousOwner := animal.OwnerID
	animal.CustodyStatus = domain.CustodyAdopted
	animal.OwnerID = req.ApplicantID
	animal.AdoptedAt = &now
	animal.Handover = nil
	animal.UpdatedAt = now
	if err := e.Repo.UpdateAnimalState(ctx, tx, animal); err != nil {
		return req, animal, err
	}
	animal.Version++

	req.Status = domain.RequestCompleted
	req.CompletedAt = &now
	req.UpdatedAt = now
	if err := e.Repo.UpdateRequest(ctx, tx, req, domain.RequestApproved); err != nil {
		return req, animal, err
	}

	entry := domain.HistoryEntry{
		ID:                   HistoryID(req.ID),
		RequestID:            req.ID,
		AnimalID:             animal.ID,
		PreviousOwnerID:      previousOwner,
		AdopterID:            req.ApplicantID,
		ApprovedAt:           req.ReviewedAt,
		OwnerConfirmedAt:     *req.OwnerDeliveryConfirmedAt,
		ApplicantConfirmedAt: *req.ApplicantDeliveryConfirmedAt,
		CompletedAt:          now,
		AgreementURL:         req.AgreementURL,
	}
	if err := e.Repo.InsertHistory(ctx, tx, entry); err != nil {
		return req, animal, fmt.Errorf("append history: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.AdoptionCompleted, events.KindAnimal, animal.ID, actorID, events.EventPayload{
		"request_id":        req.ID,
		"previous_owner_id": previousOwner,
		"adopter_id":        req.ApplicantID,
	}); err != nil {
		return req, animal, err
	}
	return req, animal, nil
}

// Finalize completes an approved request whose parties have both confirmed.
// Only the owner or applicant may call it. It is idempotent and normally runs
// as part of the second confirmation.
func (e Engine) Finalize(ctx context.Context, requestID, actorID string) (res ConfirmResult, err error) {
	start := time.Now()
	var previous domain.Animal
	defer func() { e.observe("finalize", start, !res.Finalized, err) }()

	err = e.runTx(ctx, "finalize", func(ctx context.Context, tx *sql.Tx) error {
		res = ConfirmResult{}
		req, err := e.loadRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := auth.RequireParty(auth.ActionFinalize, actorID, req); err != nil {
			return err
		}
		animal, err := e.loadAnimal(ctx, tx, req.AnimalID)
		if err != nil {
			return err
		}
		res.Request, res.Animal = req, animal
		if req.Status == domain.RequestCompleted || animal.CustodyStatus == domain.CustodyAdopted {
			res.AlreadyCompleted = true
			return nil
		}
		if req.Status != domain.RequestApproved {
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, req.Status)
		}
		if !req.BothConfirmed() {
			if req.OwnerDeliveryConfirmedAt == nil {
				res.WaitingOn = PartyOwner
			} else {
				res.WaitingOn = PartyApplicant
			}
			return nil
		}
		previous = animal
		req, animal, err = e.finalizeTx(ctx, tx, req, animal, actorID)
		if err != nil {
			return err
		}
		res.Request, res.Animal, res.Finalized = req, animal, true
		return nil
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	if res.Finalized {
		res.Request = e.afterFinalize(ctx, res.Request, previous)
	}
	return res, nil
}

// CancelHandover returns a reserved or handover_pending animal to available
// and rejects the request it was held for.
func (e Engine) CancelHandover(ctx context.Context, animalID, ownerID, reason string) (animal domain.Animal, err error) {
	start := time.Now()
	var (
		noop bool
		req  domain.AdoptionRequest
	)
	defer func() { e.observe("cancel_handover", start, noop, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "handover cancelled by owner"
	}
	err = e.runTx(ctx, "cancel_handover", func(ctx context.Context, tx *sql.Tx) error {
		noop = false
		var err error
		animal, err = e.loadAnimal(ctx, tx, animalID)
		if err != nil {
			return err
		}
		if err := auth.RequireOwner(auth.ActionCancel, ownerID, animal); err != nil {
			return err
		}
		if animal.CustodyStatus == domain.CustodyAvailable {
			noop = true
			return nil
		}
		if err := ensureCustodyTransition(animal.CustodyStatus, domain.CustodyAvailable, true); err != nil {
			return err
		}
		if animal.Handover != nil {
			req, err = e.loadRequest(ctx, tx, RequestID(animal.ID, animal.Handover.SelectedApplicantID))
		} else {
			req, err = e.Repo.LatestRequestForAnimal(ctx, tx, animal.ID, domain.RequestApproved)
			if errors.Is(err, repo.ErrNotFound) {
				err = fmt.Errorf("%w: no approved request for %s", ErrInvalidTransition, animal.ID)
			}
		}
		if err != nil {
			return err
		}
		now := e.stamp()
		selected := req.ApplicantID
		animal.CustodyStatus = domain.CustodyAvailable
		animal.Handover = nil
		animal.UpdatedAt = now
		if err := e.Repo.UpdateAnimalState(ctx, tx, animal); err != nil {
			return err
		}
		animal.Version++
		if req.Status == domain.RequestApproved {
			if err := ensureRequestTransition(req.Status, domain.RequestRejected, true); err != nil {
				return err
			}
			req.Status = domain.RequestRejected
			req.RejectionReason = reason
			req.UpdatedAt = now
			if err := e.Repo.UpdateRequest(ctx, tx, req, domain.RequestApproved); err != nil {
				return err
			}
		}
		return e.appendEvent(ctx, tx, events.HandoverCancelled, events.KindAnimal, animal.ID, ownerID, events.EventPayload{
			"request_id":   req.ID,
			"applicant_id": selected,
			"reason":       reason,
		})
	})
	if err != nil {
		return domain.Animal{}, err
	}
	if !noop {
		e.afterCancel(ctx, req, animal)
	}
	return animal, nil
}
