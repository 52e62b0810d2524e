package engine

import (
	"context"
	"database/sql"
	"fmt"

	"adoptline/internal/directory"
	"adoptline/internal/documents"
	"adoptline/internal/domain"
	"adoptline/internal/events"
	"adoptline/internal/notify"
)

// Everything in this file runs after the transition committed. Failures are
// logged and counted, never returned.

const systemActor = "system"

func requestLink(id string) string { return "/requests/" + id }
func animalLink(id string) string  { return "/animals/" + id }

func (e Engine) users(ctx context.Context, ids ...string) map[string]directory.User {
	if e.Deps.Directory == nil {
		out := make(map[string]directory.User, len(ids))
		for _, id := range ids {
			out[id] = directory.User{ID: id, DisplayName: directory.UnknownUser}
		}
		return out
	}
	return directory.Lookup(ctx, e.Deps.Directory, ids...)
}

func party(u directory.User) documents.Party {
	return documents.Party{ID: u.ID, DisplayName: u.DisplayName, Contact: u.Contact}
}

func contactLine(u directory.User) string {
	if u.Contact == "" {
		return u.DisplayName
	}
	return fmt.Sprintf("%s (%s)", u.DisplayName, u.Contact)
}

func animalName(a domain.Animal) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

func (e Engine) notify(ctx context.Context, n notify.Notification) {
	if e.Deps.Notifier == nil || n.UserID == "" {
		return
	}
	if err := e.Deps.Notifier.Notify(ctx, n); err != nil {
		e.log().WarnContext(ctx, "notification failed", "user_id", n.UserID, "kind", n.Kind, "err", err)
		e.Deps.Metrics.IncSideEffectFailure("notify")
	}
}

func (e Engine) sideEffectFailed(ctx context.Context, kind, msg string, err error, attrs ...any) {
	e.log().WarnContext(ctx, msg, append(attrs, "err", err)...)
	e.Deps.Metrics.IncSideEffectFailure(kind)
}

func (e Engine) afterCreate(ctx context.Context, req domain.AdoptionRequest) {
	animal, err := e.Repo.GetAnimal(ctx, e.DB, req.AnimalID)
	if err != nil {
		e.sideEffectFailed(ctx, "notify", "load animal for notification", err, "animal_id", req.AnimalID)
		return
	}
	users := e.users(ctx, req.ApplicantID)
	e.notify(ctx, notify.Notification{
		UserID:  req.OwnerID,
		Kind:    notify.KindRequestReceived,
		Message: fmt.Sprintf("%s asked to adopt %s.", users[req.ApplicantID].DisplayName, animalName(animal)),
		Link:    requestLink(req.ID),
	})
}

// afterApproval issues the agreement and tells both parties, and every
// suppressed applicant, about the outcome.
func (e Engine) afterApproval(ctx context.Context, req domain.AdoptionRequest, animal domain.Animal, suppressed []domain.AdoptionRequest) domain.AdoptionRequest {
	users := e.users(ctx, req.OwnerID, req.ApplicantID)
	owner, adopter := users[req.OwnerID], users[req.ApplicantID]
	if url, ok := e.issueAgreement(ctx, req, animal, owner, adopter); ok {
		req.AgreementURL = &url
	}
	e.notify(ctx, notify.Notification{
		UserID:  req.ApplicantID,
		Kind:    notify.KindRequestApproved,
		Message: fmt.Sprintf("Your request to adopt %s was approved. Contact the owner: %s.", animalName(animal), contactLine(owner)),
		Link:    requestLink(req.ID),
	})
	e.notify(ctx, notify.Notification{
		UserID:  req.OwnerID,
		Kind:    notify.KindRequestApproved,
		Message: fmt.Sprintf("You approved the request for %s. Contact the adopter: %s.", animalName(animal), contactLine(adopter)),
		Link:    requestLink(req.ID),
	})
	e.notifySuppressed(ctx, animal, suppressed)
	return req
}

func (e Engine) notifySuppressed(ctx context.Context, animal domain.Animal, suppressed []domain.AdoptionRequest) {
	for _, s := range suppressed {
		e.notify(ctx, notify.Notification{
			UserID:  s.ApplicantID,
			Kind:    notify.KindRequestRejected,
			Message: fmt.Sprintf("Your request to adopt %s was declined: %s.", animalName(animal), SuppressionReason),
			Link:    requestLink(s.ID),
		})
	}
}

func (e Engine) afterReject(ctx context.Context, req domain.AdoptionRequest) {
	msg := "Your adoption request was declined."
	if req.RejectionReason != "" {
		msg = fmt.Sprintf("Your adoption request was declined: %s.", req.RejectionReason)
	}
	e.notify(ctx, notify.Notification{
		UserID:  req.ApplicantID,
		Kind:    notify.KindRequestRejected,
		Message: msg,
		Link:    requestLink(req.ID),
	})
}

func (e Engine) afterHandoverInitiated(ctx context.Context, req domain.AdoptionRequest, animal domain.Animal) {
	e.notify(ctx, notify.Notification{
		UserID:  req.OwnerID,
		Kind:    notify.KindHandoverStarted,
		Message: fmt.Sprintf("Handover of %s started. Confirm once you have handed the animal over.", animalName(animal)),
		Link:    animalLink(animal.ID),
	})
	e.notify(ctx, notify.Notification{
		UserID:  req.ApplicantID,
		Kind:    notify.KindHandoverStarted,
		Message: fmt.Sprintf("Handover of %s started. Confirm once you have received the animal.", animalName(animal)),
		Link:    animalLink(animal.ID),
	})
}

func (e Engine) afterConfirmation(ctx context.Context, req domain.AdoptionRequest, animal domain.Animal, confirmed Party) {
	target, msg := req.ApplicantID, fmt.Sprintf("The owner confirmed handing over %s. Please confirm receipt.", animalName(animal))
	if confirmed == PartyApplicant {
		target, msg = req.OwnerID, fmt.Sprintf("The adopter confirmed receiving %s. Please confirm the handover.", animalName(animal))
	}
	e.notify(ctx, notify.Notification{
		UserID:  target,
		Kind:    notify.KindAwaitingParty,
		Message: msg,
		Link:    requestLink(req.ID),
	})
}

// afterFinalize issues the receipt and announces the completed adoption.
// previous is the animal as it was before custody changed.
func (e Engine) afterFinalize(ctx context.Context, req domain.AdoptionRequest, previous domain.Animal) domain.AdoptionRequest {
	e.Deps.Metrics.IncFinalized()
	e.log().InfoContext(ctx, "adoption completed", "request_id", req.ID, "animal_id", req.AnimalID, "adopter_id", req.ApplicantID)
	users := e.users(ctx, previous.OwnerID, req.ApplicantID)
	owner, adopter := users[previous.OwnerID], users[req.ApplicantID]
	if url, ok := e.issueReceipt(ctx, req, previous, owner, adopter); ok {
		req.ReceiptURL = &url
	}
	for _, id := range []string{previous.OwnerID, req.ApplicantID} {
		e.notify(ctx, notify.Notification{
			UserID:  id,
			Kind:    notify.KindAdoptionComplete,
			Message: fmt.Sprintf("The adoption of %s is complete. %s is now its owner.", animalName(previous), adopter.DisplayName),
			Link:    requestLink(req.ID),
		})
	}
	return req
}

func (e Engine) afterCancel(ctx context.Context, req domain.AdoptionRequest, animal domain.Animal) {
	e.notify(ctx, notify.Notification{
		UserID:  req.ApplicantID,
		Kind:    notify.KindHandoverCanceled,
		Message: fmt.Sprintf("The handover of %s was cancelled: %s.", animalName(animal), req.RejectionReason),
		Link:    requestLink(req.ID),
	})
}

func (e Engine) issueAgreement(ctx context.Context, req domain.AdoptionRequest, animal domain.Animal, owner, adopter directory.User) (string, bool) {
	if e.Deps.Documents == nil {
		return "", false
	}
	approvedAt := ""
	if req.ReviewedAt != nil {
		approvedAt = *req.ReviewedAt
	}
	url, err := e.Deps.Documents.Issue(ctx, documents.AgreementDocument{
		RequestID:  req.ID,
		AnimalID:   animal.ID,
		AnimalName: animalName(animal),
		Species:    animal.Species,
		Breed:      animal.Breed,
		Owner:      party(owner),
		Adopter:    party(adopter),
		Answers:    req.Answers,
		ApprovedAt: approvedAt,
	})
	if err != nil {
		e.sideEffectFailed(ctx, "document", "agreement generation failed", err, "request_id", req.ID)
		return "", false
	}
	err = e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		attached, err := e.Repo.SetAgreementURL(ctx, tx, req.ID, url)
		if err != nil || !attached {
			return err
		}
		return e.appendEvent(ctx, tx, events.DocumentAttached, events.KindRequest, req.ID, systemActor, events.EventPayload{
			"kind": string(documents.KindAgreement),
			"url":  url,
		})
	})
	if err != nil {
		e.sideEffectFailed(ctx, "document", "attach agreement failed", err, "request_id", req.ID)
		return "", false
	}
	return url, true
}

func (e Engine) issueReceipt(ctx context.Context, req domain.AdoptionRequest, animal domain.Animal, owner, adopter directory.User) (string, bool) {
	if e.Deps.Documents == nil {
		return "", false
	}
	doc := documents.ReceiptDocument{
		RequestID:     req.ID,
		AnimalID:      animal.ID,
		AnimalName:    animalName(animal),
		PreviousOwner: party(owner),
		Adopter:       party(adopter),
	}
	if req.Delivery != nil {
		doc.Delivery = *req.Delivery
	}
	if req.OwnerDeliveryConfirmedAt != nil {
		doc.OwnerConfirmedAt = *req.OwnerDeliveryConfirmedAt
	}
	if req.ApplicantDeliveryConfirmedAt != nil {
		doc.ApplicantConfirmedAt = *req.ApplicantDeliveryConfirmedAt
	}
	if req.CompletedAt != nil {
		doc.CompletedAt = *req.CompletedAt
	}
	url, err := e.Deps.Documents.Issue(ctx, doc)
	if err != nil {
		e.sideEffectFailed(ctx, "document", "receipt generation failed", err, "request_id", req.ID)
		return "", false
	}
	err = e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		attached, err := e.Repo.SetReceiptURL(ctx, tx, req.ID, url)
		if err != nil || !attached {
			return err
		}
		return e.appendEvent(ctx, tx, events.DocumentAttached, events.KindRequest, req.ID, systemActor, events.EventPayload{
			"kind": string(documents.KindReceipt),
			"url":  url,
		})
	})
	if err != nil {
		e.sideEffectFailed(ctx, "document", "attach receipt failed", err, "request_id", req.ID)
		return "", false
	}
	return url, true
}
