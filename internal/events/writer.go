package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"adoptline/internal/db"
)

const (
	RequestCreated             = "request.created"
	RequestApproved            = "request.approved"
	RequestRejected            = "request.rejected"
	RequestSuppressed          = "request.suppressed"
	HandoverInitiated          = "handover.initiated"
	HandoverOwnerConfirmed     = "handover.owner_confirmed"
	HandoverApplicantConfirmed = "handover.applicant_confirmed"
	HandoverCancelled          = "handover.cancelled"
	AdoptionCompleted          = "adoption.completed"
	DocumentAttached           = "document.attached"
	AnimalPublished            = "animal.published"
)

const (
	KindAnimal  = "animal"
	KindRequest = "request"
)

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
