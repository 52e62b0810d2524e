package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"adoptline/internal/domain"
)

const requestColumns = `id,animal_id,applicant_id,owner_id,status,answers_json,rejection_reason,owner_delivery_confirmed_at,applicant_delivery_confirmed_at,delivery_json,reviewed_at,completed_at,agreement_url,receipt_url,created_at,updated_at`

// Role filters requests by the side the user is on.
type Role string

const (
	RoleAny       Role = ""
	RoleApplicant Role = "applicant"
	RoleOwner     Role = "owner"
)

func scanRequest(row rowScanner) (domain.AdoptionRequest, error) {
	var req domain.AdoptionRequest
	var answers, reason, ownerAt, applicantAt, delivery, reviewedAt, completedAt, agreementURL, receiptURL sql.NullString
	err := row.Scan(&req.ID, &req.AnimalID, &req.ApplicantID, &req.OwnerID, &req.Status, &answers, &reason,
		&ownerAt, &applicantAt, &delivery, &reviewedAt, &completedAt, &agreementURL, &receiptURL, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	req.RejectionReason = reason.String
	req.OwnerDeliveryConfirmedAt = stringPtr(ownerAt)
	req.ApplicantDeliveryConfirmedAt = stringPtr(applicantAt)
	req.ReviewedAt = stringPtr(reviewedAt)
	req.CompletedAt = stringPtr(completedAt)
	req.AgreementURL = stringPtr(agreementURL)
	req.ReceiptURL = stringPtr(receiptURL)
	if answers.Valid && answers.String != "" {
		if err := json.Unmarshal([]byte(answers.String), &req.Answers); err != nil {
			return req, fmt.Errorf("decode request answers: %w", err)
		}
	}
	if delivery.Valid && delivery.String != "" {
		var d domain.DeliveryDetails
		if err := json.Unmarshal([]byte(delivery.String), &d); err != nil {
			return req, fmt.Errorf("decode delivery details: %w", err)
		}
		req.Delivery = &d
	}
	return req, nil
}

func scanRequests(rows *sql.Rows) ([]domain.AdoptionRequest, error) {
	defer rows.Close()
	var res []domain.AdoptionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// InsertRequestIfAbsent stores req unless a request with the same id exists.
// It reports whether a row was written.
func (r Repo) InsertRequestIfAbsent(ctx context.Context, tx *sql.Tx, req domain.AdoptionRequest) (bool, error) {
	answers, err := marshalNullable(req.Answers, len(req.Answers) == 0)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, r.q(`INSERT INTO adoption_requests(id,animal_id,applicant_id,owner_id,status,answers_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`),
		req.ID, req.AnimalID, req.ApplicantID, req.OwnerID, string(req.Status), answers, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetRequest(ctx context.Context, q DBTX, id string) (domain.AdoptionRequest, error) {
	return scanRequest(q.QueryRowContext(ctx, r.q(`SELECT `+requestColumns+` FROM adoption_requests WHERE id=?`), id))
}

// UpdateRequest writes the mutable fields of req, guarded by the status the
// request was read with.
func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, req domain.AdoptionRequest, expected domain.RequestStatus) error {
	var delivery any
	if req.Delivery != nil {
		var err error
		delivery, err = marshalNullable(req.Delivery, req.Delivery.Empty())
		if err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, r.q(`UPDATE adoption_requests SET status=?, rejection_reason=?, owner_delivery_confirmed_at=?, applicant_delivery_confirmed_at=?, delivery_json=?, reviewed_at=?, completed_at=?, updated_at=?
WHERE id=? AND status=?`),
		string(req.Status), nullable(req.RejectionReason), nullableStringPtr(req.OwnerDeliveryConfirmedAt), nullableStringPtr(req.ApplicantDeliveryConfirmedAt),
		delivery, nullableStringPtr(req.ReviewedAt), nullableStringPtr(req.CompletedAt), req.UpdatedAt,
		req.ID, string(expected))
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r Repo) ListPendingForAnimal(ctx context.Context, q DBTX, animalID string) ([]domain.AdoptionRequest, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT `+requestColumns+` FROM adoption_requests WHERE animal_id=? AND status=? ORDER BY created_at, id`),
		animalID, string(domain.RequestPending))
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (r Repo) ListRequestsForAnimal(ctx context.Context, animalID string) ([]domain.AdoptionRequest, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+requestColumns+` FROM adoption_requests WHERE animal_id=? ORDER BY created_at, id`), animalID)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func roleClause(role Role) (string, int, error) {
	switch role {
	case RoleApplicant:
		return `applicant_id=?`, 1, nil
	case RoleOwner:
		return `owner_id=?`, 1, nil
	case RoleAny:
		return `(applicant_id=? OR owner_id=?)`, 2, nil
	default:
		return "", 0, fmt.Errorf("invalid role %q", role)
	}
}

// ListRequestsForUser returns requests where userID is the applicant, the
// owner, or either, optionally narrowed to one status.
func (r Repo) ListRequestsForUser(ctx context.Context, userID string, role Role, status domain.RequestStatus) ([]domain.AdoptionRequest, error) {
	clause, n, err := roleClause(role)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, n+1)
	for i := 0; i < n; i++ {
		args = append(args, userID)
	}
	query := `SELECT ` + requestColumns + ` FROM adoption_requests WHERE ` + clause
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (r Repo) CountPending(ctx context.Context, userID string, role Role) (int, error) {
	clause, n, err := roleClause(role)
	if err != nil {
		return 0, err
	}
	args := make([]any, 0, n+1)
	for i := 0; i < n; i++ {
		args = append(args, userID)
	}
	args = append(args, string(domain.RequestPending))
	var count int
	err = r.DB.QueryRowContext(ctx, r.q(`SELECT count(*) FROM adoption_requests WHERE `+clause+` AND status=?`), args...).Scan(&count)
	return count, err
}

// SetAgreementURL attaches the agreement artifact once; later calls are no-ops.
func (r Repo) SetAgreementURL(ctx context.Context, q DBTX, requestID, url string) (bool, error) {
	res, err := q.ExecContext(ctx, r.q(`UPDATE adoption_requests SET agreement_url=? WHERE id=? AND agreement_url IS NULL`), url, requestID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetReceiptURL attaches the receipt artifact to the request and its history
// entry once.
func (r Repo) SetReceiptURL(ctx context.Context, tx *sql.Tx, requestID, url string) (bool, error) {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE adoption_requests SET receipt_url=? WHERE id=? AND receipt_url IS NULL`), url, requestID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, r.q(`UPDATE history_entries SET receipt_url=? WHERE request_id=? AND receipt_url IS NULL`), url, requestID); err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListMissingDocuments returns approved requests without an agreement and
// completed requests without a receipt.
func (r Repo) ListMissingDocuments(ctx context.Context, limit int) ([]domain.AdoptionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM adoption_requests
WHERE ((status=? OR status=?) AND agreement_url IS NULL) OR (status=? AND receipt_url IS NULL)
ORDER BY updated_at, id`
	args := []any{string(domain.RequestApproved), string(domain.RequestCompleted), string(domain.RequestCompleted)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

// LatestRequestForAnimal returns the most recently updated request of the
// animal in the given status.
func (r Repo) LatestRequestForAnimal(ctx context.Context, q DBTX, animalID string, status domain.RequestStatus) (domain.AdoptionRequest, error) {
	return scanRequest(q.QueryRowContext(ctx, r.q(`SELECT `+requestColumns+` FROM adoption_requests WHERE animal_id=? AND status=? ORDER BY updated_at DESC, id LIMIT 1`),
		animalID, string(status)))
}
