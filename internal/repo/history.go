package repo

import (
	"context"
	"database/sql"

	"adoptline/internal/domain"
)

const historyColumns = `id,request_id,animal_id,previous_owner_id,adopter_id,approved_at,owner_confirmed_at,applicant_confirmed_at,completed_at,agreement_url,receipt_url`

func scanHistory(row rowScanner) (domain.HistoryEntry, error) {
	var h domain.HistoryEntry
	var approvedAt, agreementURL, receiptURL sql.NullString
	err := row.Scan(&h.ID, &h.RequestID, &h.AnimalID, &h.PreviousOwnerID, &h.AdopterID, &approvedAt,
		&h.OwnerConfirmedAt, &h.ApplicantConfirmedAt, &h.CompletedAt, &agreementURL, &receiptURL)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	h.ApprovedAt = stringPtr(approvedAt)
	h.AgreementURL = stringPtr(agreementURL)
	h.ReceiptURL = stringPtr(receiptURL)
	return h, nil
}

// InsertHistory appends a ledger entry. The unique request_id makes a second
// insert for the same request fail rather than duplicate.
func (r Repo) InsertHistory(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO history_entries(`+historyColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		h.ID, h.RequestID, h.AnimalID, h.PreviousOwnerID, h.AdopterID, nullableStringPtr(h.ApprovedAt),
		h.OwnerConfirmedAt, h.ApplicantConfirmedAt, h.CompletedAt, nullableStringPtr(h.AgreementURL), nullableStringPtr(h.ReceiptURL))
	return err
}

func (r Repo) GetHistoryByRequest(ctx context.Context, q DBTX, requestID string) (domain.HistoryEntry, error) {
	return scanHistory(q.QueryRowContext(ctx, r.q(`SELECT `+historyColumns+` FROM history_entries WHERE request_id=?`), requestID))
}

// ListHistory returns ledger entries, newest first. Empty filters match all.
func (r Repo) ListHistory(ctx context.Context, animalID, userID string) ([]domain.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM history_entries WHERE 1=1`
	var args []any
	if animalID != "" {
		query += ` AND animal_id=?`
		args = append(args, animalID)
	}
	if userID != "" {
		query += ` AND (previous_owner_id=? OR adopter_id=?)`
		args = append(args, userID, userID)
	}
	query += ` ORDER BY completed_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
