package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"adoptline/internal/domain"
)

const animalColumns = `id,owner_id,custody_status,selected_applicant_id,owner_confirmed_handover,applicant_confirmed_receipt,name,species,breed,attributes_json,adopted_at,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnimal(row rowScanner) (domain.Animal, error) {
	var a domain.Animal
	var selected, species, breed, attrs, adoptedAt sql.NullString
	var ownerConfirmed, applicantConfirmed sql.NullInt64
	err := row.Scan(&a.ID, &a.OwnerID, &a.CustodyStatus, &selected, &ownerConfirmed, &applicantConfirmed,
		&a.Name, &species, &breed, &attrs, &adoptedAt, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if selected.Valid {
		a.Handover = &domain.Handover{
			SelectedApplicantID:       selected.String,
			OwnerConfirmedHandover:    ownerConfirmed.Valid && ownerConfirmed.Int64 != 0,
			ApplicantConfirmedReceipt: applicantConfirmed.Valid && applicantConfirmed.Int64 != 0,
		}
	}
	a.Species = species.String
	a.Breed = breed.String
	a.AdoptedAt = stringPtr(adoptedAt)
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &a.Attributes); err != nil {
			return a, fmt.Errorf("decode animal attributes: %w", err)
		}
	}
	return a, nil
}

func handoverArgs(h *domain.Handover) (selected, owner, applicant any) {
	if h == nil {
		return nil, nil, nil
	}
	return h.SelectedApplicantID, boolInt(h.OwnerConfirmedHandover), boolInt(h.ApplicantConfirmedReceipt)
}

func (r Repo) InsertAnimal(ctx context.Context, q DBTX, a domain.Animal) error {
	attrs, err := marshalNullable(a.Attributes, len(a.Attributes) == 0)
	if err != nil {
		return err
	}
	selected, ownerConfirmed, applicantConfirmed := handoverArgs(a.Handover)
	_, err = q.ExecContext(ctx, r.q(`INSERT INTO animals(`+animalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		a.ID, a.OwnerID, string(a.CustodyStatus), selected, ownerConfirmed, applicantConfirmed,
		a.Name, nullable(a.Species), nullable(a.Breed), attrs, nullableStringPtr(a.AdoptedAt), a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAnimal(ctx context.Context, q DBTX, id string) (domain.Animal, error) {
	return scanAnimal(q.QueryRowContext(ctx, r.q(`SELECT `+animalColumns+` FROM animals WHERE id=?`), id))
}

// UpdateAnimalState writes the custody-related fields of a, guarded by the
// version it was read at. The stored version is bumped on success.
func (r Repo) UpdateAnimalState(ctx context.Context, tx *sql.Tx, a domain.Animal) error {
	selected, ownerConfirmed, applicantConfirmed := handoverArgs(a.Handover)
	res, err := tx.ExecContext(ctx, r.q(`UPDATE animals SET owner_id=?, custody_status=?, selected_applicant_id=?, owner_confirmed_handover=?, applicant_confirmed_receipt=?, adopted_at=?, updated_at=?, version=version+1
WHERE id=? AND version=?`),
		a.OwnerID, string(a.CustodyStatus), selected, ownerConfirmed, applicantConfirmed, nullableStringPtr(a.AdoptedAt), a.UpdatedAt,
		a.ID, a.Version)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// GuardAnimal bumps the version of an animal that is still available at the
// given version, serializing the caller against concurrent custody changes.
func (r Repo) GuardAnimal(ctx context.Context, tx *sql.Tx, id string, version int64) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE animals SET version=version+1 WHERE id=? AND version=? AND custody_status=?`),
		id, version, string(domain.CustodyAvailable))
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r Repo) ListAnimals(ctx context.Context, ownerID string, status domain.CustodyStatus) ([]domain.Animal, error) {
	query := `SELECT ` + animalColumns + ` FROM animals WHERE 1=1`
	var args []any
	if ownerID != "" {
		query += ` AND owner_id=?`
		args = append(args, ownerID)
	}
	if status != "" {
		query += ` AND custody_status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Animal
	for rows.Next() {
		a, err := scanAnimal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
