package repo_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adoptline/internal/db"
	"adoptline/internal/domain"
	"adoptline/internal/migrate"
	"adoptline/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn, dialect))
	return repo.Repo{DB: conn, Dialect: dialect}
}

func seed(t *testing.T, r repo.Repo) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InsertAnimal(ctx, r.DB, domain.Animal{
		ID: "A1", OwnerID: "U1", CustodyStatus: domain.CustodyAvailable, Name: "Biscuit",
		Attributes: map[string]string{"age": "3"}, Version: 1, CreatedAt: ts, UpdatedAt: ts,
	}))
	require.NoError(t, r.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, applicant := range []string{"U2", "U3"} {
			ok, err := r.InsertRequestIfAbsent(ctx, tx, domain.AdoptionRequest{
				ID: "R-" + applicant, AnimalID: "A1", ApplicantID: applicant, OwnerID: "U1",
				Status: domain.RequestPending, CreatedAt: ts, UpdatedAt: ts,
			})
			require.NoError(t, err)
			require.True(t, ok)
		}
		return nil
	}))
}

func TestAnimalRoundTripAndVersionGuard(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	ctx := context.Background()

	a, err := r.GetAnimal(ctx, r.DB, "A1")
	require.NoError(t, err)
	assert.Equal(t, "3", a.Attributes["age"])
	assert.Nil(t, a.Handover)

	a.CustodyStatus = domain.CustodyHandoverPending
	a.Handover = &domain.Handover{SelectedApplicantID: "U2", OwnerConfirmedHandover: true}
	require.NoError(t, r.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return r.UpdateAnimalState(ctx, tx, a)
	}))

	stored, err := r.GetAnimal(ctx, r.DB, "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	require.NotNil(t, stored.Handover)
	assert.True(t, stored.Handover.OwnerConfirmedHandover)
	assert.False(t, stored.Handover.ApplicantConfirmedReceipt)

	// a still carries version 1.
	err = r.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return r.UpdateAnimalState(ctx, tx, a)
	})
	assert.ErrorIs(t, err, repo.ErrConflict)

	err = r.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return r.GuardAnimal(ctx, tx, "A1", stored.Version)
	})
	assert.ErrorIs(t, err, repo.ErrConflict, "guard requires an available animal")

	_, err = r.GetAnimal(ctx, r.DB, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRequestStatusGuard(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	ctx := context.Background()

	req, err := r.GetRequest(ctx, r.DB, "R-U2")
	require.NoError(t, err)
	req.Status = domain.RequestApproved
	require.NoError(t, r.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return r.UpdateRequest(ctx, tx, req, domain.RequestPending)
	}))

	req.Status = domain.RequestRejected
	err = r.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return r.UpdateRequest(ctx, tx, req, domain.RequestPending)
	})
	assert.ErrorIs(t, err, repo.ErrConflict)

	pending, err := r.ListPendingForAnimal(ctx, r.DB, "A1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "R-U3", pending[0].ID)
}

func TestInsertRequestIfAbsentIsIdempotent(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	ctx := context.Background()

	require.NoError(t, r.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := r.InsertRequestIfAbsent(ctx, tx, domain.AdoptionRequest{
			ID: "R-U2", AnimalID: "A1", ApplicantID: "U2", OwnerID: "U1",
			Status: domain.RequestPending, CreatedAt: ts, UpdatedAt: ts,
		})
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
	all, err := r.ListRequestsForAnimal(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListAndCountByRole(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	ctx := context.Background()

	n, err := r.CountPending(ctx, "U1", repo.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.CountPending(ctx, "U1", repo.RoleApplicant)
	require.NoError(t, err)
	assert.Zero(t, n)

	mine, err := r.ListRequestsForUser(ctx, "U3", repo.RoleAny, domain.RequestPending)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "R-U3", mine[0].ID)

	_, err = r.ListRequestsForUser(ctx, "U3", repo.Role("admin"), "")
	assert.Error(t, err)
}

func TestSetAgreementURLOnce(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	ctx := context.Background()

	ok, err := r.SetAgreementURL(ctx, r.DB, "R-U2", "file:///a.md")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.SetAgreementURL(ctx, r.DB, "R-U2", "file:///b.md")
	require.NoError(t, err)
	assert.False(t, ok)

	req, err := r.GetRequest(ctx, r.DB, "R-U2")
	require.NoError(t, err)
	require.NotNil(t, req.AgreementURL)
	assert.Equal(t, "file:///a.md", *req.AgreementURL)
}
