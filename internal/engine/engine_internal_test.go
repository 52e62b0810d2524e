package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adoptline/internal/config"
	"adoptline/internal/db"
	"adoptline/internal/domain"
	"adoptline/internal/logging"
	"adoptline/internal/metrics"
	"adoptline/internal/repo"
)

func newRetryEngine(t *testing.T, attempts int) Engine {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	cfg := config.Default()
	cfg.Engine.MaxTxAttempts = attempts
	cfg.Engine.RetryBackoffMS = 0
	return New(conn, dialect, cfg, Deps{Log: logging.Discard(), Metrics: metrics.New()})
}

func TestRunTxRetriesConflicts(t *testing.T) {
	e := newRetryEngine(t, 3)
	calls := 0
	err := e.runTx(context.Background(), "approve_request", func(ctx context.Context, tx *sql.Tx) error {
		calls++
		if calls < 3 {
			return repo.ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.Deps.Metrics.Conflicts.WithLabelValues("approve_request")))
}

func TestRunTxGivesUpAfterMaxAttempts(t *testing.T) {
	e := newRetryEngine(t, 2)
	calls := 0
	err := e.runTx(context.Background(), "finalize", func(ctx context.Context, tx *sql.Tx) error {
		calls++
		return repo.ErrConflict
	})
	require.ErrorIs(t, err, repo.ErrConflict)
	assert.Equal(t, 2, calls)
}

func TestRunTxDoesNotRetryOtherErrors(t *testing.T) {
	e := newRetryEngine(t, 5)
	calls := 0
	boom := errors.New("boom")
	err := e.runTx(context.Background(), "reject_request", func(ctx context.Context, tx *sql.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRequestTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.RequestStatus
		cancel   bool
		ok       bool
	}{
		{domain.RequestPending, domain.RequestApproved, false, true},
		{domain.RequestPending, domain.RequestRejected, false, true},
		{domain.RequestPending, domain.RequestCompleted, false, false},
		{domain.RequestApproved, domain.RequestCompleted, false, true},
		{domain.RequestApproved, domain.RequestRejected, false, false},
		{domain.RequestApproved, domain.RequestRejected, true, true},
		{domain.RequestRejected, domain.RequestApproved, false, false},
		{domain.RequestCompleted, domain.RequestRejected, true, false},
	}
	for _, tc := range cases {
		err := ensureRequestTransition(tc.from, tc.to, tc.cancel)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestCustodyTransitions(t *testing.T) {
	assert.NoError(t, ensureCustodyTransition(domain.CustodyAvailable, domain.CustodyReserved, false))
	assert.NoError(t, ensureCustodyTransition(domain.CustodyReserved, domain.CustodyAdopted, false))
	assert.NoError(t, ensureCustodyTransition(domain.CustodyHandoverPending, domain.CustodyAvailable, true))
	assert.ErrorIs(t, ensureCustodyTransition(domain.CustodyHandoverPending, domain.CustodyAvailable, false), ErrInvalidTransition)
	assert.ErrorIs(t, ensureCustodyTransition(domain.CustodyAdopted, domain.CustodyAvailable, true), ErrInvalidTransition)
	assert.ErrorIs(t, ensureCustodyTransition(domain.CustodyAvailable, domain.CustodyAdopted, false), ErrInvalidTransition)
}

func TestMergeDelivery(t *testing.T) {
	first := mergeDelivery(nil, domain.DeliveryDetails{Location: " Park ", Checklist: []string{"leash", ""}, Notes: "calm"})
	assert.Equal(t, domain.DeliveryDetails{Location: "Park", Checklist: []string{"leash"}, Notes: "calm"}, first)

	second := mergeDelivery(&first, domain.DeliveryDetails{Checklist: []string{"leash", "food"}, PhotoURLs: []string{"p1"}, Notes: "calm"})
	assert.Equal(t, "Park", second.Location)
	assert.Equal(t, []string{"leash", "food"}, second.Checklist)
	assert.Equal(t, []string{"p1"}, second.PhotoURLs)
	assert.Equal(t, "calm", second.Notes)

	third := mergeDelivery(&second, domain.DeliveryDetails{Notes: "vaccinated"})
	assert.Equal(t, "calm\nvaccinated", third.Notes)
}

func TestApplyConfirmationKeepsFirstTimestamp(t *testing.T) {
	req := domain.AdoptionRequest{}
	animal := domain.Animal{Handover: &domain.Handover{SelectedApplicantID: "U2"}}
	assert.True(t, applyConfirmation(&req, &animal, PartyOwner, "2024-01-01T00:00:00Z"))
	assert.False(t, applyConfirmation(&req, &animal, PartyOwner, "2024-02-01T00:00:00Z"))
	assert.Equal(t, "2024-01-01T00:00:00Z", *req.OwnerDeliveryConfirmedAt)
	assert.True(t, animal.Handover.OwnerConfirmedHandover)
	assert.False(t, req.BothConfirmed())

	assert.True(t, applyConfirmation(&req, &animal, PartyApplicant, "2024-02-01T00:00:00Z"))
	assert.True(t, req.BothConfirmed())
	assert.True(t, animal.Handover.ApplicantConfirmedReceipt)
}

func TestRequestIDIsStable(t *testing.T) {
	assert.Equal(t, RequestID("A1", "U2"), RequestID("A1", "U2"))
	assert.NotEqual(t, RequestID("A1", "U2"), RequestID("A1", "U3"))
	assert.NotEqual(t, RequestID("A1", "U2"), RequestID("A1U", "2"))
	assert.NotEqual(t, HistoryID("x"), RequestID("x", ""))
}
