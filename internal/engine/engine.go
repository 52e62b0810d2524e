package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"adoptline/internal/config"
	"adoptline/internal/db"
	"adoptline/internal/directory"
	"adoptline/internal/documents"
	"adoptline/internal/domain"
	"adoptline/internal/events"
	"adoptline/internal/metrics"
	"adoptline/internal/notify"
	"adoptline/internal/repo"
)

var (
	ErrAnimalNotFound     = errors.New("animal not found")
	ErrAnimalNotAvailable = errors.New("animal not available")
	ErrSelfAdoption       = errors.New("owner cannot adopt their own animal")
	ErrRequestNotFound    = errors.New("request not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDocumentsDisabled  = errors.New("document generation disabled")
)

// SuppressionReason is recorded on pending requests rejected because another
// request for the same animal won.
const SuppressionReason = "another request was approved"

var (
	requestNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("adoptline/adoption-request"))
	historyNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("adoptline/history-entry"))
)

// RequestID derives the id of the single request an applicant may hold for
// an animal.
func RequestID(animalID, applicantID string) string {
	return uuid.NewSHA1(requestNamespace, []byte(animalID+"|"+applicantID)).String()
}

// HistoryID derives the ledger entry id of a completed request.
func HistoryID(requestID string) string {
	return uuid.NewSHA1(historyNamespace, []byte(requestID)).String()
}

// DocumentIssuer renders and stores an artifact, returning its URL.
type DocumentIssuer interface {
	Issue(ctx context.Context, doc documents.Document) (string, error)
}

// Deps are the collaborators used after a transition commits. Nil members
// disable the corresponding side effect.
type Deps struct {
	Directory directory.Directory
	Documents DocumentIssuer
	Notifier  notify.Notifier
	Log       *slog.Logger
	Metrics   *metrics.Metrics
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Deps   Deps
	Now    func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config, deps Deps) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Directory != nil {
		deps.Directory = directory.WithFallback(deps.Directory, deps.Log)
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Dialect: dialect},
		Events: events.Writer{Dialect: dialect},
		Config: cfg,
		Deps:   deps,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Deps.Log != nil {
		return e.Deps.Log
	}
	return slog.Default()
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// runTx executes fn in one transaction. Conflicts detected by the guarded
// writes are retried with jittered backoff up to engine.max_tx_attempts.
func (e Engine) runTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	attempts, backoff := 3, 20*time.Millisecond
	if e.Config != nil {
		if e.Config.Engine.MaxTxAttempts > 0 {
			attempts = e.Config.Engine.MaxTxAttempts
		}
		if e.Config.Engine.RetryBackoffMS >= 0 {
			backoff = time.Duration(e.Config.Engine.RetryBackoffMS) * time.Millisecond
		}
	}
	for attempt := 1; ; attempt++ {
		err := e.Repo.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, repo.ErrConflict) {
			return err
		}
		e.Deps.Metrics.IncConflict(op)
		if attempt >= attempts {
			return fmt.Errorf("%s: %w", op, err)
		}
		delay := backoff * time.Duration(attempt)
		if delay > 0 {
			delay += time.Duration(rand.Int64N(int64(delay)))
		}
		e.log().DebugContext(ctx, "retrying after conflict", "op", op, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (e Engine) observe(op string, start time.Time, noop bool, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case noop:
		outcome = "noop"
	}
	e.Deps.Metrics.ObserveOperation(op, outcome, time.Since(start))
}

func (e Engine) loadAnimal(ctx context.Context, q repo.DBTX, id string) (domain.Animal, error) {
	a, err := e.Repo.GetAnimal(ctx, q, id)
	if errors.Is(err, repo.ErrNotFound) {
		return a, fmt.Errorf("%w: %s", ErrAnimalNotFound, id)
	}
	return a, err
}

func (e Engine) loadRequest(ctx context.Context, q repo.DBTX, id string) (domain.AdoptionRequest, error) {
	r, err := e.Repo.GetRequest(ctx, q, id)
	if errors.Is(err, repo.ErrNotFound) {
		return r, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return r, err
}

// ensureRequestTransition validates a request status change. Cancellation is
// the only path from approved back to rejected.
func ensureRequestTransition(from, to domain.RequestStatus, cancel bool) error {
	switch from {
	case domain.RequestPending:
		if to == domain.RequestApproved || to == domain.RequestRejected {
			return nil
		}
	case domain.RequestApproved:
		if to == domain.RequestCompleted {
			return nil
		}
		if to == domain.RequestRejected && cancel {
			return nil
		}
	}
	return fmt.Errorf("%w: request %s -> %s", ErrInvalidTransition, from, to)
}

func ensureCustodyTransition(from, to domain.CustodyStatus, cancel bool) error {
	switch from {
	case domain.CustodyAvailable:
		if to == domain.CustodyReserved || to == domain.CustodyHandoverPending {
			return nil
		}
	case domain.CustodyReserved:
		if to == domain.CustodyHandoverPending || to == domain.CustodyAdopted {
			return nil
		}
		if to == domain.CustodyAvailable && cancel {
			return nil
		}
	case domain.CustodyHandoverPending:
		if to == domain.CustodyAdopted {
			return nil
		}
		if to == domain.CustodyAvailable && cancel {
			return nil
		}
	}
	return fmt.Errorf("%w: animal %s -> %s", ErrInvalidTransition, from, to)
}
