package engine

import (
	"context"
	"time"

	"adoptline/internal/domain"
)

// BackfillReport counts the artifacts regenerated by BackfillDocuments.
type BackfillReport struct {
	Scanned    int `json:"scanned"`
	Agreements int `json:"agreements"`
	Receipts   int `json:"receipts"`
	Failed     int `json:"failed"`
}

// BackfillDocuments issues agreements and receipts that failed to generate
// when their transition committed. limit <= 0 scans every candidate.
func (e Engine) BackfillDocuments(ctx context.Context, limit int) (report BackfillReport, err error) {
	start := time.Now()
	defer func() { e.observe("backfill_documents", start, report.Agreements+report.Receipts == 0, err) }()

	if e.Deps.Documents == nil {
		return report, ErrDocumentsDisabled
	}
	missing, err := e.Repo.ListMissingDocuments(ctx, limit)
	if err != nil {
		return report, err
	}
	for _, req := range missing {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		animal, err := e.Repo.GetAnimal(ctx, e.DB, req.AnimalID)
		if err != nil {
			e.sideEffectFailed(ctx, "document", "backfill: load animal", err, "request_id", req.ID)
			report.Failed++
			continue
		}
		// For completed requests the animal now belongs to the adopter; the
		// request keeps the owner at the time of the adoption.
		users := e.users(ctx, req.OwnerID, req.ApplicantID)
		owner, adopter := users[req.OwnerID], users[req.ApplicantID]
		if req.AgreementURL == nil {
			if _, ok := e.issueAgreement(ctx, req, animal, owner, adopter); ok {
				report.Agreements++
			} else {
				report.Failed++
			}
		}
		if req.Status == domain.RequestCompleted && req.ReceiptURL == nil {
			if _, ok := e.issueReceipt(ctx, req, animal, owner, adopter); ok {
				report.Receipts++
			} else {
				report.Failed++
			}
		}
	}
	e.log().InfoContext(ctx, "document backfill finished", "scanned", report.Scanned, "agreements", report.Agreements, "receipts", report.Receipts, "failed", report.Failed)
	return report, nil
}
