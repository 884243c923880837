package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/rules"
)

// deferredJob carries one disambiguation request to the background worker:
// the transaction plus the provisional rule match, if any.
type deferredJob struct {
	match *rules.Match
	txn   model.Transaction
	id    uuid.UUID
}

// enqueue leaves the transaction Pending with a provisional category and
// hands the AI call to the worker. When a rule matched, its category is
// assigned provisionally so downstream readers see a best-effort answer
// while the job is in flight.
func (o *Orchestrator) enqueue(ctx context.Context, txn model.Transaction, match *rules.Match) (Result, error) {
	job := deferredJob{
		id:    uuid.New(),
		txn:   txn,
		match: match,
	}

	result := Result{
		TransactionID:       txn.ID,
		Method:              MethodPending,
		NeedsDisambiguation: true,
	}
	if match != nil {
		if err := o.ledger.AssignCategory(ctx, txn.ID, match.CategoryID); err != nil {
			return Result{}, fmt.Errorf("failed to assign provisional category: %w", err)
		}
		result.CategoryID = &match.CategoryID
		result.RuleName = match.Rule.Name
	}

	select {
	case o.deferred <- job:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	slog.Debug("enqueued deferred disambiguation",
		"job_id", job.id,
		"transaction_id", txn.ID)
	return result, nil
}

// PendingJobs returns the number of deferred jobs not yet picked up.
func (o *Orchestrator) PendingJobs() int {
	return len(o.deferred)
}

// RunDeferredWorker consumes deferred disambiguation jobs until the context
// is canceled. Each completed job reports back through the same
// assignment/evidence contract as the synchronous path; a later AI result
// supersedes the provisional assignment (last write wins) and its evidence
// row is appended after the provisional history. Jobs still queued at
// cancellation are abandoned.
func (o *Orchestrator) RunDeferredWorker(ctx context.Context) error {
	if o.ai == nil {
		return fmt.Errorf("no AI collaborator configured")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-o.deferred:
			result, err := o.classifyWithDisambiguation(ctx, job.txn, job.match)
			if err != nil {
				slog.Error("deferred disambiguation failed",
					"job_id", job.id,
					"transaction_id", job.txn.ID,
					"error", err)
				continue
			}
			slog.Info("deferred disambiguation complete",
				"job_id", job.id,
				"transaction_id", job.txn.ID,
				"method", result.Method.String(),
				"classified", result.Classified)
		}
	}
}
