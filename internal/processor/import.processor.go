package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/queue"
	"github.com/territorios-app/territorios/internal/services"
	"github.com/territorios-app/territorios/pkg/logger"
)

type Importer interface {
	Import(ctx context.Context, text string, onProgress services.ProgressFunc) (*model.ImportResult, error)
}

type ProgressStore interface {
	MarkRunning(ctx context.Context, id string) error
	SetProgress(ctx context.Context, id string, current, total, percent int) error
	Complete(ctx context.Context, id string, res *model.ImportResult) error
	Fail(ctx context.Context, id string, cause error) error
}

// ImportProcessor runs queued bulk imports.
type ImportProcessor struct {
	importer    Importer
	store       ProgressStore
	idempotency *IdempotencyService
}

func NewImportProcessor(importer Importer, store ProgressStore, idempotency *IdempotencyService) *ImportProcessor {
	return &ImportProcessor{
		importer:    importer,
		store:       store,
		idempotency: idempotency,
	}
}

func (p *ImportProcessor) GetType() string {
	return "phone-import"
}

// Process runs one import job. Returning nil acks the queue message; an error
// leaves it for redelivery.
func (p *ImportProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job model.ImportJob
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.ID == "" {
		// a malformed payload never gets better on retry
		logger.Error("dropping malformed import job", "message_id", msg.ID, "error", err)
		return nil
	}

	pc, err := p.idempotency.AcquireProcessingLock(ctx, job.ID)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		return nil
	case errors.Is(err, ErrMaxRetriesExceeded):
		_ = p.store.Fail(ctx, job.ID, err)
		return nil
	case err != nil:
		return err
	}

	if err := p.store.MarkRunning(ctx, job.ID); err != nil {
		logger.Warn("could not mark import job running", "job_id", job.ID, "error", err)
	}

	log := logger.With("job_id", job.ID, "requested_by", job.RequestedBy, "attempt", msg.Attempts)
	res, err := p.importer.Import(ctx, job.Text, func(current, total, percent int) {
		if err := p.store.SetProgress(ctx, job.ID, current, total, percent); err != nil {
			log.Warn("could not store import progress", "error", err)
		}
	})
	if err != nil {
		_ = p.idempotency.MarkFailure(ctx, pc, err)
		_ = p.store.Fail(ctx, job.ID, err)
		return fmt.Errorf("import job %s: %w", job.ID, err)
	}

	if err := p.store.Complete(ctx, job.ID, res); err != nil {
		log.Error("could not store import result", "error", err)
	}
	if err := p.idempotency.MarkSuccess(ctx, pc); err != nil {
		log.Warn("could not mark import job processed", "error", err)
	}

	log.Info("import job finished", "created", res.Created, "skipped", res.Skipped, "errors", len(res.Errors))
	return nil
}
