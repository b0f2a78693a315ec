package services

import (
	"context"
	"fmt"
	"time"

	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/pkg/logger"
	"github.com/territorios-app/territorios/pkg/pg"
	"github.com/territorios-app/territorios/pkg/prom"
)

// ProgressFunc receives the number of processed rows, the total and the
// integer percentage.
type ProgressFunc func(current, total, percent int)

type ImportRepository interface {
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	CreateBatch(ctx context.Context, recs []*model.PhoneRecord) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type ImportService struct {
	repo          ImportRepository
	batchSize     int
	progressEvery int
	now           func() time.Time
}

func NewImportService(repo ImportRepository) *ImportService {
	return &ImportService{
		repo:          repo,
		batchSize:     pg.MaxBatchWrites,
		progressEvery: 10,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type stagedRow struct {
	line int
	rec  *model.PhoneRecord
}

type importRun struct {
	svc    *ImportService
	result *model.ImportResult
	staged []stagedRow
	seen   map[string]struct{}
}

// Import parses delimited text and inserts every new number. Rows that fail to
// parse or whose number already exists do not stop the import; they end up in
// Errors and Skipped. Writes are committed every batchSize rows.
func (s *ImportService) Import(ctx context.Context, text string, onProgress ProgressFunc) (*model.ImportResult, error) {
	started := time.Now()
	lines, numbers := splitLines(text)
	total := len(lines)

	run := &importRun{
		svc:    s,
		result: &model.ImportResult{Errors: []string{}},
		seen:   make(map[string]struct{}),
	}

	for i, line := range lines {
		run.handleLine(ctx, line, numbers[i], i == 0)

		if len(run.staged) >= s.batchSize {
			run.flush(ctx)
		}

		current := i + 1
		if onProgress != nil && (current%s.progressEvery == 0 || current == total) {
			onProgress(current, total, current*100/total)
		}
	}
	run.flush(ctx)

	res := run.result
	prom.AddImportRows("created", res.Created)
	prom.AddImportRows("skipped", res.Skipped)
	prom.AddImportRows("failed", len(res.Errors))
	prom.ObserveImportDuration(time.Since(started).Seconds())
	logger.Info("phone import finished",
		"rows", total,
		"created", res.Created,
		"skipped", res.Skipped,
		"errors", len(res.Errors),
	)
	return res, nil
}

func (r *importRun) handleLine(ctx context.Context, line string, lineNo int, first bool) {
	fields, err := splitFields(line)
	if err != nil {
		r.fail(lineNo, err)
		return
	}
	if first && isHeaderRow(fields) {
		return
	}

	row, err := parseRow(fields, lineNo)
	if err != nil {
		r.fail(lineNo, err)
		return
	}

	if _, dup := r.seen[row.Number]; dup {
		r.result.Skipped++
		return
	}
	exists, err := r.svc.repo.ExistsByNumber(ctx, row.Number)
	if err != nil {
		logger.Error("import duplicate check", "line", lineNo, "error", err)
		r.fail(lineNo, ErrPhoneFetch)
		return
	}
	if exists {
		r.result.Skipped++
		return
	}

	r.seen[row.Number] = struct{}{}
	r.staged = append(r.staged, stagedRow{line: lineNo, rec: r.svc.toRecord(row)})
}

func (r *importRun) fail(lineNo int, err error) {
	r.result.Errors = append(r.result.Errors, fmt.Sprintf("line %d: %v", lineNo, err))
}

func (r *importRun) flush(ctx context.Context) {
	if len(r.staged) == 0 {
		return
	}
	recs := make([]*model.PhoneRecord, len(r.staged))
	for i, st := range r.staged {
		recs[i] = st.rec
	}

	err := r.svc.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		return r.svc.repo.CreateBatch(ctx, recs)
	})
	if err != nil {
		logger.Error("import batch failed", "rows", len(recs), "error", err)
		for _, st := range r.staged {
			delete(r.seen, st.rec.Number)
			r.fail(st.line, ErrPhoneUpdate)
		}
	} else {
		r.result.Created += len(recs)
	}
	r.staged = r.staged[:0]
}

func (s *ImportService) toRecord(row *importRow) *model.PhoneRecord {
	rec := &model.PhoneRecord{
		Owner:      row.Owner,
		Address:    row.Address,
		Number:     row.Number,
		AssignedTo: row.AssignedTo,
		CallStatus: row.Status,
		Comments:   row.Comments,
	}
	if rec.CallStatus != model.CallStatusNone {
		now := s.now()
		rec.StatusChangedAt = &now
	}
	return rec
}
