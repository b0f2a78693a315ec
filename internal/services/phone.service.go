package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/repository"
	"github.com/territorios-app/territorios/pkg/logger"
	"github.com/territorios-app/territorios/pkg/pg"
	"github.com/territorios-app/territorios/pkg/prom"
	"github.com/territorios-app/territorios/pkg/redis"
)

const poolLockName = "phones:pool"

type PhoneRepository interface {
	Create(ctx context.Context, rec *model.PhoneRecord) (*model.PhoneRecord, error)
	CreateBatch(ctx context.Context, recs []*model.PhoneRecord) error
	GetByID(ctx context.Context, id string) (*model.PhoneRecord, error)
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	List(ctx context.Context, f model.PhoneFilter) ([]*model.PhoneRecord, int64, error)
	ListWithoutStatus(ctx context.Context) ([]*model.PhoneRecord, error)
	ListAll(ctx context.Context) ([]*model.PhoneRecord, error)
	Update(ctx context.Context, id string, version int64, fields map[string]interface{}) error
	MarkAssigned(ctx context.Context, recs []*model.PhoneRecord, at time.Time) error
	ClearRotation(ctx context.Context, recs []*model.PhoneRecord) (int, int, error)
	Delete(ctx context.Context, id string) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serialises pool-wide writes across API instances.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// ExportArchive keeps a copy of every exported batch for the PDF renderer.
type ExportArchive interface {
	Store(ctx context.Context, batchID string, recs []*model.PhoneRecord) error
}

type PhoneServiceConfig struct {
	Cooldown   time.Duration
	BatchSize  int
	ExportSize int
	LockTTL    time.Duration
}

func DefaultPhoneServiceConfig() PhoneServiceConfig {
	return PhoneServiceConfig{
		Cooldown:   model.DefaultCooldown,
		BatchSize:  50,
		ExportSize: 30,
		LockTTL:    30 * time.Second,
	}
}

type PhoneService struct {
	repo    PhoneRepository
	cfg     PhoneServiceConfig
	locker  Locker
	archive ExportArchive
	now     func() time.Time
	shuffle func([]*model.PhoneRecord)
}

type PhoneServiceOption func(*PhoneService)

func WithLocker(l Locker) PhoneServiceOption {
	return func(s *PhoneService) { s.locker = l }
}

func WithExportArchive(a ExportArchive) PhoneServiceOption {
	return func(s *PhoneService) { s.archive = a }
}

func WithClock(now func() time.Time) PhoneServiceOption {
	return func(s *PhoneService) { s.now = now }
}

func NewPhoneService(repo PhoneRepository, cfg PhoneServiceConfig, opts ...PhoneServiceOption) *PhoneService {
	def := DefaultPhoneServiceConfig()
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ExportSize <= 0 {
		cfg.ExportSize = def.ExportSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}

	s := &PhoneService{
		repo:    repo,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		shuffle: shuffleRecords,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// shuffleRecords is an unbiased Fisher-Yates shuffle.
func shuffleRecords(recs []*model.PhoneRecord) {
	rand.Shuffle(len(recs), func(i, j int) {
		recs[i], recs[j] = recs[j], recs[i]
	})
}

// ListAvailable returns every record without a call status that is not in
// its cooldown window.
func (s *PhoneService) ListAvailable(ctx context.Context) ([]*model.PhoneRecord, error) {
	recs, err := s.repo.ListWithoutStatus(ctx)
	if err != nil {
		logger.Error("list phones without status", "error", err)
		return nil, ErrPhoneFetch
	}

	now := s.now()
	available := recs[:0]
	for _, r := range recs {
		if r.IsAvailable(now, s.cfg.Cooldown) {
			available = append(available, r)
		}
	}
	return available, nil
}

// NeedsPoolReset is true when nothing is available but a reset would bring
// records back into rotation.
func (s *PhoneService) NeedsPoolReset(ctx context.Context) (bool, error) {
	st, err := s.Stats(ctx)
	if err != nil {
		return false, err
	}
	return st.Available == 0 && st.Reclaimable > 0, nil
}

func (s *PhoneService) Stats(ctx context.Context) (*model.PhoneStats, error) {
	recs, err := s.repo.ListAll(ctx)
	if err != nil {
		logger.Error("list phones", "error", err)
		return nil, ErrPhoneFetch
	}

	now := s.now()
	st := &model.PhoneStats{
		Total:    len(recs),
		ByStatus: make(map[model.CallStatus]int),
	}
	for _, r := range recs {
		switch {
		case r.IsAvailable(now, s.cfg.Cooldown):
			st.Available++
		case r.InCooldown(now, s.cfg.Cooldown):
			st.InCooldown++
		}
		if r.IsReclaimable(now, s.cfg.Cooldown) {
			st.Reclaimable++
		}
		if r.CallStatus != model.CallStatusNone {
			st.ByStatus[r.CallStatus]++
		}
	}
	return st, nil
}

// RequestBatch hands out up to size randomly chosen available records without
// marking them. A short pool that a reset can refill is reset first.
func (s *PhoneService) RequestBatch(ctx context.Context, size int) (*model.BatchResult, error) {
	if size <= 0 {
		size = s.cfg.BatchSize
	}

	available, err := s.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}

	res := &model.BatchResult{}
	if len(available) < size {
		needs, err := s.NeedsPoolReset(ctx)
		if err != nil {
			return nil, err
		}
		if needs {
			if _, err := s.ResetPool(ctx); err != nil {
				return nil, err
			}
			if available, err = s.ListAvailable(ctx); err != nil {
				return nil, err
			}
			res.NeedsReset = true
		}
	}
	res.TotalAvailable = len(available)

	s.shuffle(available)
	res.Records = available[:min(size, len(available))]
	return res, nil
}

// ExportForPDF marks exactly size random available records as handed out.
// Either all of them are marked or none is.
func (s *PhoneService) ExportForPDF(ctx context.Context, size int) ([]*model.PhoneRecord, error) {
	if size <= 0 {
		size = s.cfg.ExportSize
	}
	if size > pg.MaxBatchWrites {
		return nil, fmt.Errorf("%w: export size %d exceeds %d", ErrInvalidInput, size, pg.MaxBatchWrites)
	}

	release, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var picked []*model.PhoneRecord
	err = pg.RetryOnConflict(ctx, func() error {
		available, err := s.ListAvailable(ctx)
		if err != nil {
			return err
		}
		if len(available) < size {
			return fmt.Errorf("%w: need %d, have %d", ErrInsufficientAvailable, size, len(available))
		}

		s.shuffle(available)
		batch := available[:size]
		at := s.now()
		err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
			return s.repo.MarkAssigned(ctx, batch, at)
		})
		if err != nil {
			return err
		}
		picked = batch
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientAvailable) || errors.Is(err, ErrPhoneFetch) {
			return nil, err
		}
		logger.Error("export phones", "error", err, "size", size)
		return nil, ErrPhoneUpdate
	}

	prom.AddPhonesExported(len(picked))
	batchID := uuid.NewString()
	logger.Info("phones exported", "batch_id", batchID, "count", len(picked))

	if s.archive != nil {
		if err := s.archive.Store(ctx, batchID, picked); err != nil {
			logger.Warn("archive export batch", "batch_id", batchID, "error", err)
		}
	}
	return picked, nil
}

// ResetPool clears status, assignment and comments from every record outside
// its cooldown window, committing in bounded batches.
func (s *PhoneService) ResetPool(ctx context.Context) (*model.ResetResult, error) {
	release, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	recs, err := s.repo.ListAll(ctx)
	if err != nil {
		logger.Error("list phones for reset", "error", err)
		return nil, ErrPhoneFetch
	}

	now := s.now()
	var targets []*model.PhoneRecord
	for _, r := range recs {
		if !r.InCooldown(now, s.cfg.Cooldown) && hasRotationState(r) {
			targets = append(targets, r)
		}
	}

	type chunkResult struct{ cleared, skipped int }
	results := make(map[int]chunkResult)
	offset := 0
	failures := pg.InBatches(ctx, s.repo, targets, pg.MaxBatchWrites, func(ctx context.Context, chunk []*model.PhoneRecord) error {
		start := offset
		offset += len(chunk)
		cleared, skipped, err := s.repo.ClearRotation(ctx, chunk)
		if err != nil {
			return err
		}
		results[start] = chunkResult{cleared, skipped}
		return nil
	})

	res := &model.ResetResult{Errors: []string{}}
	failed := make(map[int]struct{}, len(failures))
	for _, f := range failures {
		failed[f.Offset] = struct{}{}
		res.Errors = append(res.Errors, fmt.Sprintf("records %d-%d: %v", f.Offset+1, f.Offset+f.Size, ErrPhoneUpdate))
		logger.Error("reset batch failed", "offset", f.Offset, "size", f.Size, "error", f.Err)
	}
	for start, r := range results {
		if _, ok := failed[start]; ok {
			continue
		}
		res.Cleared += r.cleared
		res.Skipped += r.skipped
	}

	prom.IncPoolReset()
	logger.Info("phone pool reset", "cleared", res.Cleared, "skipped", res.Skipped, "failed_batches", len(failures))
	return res, nil
}

func hasRotationState(r *model.PhoneRecord) bool {
	return r.CallStatus != model.CallStatusNone ||
		r.AssignedTo != "" ||
		r.Comments != "" ||
		r.IsAssigned ||
		r.AssignedAt != nil ||
		r.StatusChangedAt != nil
}

func (s *PhoneService) lock(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, poolLockName, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockHeld) {
			return nil, ErrPoolBusy
		}
		// row versions still protect the write when the lock store is down
		logger.Warn("acquire pool lock", "error", err)
		return func() {}, nil
	}
	return release, nil
}

func (s *PhoneService) Create(ctx context.Context, req model.PhoneCreateRequest) (*model.PhoneRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	status, _ := model.ParseCallStatus(string(req.CallStatus))
	number := model.NormalizeNumber(req.Number)

	exists, err := s.repo.ExistsByNumber(ctx, number)
	if err != nil {
		logger.Error("check phone duplicate", "error", err)
		return nil, ErrPhoneFetch
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
	}

	rec := &model.PhoneRecord{
		Owner:      strings.TrimSpace(req.Owner),
		Address:    strings.TrimSpace(req.Address),
		Number:     number,
		AssignedTo: strings.TrimSpace(req.AssignedTo),
		CallStatus: status,
		Comments:   strings.TrimSpace(req.Comments),
	}
	if status != model.CallStatusNone {
		now := s.now()
		rec.StatusChangedAt = &now
	}

	created, err := s.repo.Create(ctx, rec)
	if err != nil {
		logger.Error("create phone", "error", err)
		return nil, ErrPhoneUpdate
	}
	return created, nil
}

func (s *PhoneService) Get(ctx context.Context, id string) (*model.PhoneRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.fetchError(err, id)
	}
	return rec, nil
}

func (s *PhoneService) List(ctx context.Context, f model.PhoneFilter) ([]*model.PhoneRecord, int64, error) {
	recs, total, err := s.repo.List(ctx, f)
	if err != nil {
		logger.Error("list phones", "error", err)
		return nil, 0, ErrPhoneFetch
	}
	return recs, total, nil
}

// Update applies the non-nil fields of req. Changing the call status stamps
// status_changed_at.
func (s *PhoneService) Update(ctx context.Context, id string, req model.PhoneUpdateRequest) (*model.PhoneRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	err := pg.RetryOnConflict(ctx, func() error {
		rec, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		fields := make(map[string]interface{})
		if req.Owner != nil {
			fields["owner"] = strings.TrimSpace(*req.Owner)
		}
		if req.Address != nil {
			fields["address"] = strings.TrimSpace(*req.Address)
		}
		if req.AssignedTo != nil {
			fields["assigned_to"] = strings.TrimSpace(*req.AssignedTo)
		}
		if req.Comments != nil {
			fields["comments"] = strings.TrimSpace(*req.Comments)
		}
		if req.Number != nil {
			number := model.NormalizeNumber(*req.Number)
			if number != rec.Number {
				exists, err := s.repo.ExistsByNumber(ctx, number)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
				}
				fields["number"] = number
			}
		}
		if req.CallStatus != nil {
			status, _ := model.ParseCallStatus(string(*req.CallStatus))
			if status != rec.CallStatus {
				fields["call_status"] = string(status)
				fields["status_changed_at"] = s.now()
			}
		}
		if len(fields) == 0 {
			return nil
		}
		return s.repo.Update(ctx, id, rec.Version, fields)
	})
	if err != nil {
		return nil, s.updateError(err, id)
	}
	return s.Get(ctx, id)
}

// UpdateStatus records the outcome of a call.
func (s *PhoneService) UpdateStatus(ctx context.Context, id string, status model.CallStatus, comments *string) (*model.PhoneRecord, error) {
	return s.Update(ctx, id, model.PhoneUpdateRequest{CallStatus: &status, Comments: comments})
}

func (s *PhoneService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.updateError(err, id)
	}
	return nil
}

func (s *PhoneService) fetchError(err error, id string) error {
	if errors.Is(err, repository.ErrPhoneNotFound) {
		return fmt.Errorf("%w: phone %s", ErrNotFound, id)
	}
	logger.Error("fetch phone", "id", id, "error", err)
	return ErrPhoneFetch
}

func (s *PhoneService) updateError(err error, id string) error {
	switch {
	case errors.Is(err, repository.ErrPhoneNotFound):
		return fmt.Errorf("%w: phone %s", ErrNotFound, id)
	case errors.Is(err, ErrDuplicateNumber):
		return err
	}
	logger.Error("update phone", "id", id, "error", err)
	return ErrPhoneUpdate
}
