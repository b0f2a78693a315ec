package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/queue"
	"github.com/territorios-app/territorios/internal/services"
	"github.com/territorios-app/territorios/pkg/prom"
	"github.com/territorios-app/territorios/pkg/redis"
)

const (
	jobKeyPrefix  = "import:job:"
	defaultJobTTL = 24 * time.Hour
)

// JobStore publishes import jobs and keeps their progress in a Redis hash so
// the API can answer polls while the processor works.
type JobStore struct {
	redis redis.RedisAdapter
	queue *queue.Queue
	ttl   time.Duration
	now   func() time.Time
}

func NewJobStore(adapter redis.RedisAdapter, q *queue.Queue, ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	return &JobStore{
		redis: adapter,
		queue: q,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Enqueue records a queued job and publishes it for the processor.
func (s *JobStore) Enqueue(ctx context.Context, text, requestedBy string) (*model.ImportProgress, error) {
	job := model.ImportJob{
		ID:          uuid.NewString(),
		Text:        text,
		RequestedBy: requestedBy,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.save(ctx, job.ID, map[string]interface{}{
		"state":        model.ImportJobQueued,
		"current":      0,
		"total":        0,
		"percent":      0,
		"requested_by": requestedBy,
		"created_at":   job.CreatedAt.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	if _, err := s.queue.PublishJSON(ctx, job, map[string]string{"job_id": job.ID}); err != nil {
		_ = s.redis.Del(ctx, jobKeyPrefix+job.ID)
		return nil, fmt.Errorf("enqueue import job: %w", err)
	}
	prom.IncImportJob(model.ImportJobQueued)

	return &model.ImportProgress{ID: job.ID, State: model.ImportJobQueued}, nil
}

func (s *JobStore) Progress(ctx context.Context, id string) (*model.ImportProgress, error) {
	fields, err := s.redis.HGetAll(ctx, jobKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("read import job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: import job %s", services.ErrNotFound, id)
	}

	p := &model.ImportProgress{
		ID:      id,
		State:   fields["state"],
		Current: atoi(fields["current"]),
		Total:   atoi(fields["total"]),
		Percent: atoi(fields["percent"]),
		Error:   fields["error"],
	}
	if raw := fields["result"]; raw != "" {
		var res model.ImportResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, fmt.Errorf("decode import job %s result: %w", id, err)
		}
		p.Result = &res
	}
	return p, nil
}

func (s *JobStore) MarkRunning(ctx context.Context, id string) error {
	return s.save(ctx, id, map[string]interface{}{"state": model.ImportJobRunning, "error": ""})
}

func (s *JobStore) SetProgress(ctx context.Context, id string, current, total, percent int) error {
	return s.save(ctx, id, map[string]interface{}{
		"current": current,
		"total":   total,
		"percent": percent,
	})
}

func (s *JobStore) Complete(ctx context.Context, id string, res *model.ImportResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	prom.IncImportJob(model.ImportJobCompleted)
	return s.save(ctx, id, map[string]interface{}{
		"state":   model.ImportJobCompleted,
		"result":  string(b),
		"percent": 100,
	})
}

func (s *JobStore) Fail(ctx context.Context, id string, cause error) error {
	prom.IncImportJob(model.ImportJobFailed)
	return s.save(ctx, id, map[string]interface{}{
		"state": model.ImportJobFailed,
		"error": cause.Error(),
	})
}

func (s *JobStore) save(ctx context.Context, id string, fields map[string]interface{}) error {
	key := jobKeyPrefix + id
	if err := s.redis.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("write import job %s: %w", id, err)
	}
	return s.redis.Expire(ctx, key, s.ttl)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
