package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/repository"
	"github.com/territorios-app/territorios/pkg/pg"
	"github.com/territorios-app/territorios/pkg/redis"
)

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	args := m.Called(ctx, name, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

type recordingArchive struct {
	batches map[string][]*model.PhoneRecord
	err     error
}

func (a *recordingArchive) Store(_ context.Context, batchID string, recs []*model.PhoneRecord) error {
	if a.batches == nil {
		a.batches = make(map[string][]*model.PhoneRecord)
	}
	a.batches[batchID] = recs
	return a.err
}

func newPhoneService(t *testing.T, opts ...PhoneServiceOption) (*PhoneService, *repository.PhoneRepository) {
	repo := repository.NewPhoneRepository(setupTestDB(t))
	opts = append([]PhoneServiceOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewPhoneService(repo, DefaultPhoneServiceConfig(), opts...), repo
}

func withStatus(status model.CallStatus) func(int, *model.PhoneRecord) {
	return func(_ int, rec *model.PhoneRecord) {
		rec.CallStatus = status
	}
}

func assignedDaysAgo(days int) func(int, *model.PhoneRecord) {
	return func(_ int, rec *model.PhoneRecord) {
		at := testNow.Add(-time.Duration(days) * 24 * time.Hour)
		rec.IsAssigned = true
		rec.AssignedAt = &at
	}
}

func TestPhoneService_ListAvailable(t *testing.T) {
	svc, repo := newPhoneService(t)
	ctx := context.Background()

	free := seedPhones(t, repo, 3, nil)
	seedPhones(t, repo, 2, withStatus(model.CallStatusAnswered))
	seedPhones(t, repo, 2, assignedDaysAgo(3))
	expired := seedPhones(t, repo, 1, assignedDaysAgo(16))

	available, err := svc.ListAvailable(ctx)
	require.NoError(t, err)

	var ids []string
	for _, r := range available {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{free[0].ID, free[1].ID, free[2].ID, expired[0].ID}, ids)
}

func TestPhoneService_CooldownBoundary(t *testing.T) {
	svc, repo := newPhoneService(t)
	ctx := context.Background()

	seedPhones(t, repo, 1, func(_ int, rec *model.PhoneRecord) {
		at := testNow.Add(-model.DefaultCooldown)
		rec.IsAssigned = true
		rec.AssignedAt = &at
	})
	available, err := svc.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Empty(t, available, "exactly 15 days is still cooling down")

	seedPhones(t, repo, 1, func(_ int, rec *model.PhoneRecord) {
		at := testNow.Add(-model.DefaultCooldown - time.Second)
		rec.IsAssigned = true
		rec.AssignedAt = &at
	})
	available, err = svc.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, available, 1)
}

func TestPhoneService_NeedsPoolReset(t *testing.T) {
	ctx := context.Background()

	t.Run("every record has a status", func(t *testing.T) {
		svc, repo := newPhoneService(t)
		seedPhones(t, repo, 60, withStatus(model.CallStatusHungUp))

		needs, err := svc.NeedsPoolReset(ctx)
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("some records still available", func(t *testing.T) {
		svc, repo := newPhoneService(t)
		seedPhones(t, repo, 50, withStatus(model.CallStatusHungUp))
		seedPhones(t, repo, 10, nil)

		needs, err := svc.NeedsPoolReset(ctx)
		require.NoError(t, err)
		assert.False(t, needs)
	})

	t.Run("empty pool", func(t *testing.T) {
		svc, _ := newPhoneService(t)

		needs, err := svc.NeedsPoolReset(ctx)
		require.NoError(t, err)
		assert.False(t, needs)
	})

	t.Run("everything cooling down", func(t *testing.T) {
		svc, repo := newPhoneService(t)
		seedPhones(t, repo, 5, assignedDaysAgo(2))

		needs, err := svc.NeedsPoolReset(ctx)
		require.NoError(t, err)
		assert.False(t, needs)
	})
}

func TestPhoneService_RequestBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("full batch does not mark records", func(t *testing.T) {
		svc, repo := newPhoneService(t)
		seedPhones(t, repo, 80, nil)

		res, err := svc.RequestBatch(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, res.Records, 50)
		assert.Equal(t, 80, res.TotalAvailable)
		assert.False(t, res.NeedsReset)

		available, err := svc.ListAvailable(ctx)
		require.NoError(t, err)
		assert.Len(t, available, 80)
	})

	t.Run("short pool returns what is left", func(t *testing.T) {
		svc, repo := newPhoneService(t)
		seedPhones(t, repo, 10, nil)
		seedPhones(t, repo, 50, withStatus(model.CallStatusNoAnswer))

		res, err := svc.RequestBatch(ctx, 50)
		require.NoError(t, err)
		assert.Len(t, res.Records, 10)
		assert.Equal(t, 10, res.TotalAvailable)
		assert.False(t, res.NeedsReset)
	})

	t.Run("exhausted pool is reset before picking", func(t *testing.T) {
		svc, repo := newPhoneService(t)
		seedPhones(t, repo, 60, func(_ int, rec *model.PhoneRecord) {
			rec.CallStatus = model.CallStatusAnswered
			rec.AssignedTo = "conductor"
			rec.Comments = "llamar despues"
		})

		res, err := svc.RequestBatch(ctx, 50)
		require.NoError(t, err)
		assert.True(t, res.NeedsReset)
		assert.Equal(t, 60, res.TotalAvailable)
		require.Len(t, res.Records, 50)
		for _, r := range res.Records {
			assert.Equal(t, model.CallStatusNone, r.CallStatus)
			assert.Empty(t, r.AssignedTo)
			assert.Empty(t, r.Comments)
		}

		available, err := svc.ListAvailable(ctx)
		require.NoError(t, err)
		assert.Len(t, available, 60)
	})

	t.Run("reset takes the pool lock", func(t *testing.T) {
		released := false
		locker := new(MockLocker)
		locker.On("Acquire", ctx, poolLockName, 30*time.Second).Return(func() { released = true }, nil).Once()
		svc, repo := newPhoneService(t, WithLocker(locker))
		seedPhones(t, repo, 5, withStatus(model.CallStatusHungUp))

		res, err := svc.RequestBatch(ctx, 50)
		require.NoError(t, err)
		assert.True(t, res.NeedsReset)
		assert.Len(t, res.Records, 5)
		assert.True(t, released)
		locker.AssertExpectations(t)
	})

	t.Run("records cooling down are not reset", func(t *testing.T) {
		svc, repo := newPhoneService(t)
		seedPhones(t, repo, 4, assignedDaysAgo(2))

		res, err := svc.RequestBatch(ctx, 50)
		require.NoError(t, err)
		assert.False(t, res.NeedsReset)
		assert.Empty(t, res.Records)
	})
}

func TestPhoneService_ExportForPDF(t *testing.T) {
	ctx := context.Background()

	t.Run("marks exactly the exported records", func(t *testing.T) {
		archive := &recordingArchive{}
		svc, repo := newPhoneService(t, WithExportArchive(archive))
		seedPhones(t, repo, 40, nil)

		recs, err := svc.ExportForPDF(ctx, 0)
		require.NoError(t, err)
		require.Len(t, recs, 30)

		seen := make(map[string]struct{})
		for _, r := range recs {
			seen[r.ID] = struct{}{}
			stored, err := repo.GetByID(ctx, r.ID)
			require.NoError(t, err)
			assert.True(t, stored.IsAssigned)
			require.NotNil(t, stored.AssignedAt)
			assert.True(t, stored.AssignedAt.Equal(testNow))
		}
		assert.Len(t, seen, 30)

		available, err := svc.ListAvailable(ctx)
		require.NoError(t, err)
		assert.Len(t, available, 10)

		require.Len(t, archive.batches, 1)
		for _, batch := range archive.batches {
			assert.Len(t, batch, 30)
		}
	})

	t.Run("short pool marks nothing", func(t *testing.T) {
		svc, repo := newPhoneService(t)
		seedPhones(t, repo, 20, nil)

		recs, err := svc.ExportForPDF(ctx, 30)
		assert.ErrorIs(t, err, ErrInsufficientAvailable)
		assert.EqualError(t, err, "insufficient available numbers: need 30, have 20")
		assert.Nil(t, recs)

		available, err := svc.ListAvailable(ctx)
		require.NoError(t, err)
		assert.Len(t, available, 20)
	})

	t.Run("size above the write bound is rejected", func(t *testing.T) {
		svc, repo := newPhoneService(t)
		seedPhones(t, repo, 3, nil)

		recs, err := svc.ExportForPDF(ctx, pg.MaxBatchWrites+1)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Nil(t, recs)

		available, err := svc.ListAvailable(ctx)
		require.NoError(t, err)
		assert.Len(t, available, 3)
	})

	t.Run("archive failure does not fail the export", func(t *testing.T) {
		svc, repo := newPhoneService(t, WithExportArchive(&recordingArchive{err: errors.New("s3 down")}))
		seedPhones(t, repo, 30, nil)

		recs, err := svc.ExportForPDF(ctx, 30)
		require.NoError(t, err)
		assert.Len(t, recs, 30)
	})

	t.Run("held lock is reported as busy", func(t *testing.T) {
		locker := new(MockLocker)
		locker.On("Acquire", ctx, poolLockName, 30*time.Second).Return(nil, redis.ErrLockHeld)
		svc, repo := newPhoneService(t, WithLocker(locker))
		seedPhones(t, repo, 30, nil)

		_, err := svc.ExportForPDF(ctx, 30)
		assert.ErrorIs(t, err, ErrPoolBusy)
		locker.AssertExpectations(t)
	})

	t.Run("unreachable lock store does not block the export", func(t *testing.T) {
		locker := new(MockLocker)
		locker.On("Acquire", ctx, poolLockName, 30*time.Second).Return(nil, errors.New("connection refused"))
		svc, repo := newPhoneService(t, WithLocker(locker))
		seedPhones(t, repo, 30, nil)

		recs, err := svc.ExportForPDF(ctx, 30)
		require.NoError(t, err)
		assert.Len(t, recs, 30)
	})

	t.Run("lock is released", func(t *testing.T) {
		released := false
		locker := new(MockLocker)
		locker.On("Acquire", ctx, poolLockName, 30*time.Second).Return(func() { released = true }, nil)
		svc, repo := newPhoneService(t, WithLocker(locker))
		seedPhones(t, repo, 30, nil)

		_, err := svc.ExportForPDF(ctx, 30)
		require.NoError(t, err)
		assert.True(t, released)
	})
}

func TestPhoneService_ResetPool(t *testing.T) {
	svc, repo := newPhoneService(t)
	ctx := context.Background()

	cooling := seedPhones(t, repo, 1, func(i int, rec *model.PhoneRecord) {
		assignedDaysAgo(3)(i, rec)
		rec.CallStatus = model.CallStatusRevisit
		rec.AssignedTo = "Ana"
	})
	expired := seedPhones(t, repo, 1, func(i int, rec *model.PhoneRecord) {
		assignedDaysAgo(20)(i, rec)
		rec.CallStatus = model.CallStatusAnswered
		rec.Comments = "call back"
	})
	statusOnly := seedPhones(t, repo, 1, withStatus(model.CallStatusDoNotCall))
	seedPhones(t, repo, 2, nil)

	res, err := svc.ResetPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cleared)
	assert.Equal(t, 0, res.Skipped)
	assert.Empty(t, res.Errors)

	for _, id := range []string{expired[0].ID, statusOnly[0].ID} {
		rec, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.CallStatusNone, rec.CallStatus)
		assert.Empty(t, rec.Comments)
		assert.False(t, rec.IsAssigned)
		assert.Nil(t, rec.AssignedAt)
		assert.Nil(t, rec.StatusChangedAt)
	}

	kept, err := repo.GetByID(ctx, cooling[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusRevisit, kept.CallStatus)
	assert.Equal(t, "Ana", kept.AssignedTo)
	assert.True(t, kept.IsAssigned)

	available, err := svc.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, available, 4)
}

func TestPhoneService_CreateAndUpdate(t *testing.T) {
	svc, _ := newPhoneService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, model.PhoneCreateRequest{Owner: " Rosa ", Address: "Calle 1", Number: "(555) 123-4567"})
	require.NoError(t, err)
	assert.Equal(t, "5551234567", rec.Number)
	assert.Equal(t, "Rosa", rec.Owner)
	assert.Nil(t, rec.StatusChangedAt)

	_, err = svc.Create(ctx, model.PhoneCreateRequest{Owner: "Otro", Number: "555-123-4567"})
	assert.ErrorIs(t, err, ErrDuplicateNumber)

	_, err = svc.Create(ctx, model.PhoneCreateRequest{Owner: "Nadie", Number: "sin numero"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	updated, err := svc.UpdateStatus(ctx, rec.ID, model.CallStatusAnswered, ptr("friendly"))
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusAnswered, updated.CallStatus)
	assert.Equal(t, "friendly", updated.Comments)
	require.NotNil(t, updated.StatusChangedAt)
	assert.True(t, updated.StatusChangedAt.Equal(testNow))

	_, err = svc.Update(ctx, "missing", model.PhoneUpdateRequest{Owner: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Delete(ctx, rec.ID))
	_, err = svc.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPhoneService_Stats(t *testing.T) {
	svc, repo := newPhoneService(t)
	ctx := context.Background()

	seedPhones(t, repo, 4, nil)
	seedPhones(t, repo, 3, withStatus(model.CallStatusAnswered))
	seedPhones(t, repo, 2, assignedDaysAgo(1))

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, st.Total)
	assert.Equal(t, 4, st.Available)
	assert.Equal(t, 2, st.InCooldown)
	assert.Equal(t, 3, st.Reclaimable)
	assert.Equal(t, 3, st.ByStatus[model.CallStatusAnswered])
}

func TestShuffleRecords_Uniform(t *testing.T) {
	const (
		n    = 4
		runs = 40000
	)
	var firsts [n]int
	for i := 0; i < runs; i++ {
		recs := make([]*model.PhoneRecord, n)
		for j := range recs {
			recs[j] = &model.PhoneRecord{ID: string(rune('a' + j))}
		}
		shuffleRecords(recs)
		firsts[recs[0].ID[0]-'a']++
	}
	for i, c := range firsts {
		assert.InDelta(t, runs/n, c, 600, "element %d lands first too often or too rarely", i)
	}
}
