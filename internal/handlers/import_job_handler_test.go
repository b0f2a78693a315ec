package handlers

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/permission"
	"github.com/territorios-app/territorios/internal/services"
)

type MockImportJobs struct {
	mock.Mock
}

func (m *MockImportJobs) Enqueue(ctx context.Context, text, requestedBy string) (*model.ImportProgress, error) {
	args := m.Called(ctx, text, requestedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ImportProgress), args.Error(1)
}

func (m *MockImportJobs) Progress(ctx context.Context, id string) (*model.ImportProgress, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ImportProgress), args.Error(1)
}

func TestImportJobHandler_Enqueue(t *testing.T) {
	jobs := new(MockImportJobs)
	handler := NewImportJobHandler(jobs)
	jobs.On("Enqueue", mock.Anything, "Ana,Calle 1,5551234567", "admin-1").
		Return(&model.ImportProgress{ID: "job-1", State: model.ImportJobQueued}, nil)

	ctx := withBearer(setupTestContext("POST", "/phones/import/jobs", []byte("Ana,Calle 1,5551234567")), "admin")
	testAuthenticator().Require(permission.PhonesImport, handler.Enqueue)(ctx)

	assert.Equal(t, 202, ctx.Response.StatusCode())
	assert.Equal(t, "/api/v1/phones/import/jobs/job-1", string(ctx.Response.Header.Peek("Location")))
	jobs.AssertExpectations(t)
}

func TestImportJobHandler_Progress(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		jobs := new(MockImportJobs)
		handler := NewImportJobHandler(jobs)
		jobs.On("Progress", mock.Anything, "job-1").
			Return(&model.ImportProgress{ID: "job-1", State: model.ImportJobRunning, Current: 10, Total: 40, Percent: 25}, nil)

		ctx := setupTestContext("GET", "/phones/import/jobs/job-1", nil)
		ctx.SetUserValue("id", "job-1")
		handler.Progress(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), `"percent":25`)
	})

	t.Run("unknown job", func(t *testing.T) {
		jobs := new(MockImportJobs)
		handler := NewImportJobHandler(jobs)
		jobs.On("Progress", mock.Anything, "nope").
			Return(nil, fmt.Errorf("%w: import job nope", services.ErrNotFound))

		ctx := setupTestContext("GET", "/phones/import/jobs/nope", nil)
		ctx.SetUserValue("id", "nope")
		handler.Progress(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}
