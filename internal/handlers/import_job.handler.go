package handlers

import (
	"context"
	"strings"

	"github.com/fasthttp/router"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/permission"
	xhttp "github.com/territorios-app/territorios/pkg/http"
)

type ImportJobs interface {
	Enqueue(ctx context.Context, text, requestedBy string) (*model.ImportProgress, error)
	Progress(ctx context.Context, id string) (*model.ImportProgress, error)
}

type ImportJobHandler struct {
	jobs ImportJobs
}

func RegisterImportJobRoutes(e *router.Group, h *ImportJobHandler, a *Authenticator) {
	e.POST("/phones/import/jobs", a.Require(permission.PhonesImport, h.Enqueue))
	e.GET("/phones/import/jobs/{id}", a.Require(permission.PhonesImport, h.Progress))
}

func NewImportJobHandler(jobs ImportJobs) *ImportJobHandler {
	return &ImportJobHandler{
		jobs: jobs,
	}
}

func (h *ImportJobHandler) Enqueue(ctx *xhttp.RequestCtx) {
	text := string(ctx.PostBody())
	if strings.TrimSpace(text) == "" {
		writeError(ctx, xhttp.StatusBadRequest, "import text is empty")
		return
	}
	p, err := h.jobs.Enqueue(ctx, text, sessionFrom(ctx).UID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.Response.Header.Set("Location", "/api/v1/phones/import/jobs/"+p.ID)
	writeJSON(ctx, xhttp.StatusAccepted, p)
}

func (h *ImportJobHandler) Progress(ctx *xhttp.RequestCtx) {
	p, err := h.jobs.Progress(ctx, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, p)
}
