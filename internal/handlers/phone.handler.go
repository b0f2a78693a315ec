package handlers

import (
	"context"
	"strings"

	"github.com/fasthttp/router"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/permission"
	"github.com/territorios-app/territorios/internal/services"
	xhttp "github.com/territorios-app/territorios/pkg/http"
)

type PhoneService interface {
	Create(ctx context.Context, req model.PhoneCreateRequest) (*model.PhoneRecord, error)
	Get(ctx context.Context, id string) (*model.PhoneRecord, error)
	List(ctx context.Context, f model.PhoneFilter) ([]*model.PhoneRecord, int64, error)
	Update(ctx context.Context, id string, req model.PhoneUpdateRequest) (*model.PhoneRecord, error)
	UpdateStatus(ctx context.Context, id string, status model.CallStatus, comments *string) (*model.PhoneRecord, error)
	Delete(ctx context.Context, id string) error
	RequestBatch(ctx context.Context, size int) (*model.BatchResult, error)
	ExportForPDF(ctx context.Context, size int) ([]*model.PhoneRecord, error)
	ResetPool(ctx context.Context) (*model.ResetResult, error)
	Stats(ctx context.Context) (*model.PhoneStats, error)
}

type PhoneImporter interface {
	Import(ctx context.Context, text string, onProgress services.ProgressFunc) (*model.ImportResult, error)
}

type PhoneHandler struct {
	svc      PhoneService
	importer PhoneImporter
}

func RegisterPhoneRoutes(e *router.Group, h *PhoneHandler, a *Authenticator) {
	e.GET("/phones", a.Require(permission.PhonesRead, h.ListPhones))
	e.POST("/phones", a.Require(permission.PhonesWrite, h.CreatePhone))
	e.GET("/phones/available", a.Require(permission.PhonesRead, h.RequestBatch))
	e.GET("/phones/stats", a.Require(permission.PhonesRead, h.Stats))
	e.POST("/phones/export", a.Require(permission.PhonesExport, h.Export))
	e.POST("/phones/reset", a.Require(permission.PhonesReset, h.ResetPool))
	e.POST("/phones/import", a.Require(permission.PhonesImport, h.Import))
	e.GET("/phones/{id}", a.Require(permission.PhonesRead, h.GetPhone))
	e.PUT("/phones/{id}", a.Require(permission.PhonesWrite, h.UpdatePhone))
	e.DELETE("/phones/{id}", a.Require(permission.PhonesWrite, h.DeletePhone))
	e.PUT("/phones/{id}/status", a.Require(permission.PhonesUpdateStatus, h.UpdateStatus))
}

func NewPhoneHandler(svc PhoneService, importer PhoneImporter) *PhoneHandler {
	return &PhoneHandler{
		svc:      svc,
		importer: importer,
	}
}

type updateStatusRequest struct {
	CallStatus model.CallStatus `json:"call_status"`
	Comments   *string          `json:"comments"`
}

type exportResponse struct {
	Records []*model.PhoneRecord `json:"records"`
	Count   int                  `json:"count"`
}

func (h *PhoneHandler) ListPhones(ctx *xhttp.RequestCtx) {
	var f model.PhoneFilter
	if v := query(ctx, "call_status"); v != "" {
		status, err := model.ParseCallStatus(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, err.Error())
			return
		}
		f.CallStatus = &status
	}
	if v := query(ctx, "assigned_to"); v != "" {
		f.AssignedTo = &v
	}
	f.Search = query(ctx, "q")

	var err error
	if f.Limit, err = queryInt(ctx, "limit", 0); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "limit must be a number")
		return
	}
	if f.Offset, err = queryInt(ctx, "offset", 0); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "offset must be a number")
		return
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.PhoneRecord]{Items: items, Total: total})
}

func (h *PhoneHandler) CreatePhone(ctx *xhttp.RequestCtx) {
	var req model.PhoneCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec, err := h.svc.Create(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, rec)
}

func (h *PhoneHandler) GetPhone(ctx *xhttp.RequestCtx) {
	rec, err := h.svc.Get(ctx, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, rec)
}

func (h *PhoneHandler) UpdatePhone(ctx *xhttp.RequestCtx) {
	var req model.PhoneUpdateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec, err := h.svc.Update(ctx, pathParam(ctx, "id"), req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, rec)
}

func (h *PhoneHandler) UpdateStatus(ctx *xhttp.RequestCtx) {
	var req updateStatusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec, err := h.svc.UpdateStatus(ctx, pathParam(ctx, "id"), req.CallStatus, req.Comments)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, rec)
}

func (h *PhoneHandler) DeletePhone(ctx *xhttp.RequestCtx) {
	if err := h.svc.Delete(ctx, pathParam(ctx, "id")); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}

func (h *PhoneHandler) RequestBatch(ctx *xhttp.RequestCtx) {
	size, err := queryInt(ctx, "size", 0)
	if err != nil || size < 0 {
		writeError(ctx, xhttp.StatusBadRequest, "size must be a positive number")
		return
	}
	res, err := h.svc.RequestBatch(ctx, size)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *PhoneHandler) Stats(ctx *xhttp.RequestCtx) {
	st, err := h.svc.Stats(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, st)
}

func (h *PhoneHandler) Export(ctx *xhttp.RequestCtx) {
	size, err := queryInt(ctx, "size", 0)
	if err != nil || size < 0 {
		writeError(ctx, xhttp.StatusBadRequest, "size must be a positive number")
		return
	}
	recs, err := h.svc.ExportForPDF(ctx, size)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, exportResponse{Records: recs, Count: len(recs)})
}

func (h *PhoneHandler) ResetPool(ctx *xhttp.RequestCtx) {
	res, err := h.svc.ResetPool(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

// Import runs a bulk import inline. Large files should go through the import
// jobs endpoint instead.
func (h *PhoneHandler) Import(ctx *xhttp.RequestCtx) {
	text := string(ctx.PostBody())
	if strings.TrimSpace(text) == "" {
		writeError(ctx, xhttp.StatusBadRequest, "import text is empty")
		return
	}
	res, err := h.importer.Import(ctx, text, nil)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}
