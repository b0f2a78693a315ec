package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/permission"
	xhttp "github.com/territorios-app/territorios/pkg/http"
)

type TerritoryService interface {
	Assign(ctx context.Context, req model.AssignRequest) (*model.Territory, error)
	AssignMany(ctx context.Context, reqs []model.AssignRequest) []model.AssignOutcome
	Return(ctx context.Context, number int, req model.ReturnRequest) (*model.Territory, error)
	DeleteAssignment(ctx context.Context, number int, ref model.AssignmentRef) (*model.Territory, error)
	Get(ctx context.Context, number int) (*model.Territory, error)
	List(ctx context.Context) ([]model.TerritorySummary, error)
	Stats(ctx context.Context) (*model.TerritoryStats, error)
	DeleteTerritory(ctx context.Context, number int) error
}

type TerritoryHandler struct {
	svc TerritoryService
}

func RegisterTerritoryRoutes(e *router.Group, h *TerritoryHandler, a *Authenticator) {
	e.GET("/territories", a.Require(permission.TerritoriesRead, h.ListTerritories))
	e.GET("/territories/stats", a.Require(permission.TerritoriesRead, h.Stats))
	e.POST("/territories/assign-batch", a.Require(permission.TerritoriesAssign, h.AssignBatch))
	e.GET("/territories/{number}", a.Require(permission.TerritoriesRead, h.GetTerritory))
	e.DELETE("/territories/{number}", a.Require(permission.TerritoriesDelete, h.DeleteTerritory))
	e.POST("/territories/{number}/assign", a.Require(permission.TerritoriesAssign, h.Assign))
	e.POST("/territories/{number}/return", a.Require(permission.TerritoriesReturn, h.Return))
	e.DELETE("/territories/{number}/assignments", a.Require(permission.TerritoriesDelete, h.DeleteAssignment))
}

func NewTerritoryHandler(svc TerritoryService) *TerritoryHandler {
	return &TerritoryHandler{
		svc: svc,
	}
}

type assignRequest struct {
	BlockNumbers   []int  `json:"block_numbers"`
	Conductor      string `json:"conductor"`
	AssignedAtDate string `json:"assigned_at_date"`
	Shift          string `json:"shift"`
}

type assignBatchRequest struct {
	Assignments []model.AssignRequest `json:"assignments"`
}

type assignBatchResponse struct {
	Results []model.AssignOutcome `json:"results"`
}

func territoryNumber(ctx *xhttp.RequestCtx) (int, bool) {
	n, err := pathInt(ctx, "number")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "territory number must be a number")
		return 0, false
	}
	return n, true
}

func (h *TerritoryHandler) ListTerritories(ctx *xhttp.RequestCtx) {
	items, err := h.svc.List(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[model.TerritorySummary]{Items: items, Total: int64(len(items))})
}

func (h *TerritoryHandler) Stats(ctx *xhttp.RequestCtx) {
	st, err := h.svc.Stats(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, st)
}

func (h *TerritoryHandler) GetTerritory(ctx *xhttp.RequestCtx) {
	n, ok := territoryNumber(ctx)
	if !ok {
		return
	}
	terr, err := h.svc.Get(ctx, n)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, terr)
}

func (h *TerritoryHandler) DeleteTerritory(ctx *xhttp.RequestCtx) {
	n, ok := territoryNumber(ctx)
	if !ok {
		return
	}
	if err := h.svc.DeleteTerritory(ctx, n); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}

func (h *TerritoryHandler) Assign(ctx *xhttp.RequestCtx) {
	n, ok := territoryNumber(ctx)
	if !ok {
		return
	}
	var req assignRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	terr, err := h.svc.Assign(ctx, model.AssignRequest{
		Territory:      n,
		BlockNumbers:   req.BlockNumbers,
		Conductor:      req.Conductor,
		AssignedAtDate: req.AssignedAtDate,
		Shift:          req.Shift,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, terr)
}

// AssignBatch assigns several territories at once. Each territory succeeds or
// fails on its own, so the response is always 200 with per-item results.
func (h *TerritoryHandler) AssignBatch(ctx *xhttp.RequestCtx) {
	var req assignBatchRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Assignments) == 0 {
		writeError(ctx, xhttp.StatusBadRequest, "assignments are required")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, assignBatchResponse{Results: h.svc.AssignMany(ctx, req.Assignments)})
}

func (h *TerritoryHandler) Return(ctx *xhttp.RequestCtx) {
	n, ok := territoryNumber(ctx)
	if !ok {
		return
	}
	var req model.ReturnRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	terr, err := h.svc.Return(ctx, n, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, terr)
}

func (h *TerritoryHandler) DeleteAssignment(ctx *xhttp.RequestCtx) {
	n, ok := territoryNumber(ctx)
	if !ok {
		return
	}
	var ref model.AssignmentRef
	if err := readJSON(ctx, &ref); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	terr, err := h.svc.DeleteAssignment(ctx, n, ref)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, terr)
}
