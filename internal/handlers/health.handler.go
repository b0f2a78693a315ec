package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/territorios-app/territorios/internal/services"
	xhttp "github.com/territorios-app/territorios/pkg/http"
)

type HealthService interface {
	Get(ctx context.Context) services.HealthStatus
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{
		svc: svc,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	st := h.svc.Get(ctx)
	status := xhttp.StatusOK
	if st.Status != "ok" {
		status = xhttp.StatusServiceUnavailable
	}
	writeJSON(ctx, status, st)
}
