package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/permission"
	xhttp "github.com/territorios-app/territorios/pkg/http"
)

type UserService interface {
	Create(ctx context.Context, actor model.Session, req model.UserCreateRequest) (*model.AppUser, error)
	UpdateRole(ctx context.Context, actor model.Session, uid string, role model.Role) (*model.AppUser, error)
	Deactivate(ctx context.Context, actor model.Session, uid string) error
	Get(ctx context.Context, uid string) (*model.AppUser, error)
	List(ctx context.Context, role *model.Role, activeOnly bool) ([]*model.AppUser, error)
}

type UserHandler struct {
	svc UserService
}

func RegisterUserRoutes(e *router.Group, h *UserHandler, a *Authenticator) {
	e.GET("/users", a.Require(permission.UsersRead, h.ListUsers))
	e.POST("/users", a.Require(permission.UsersCreate, h.CreateUser))
	e.GET("/users/me", a.Require("", h.Me))
	e.GET("/users/{uid}", a.Require(permission.UsersRead, h.GetUser))
	e.PUT("/users/{uid}/role", a.Require(permission.UsersManage, h.UpdateRole))
	e.POST("/users/{uid}/deactivate", a.Require(permission.UsersManage, h.Deactivate))
}

func NewUserHandler(svc UserService) *UserHandler {
	return &UserHandler{
		svc: svc,
	}
}

type updateRoleRequest struct {
	Role model.Role `json:"role"`
}

func (h *UserHandler) ListUsers(ctx *xhttp.RequestCtx) {
	var role *model.Role
	if v := query(ctx, "role"); v != "" {
		r := model.Role(v)
		role = &r
	}
	users, err := h.svc.List(ctx, role, query(ctx, "active") == "true")
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.AppUser]{Items: users, Total: int64(len(users))})
}

func (h *UserHandler) CreateUser(ctx *xhttp.RequestCtx) {
	var req model.UserCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	u, err := h.svc.Create(ctx, sessionFrom(ctx), req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, u)
}

func (h *UserHandler) Me(ctx *xhttp.RequestCtx) {
	u, err := h.svc.Get(ctx, sessionFrom(ctx).UID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, u)
}

func (h *UserHandler) GetUser(ctx *xhttp.RequestCtx) {
	u, err := h.svc.Get(ctx, pathParam(ctx, "uid"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, u)
}

func (h *UserHandler) UpdateRole(ctx *xhttp.RequestCtx) {
	var req updateRoleRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	u, err := h.svc.UpdateRole(ctx, sessionFrom(ctx), pathParam(ctx, "uid"), req.Role)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, u)
}

func (h *UserHandler) Deactivate(ctx *xhttp.RequestCtx) {
	if err := h.svc.Deactivate(ctx, sessionFrom(ctx), pathParam(ctx, "uid")); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}
