package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/territorios-app/territorios/internal/model"
	xhttp "github.com/territorios-app/territorios/pkg/http"
)

type IdentityVerifier interface {
	VerifyToken(ctx context.Context, token string) (*model.Identity, error)
}

type LoginService interface {
	Login(ctx context.Context, id model.Identity) (*model.AppUser, error)
}

type TokenIssuer interface {
	NewAccessToken(u *model.AppUser) (string, time.Time, error)
}

type AuthHandler struct {
	verifier IdentityVerifier
	users    LoginService
	issuer   TokenIssuer
}

func RegisterAuthRoutes(e *router.Group, h *AuthHandler) {
	e.POST("/auth/session", h.CreateSession)
}

func NewAuthHandler(verifier IdentityVerifier, users LoginService, issuer TokenIssuer) *AuthHandler {
	return &AuthHandler{
		verifier: verifier,
		users:    users,
		issuer:   issuer,
	}
}

type createSessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *model.AppUser `json:"user"`
}

// CreateSession trades an identity provider token for an API session token.
func (h *AuthHandler) CreateSession(ctx *xhttp.RequestCtx) {
	var req createSessionRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(ctx, xhttp.StatusBadRequest, "token is required")
		return
	}

	id, err := h.verifier.VerifyToken(ctx, req.Token)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	user, err := h.users.Login(ctx, *id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	token, exp, err := h.issuer.NewAccessToken(user)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, sessionResponse{Token: token, ExpiresAt: exp, User: user})
}
