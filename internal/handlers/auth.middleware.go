package handlers

import (
	"bytes"

	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/permission"
	"github.com/territorios-app/territorios/pkg/logger"
	xhttp "github.com/territorios-app/territorios/pkg/http"
)

const sessionKey = "session"

type TokenParser interface {
	ParseToken(token string) (*model.Session, error)
}

// Authenticator guards routes with the bearer session token.
type Authenticator struct {
	parser TokenParser
}

func NewAuthenticator(parser TokenParser) *Authenticator {
	return &Authenticator{parser: parser}
}

// Require rejects requests without a valid session (401) or whose role lacks
// perm (403). An empty perm only requires a session.
func (a *Authenticator) Require(perm string, next xhttp.RequestHandler) xhttp.RequestHandler {
	return func(ctx *xhttp.RequestCtx) {
		raw := bytes.TrimSpace(ctx.Request.Header.Peek("Authorization"))
		token, ok := bytes.CutPrefix(raw, []byte("Bearer "))
		if !ok || len(token) == 0 {
			writeError(ctx, xhttp.StatusUnauthorized, "missing bearer token")
			return
		}

		session, err := a.parser.ParseToken(string(token))
		if err != nil {
			logger.Debug("session rejected", "error", err)
			writeError(ctx, xhttp.StatusUnauthorized, "invalid session token")
			return
		}
		if perm != "" && !permission.HasPermission(session.Role, perm) {
			writeError(ctx, xhttp.StatusForbidden, "missing permission "+perm)
			return
		}

		ctx.SetUserValue(sessionKey, session)
		next(ctx)
	}
}

func sessionFrom(ctx *xhttp.RequestCtx) model.Session {
	if s, ok := ctx.UserValue(sessionKey).(*model.Session); ok {
		return *s
	}
	return model.Session{}
}
