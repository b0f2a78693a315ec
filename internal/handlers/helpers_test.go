package handlers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/territorios-app/territorios/internal/model"
	xhttp "github.com/territorios-app/territorios/pkg/http"
	"github.com/valyala/fasthttp"
)

var (
	adminSession     = &model.Session{UID: "admin-1", Role: model.RoleAdmin, Phone: "5550000001"}
	publisherSession = &model.Session{UID: "pub-1", Role: model.RolePublisher, Phone: "5550000002"}
)

// fakeTokens resolves bearer tokens from a fixed table.
type fakeTokens map[string]*model.Session

func (f fakeTokens) ParseToken(token string) (*model.Session, error) {
	if s, ok := f[token]; ok {
		return s, nil
	}
	return nil, errors.New("unknown token")
}

func testAuthenticator() *Authenticator {
	return NewAuthenticator(fakeTokens{
		"admin":     adminSession,
		"publisher": publisherSession,
	})
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func withBearer(ctx *xhttp.RequestCtx, token string) *xhttp.RequestCtx {
	ctx.Request.Header.Set("Authorization", "Bearer "+token)
	return ctx
}

func errorBody(t *testing.T, ctx *xhttp.RequestCtx) string {
	t.Helper()
	var response map[string]string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	return response["error"]
}
