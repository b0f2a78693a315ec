package xhttp

import (
	"testing"

	"github.com/fasthttp/router"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func serveRoute(r *Router, method, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	r.Handler(ctx)
	return ctx
}

func TestCreateDefaultRouter(t *testing.T) {
	r := CreateDefaultRouter()
	r.GET("/phones/stats", func(ctx *RequestCtx) {
		ctx.SetStatusCode(StatusOK)
	})

	t.Run("matched route", func(t *testing.T) {
		ctx := serveRoute(r, "GET", "/phones/stats")
		assert.Equal(t, StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "/phones/stats", ctx.UserValue(router.MatchedRoutePathParam))
	})

	t.Run("unknown path", func(t *testing.T) {
		ctx := serveRoute(r, "GET", "/territories/99/nope")
		assert.Equal(t, StatusNotFound, ctx.Response.StatusCode())
		assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
		assert.JSONEq(t, `{"error":"Not Found"}`, string(ctx.Response.Body()))
	})

	t.Run("wrong method", func(t *testing.T) {
		ctx := serveRoute(r, "DELETE", "/phones/stats")
		assert.Equal(t, StatusMethodNotAllowed, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Header.Peek("Allow")), "GET")
		assert.JSONEq(t, `{"error":"Method Not Allowed"}`, string(ctx.Response.Body()))
	})
}
