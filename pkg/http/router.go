package xhttp

import (
	"strconv"

	"github.com/fasthttp/router"
)

type Router = router.Router

// CreateDefaultRouter answers unmatched paths and methods with the same JSON
// error body the API handlers use. OPTIONS is left to the CORS middleware.
func CreateDefaultRouter() *Router {
	r := router.New()
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = MethodNotAllowedHandler
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	writeRouteError(ctx, StatusNotFound)
}

// MethodNotAllowedHandler keeps the Allow header the router has already set.
func MethodNotAllowedHandler(ctx *RequestCtx) {
	writeRouteError(ctx, StatusMethodNotAllowed)
}

func writeRouteError(ctx *RequestCtx, code int) {
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":` + strconv.Quote(StatusText(code)) + `}`)
}
