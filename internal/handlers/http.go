package handlers

import (
	"encoding/json"
	"errors"
	"strconv"

	gateway "github.com/territorios-app/territorios/internal/gateways"
	"github.com/territorios-app/territorios/internal/services"
	"github.com/territorios-app/territorios/pkg/logger"
	xhttp "github.com/territorios-app/territorios/pkg/http"
)

type listResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error to its status code. Service errors
// are safe to show; anything else is logged and hidden.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	status := statusFor(err)
	if status == xhttp.StatusInternalServerError && !isDomainError(err) {
		logger.Error("unhandled service error", "path", string(ctx.Path()), "error", err)
		writeError(ctx, status, xhttp.StatusText(status))
		return
	}
	writeError(ctx, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return xhttp.StatusBadRequest
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrAssignmentNotFound):
		return xhttp.StatusNotFound
	case errors.Is(err, services.ErrDuplicateNumber),
		errors.Is(err, services.ErrBlocksAlreadyAssigned),
		errors.Is(err, services.ErrInsufficientAvailable),
		errors.Is(err, services.ErrPoolBusy),
		errors.Is(err, services.ErrPhoneInUse):
		return xhttp.StatusConflict
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrUserInactive):
		return xhttp.StatusForbidden
	case errors.Is(err, gateway.ErrTokenRejected):
		return xhttp.StatusUnauthorized
	case errors.Is(err, gateway.ErrNoAvailableProviders):
		return xhttp.StatusServiceUnavailable
	}
	return xhttp.StatusInternalServerError
}

func isDomainError(err error) bool {
	for _, target := range []error{
		services.ErrPhoneFetch,
		services.ErrPhoneUpdate,
		services.ErrTerritoryFetch,
		services.ErrTerritoryUpdate,
		services.ErrUserFetch,
		services.ErrUserUpdate,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

// queryInt returns def when key is absent and an error when it is malformed.
func queryInt(ctx *xhttp.RequestCtx, key string, def int) (int, error) {
	v := query(ctx, key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func pathInt(ctx *xhttp.RequestCtx, name string) (int, error) {
	return strconv.Atoi(pathParam(ctx, name))
}
