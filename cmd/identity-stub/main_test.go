package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(rate float64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(NewStub(settings{Provider: "phone", FailureRate: rate}))
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestVerify(t *testing.T) {
	r := newTestRouter(0)

	t.Run("valid token", func(t *testing.T) {
		w := post(r, "/api/v1/tokens/verify", `{"token":"stub:u-1:+525512345678:a@b.mx"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var got VerifyResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, VerifyResponse{UID: "u-1", Phone: "+525512345678", Email: "a@b.mx", Provider: "phone"}, got)
	})

	t.Run("foreign token", func(t *testing.T) {
		w := post(r, "/api/v1/tokens/verify", `{"token":"eyJhbGciOi"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := post(r, "/api/v1/tokens/verify", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestVerify_FailureRate(t *testing.T) {
	r := newTestRouter(1)

	w := post(r, "/api/v1/tokens/verify", `{"token":"stub:u-1:+525512345678"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUpdateConfig(t *testing.T) {
	r := newTestRouter(1)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", bytes.NewBufferString(`{"failure_rate":0}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseToken(t *testing.T) {
	id, err := parseToken("stub:u-9:+525500000000")
	require.NoError(t, err)
	assert.Equal(t, "u-9", id.UID)
	assert.Empty(t, id.Email)

	_, err = parseToken("stub::+5255")
	assert.ErrorIs(t, err, errMalformedToken)
}
