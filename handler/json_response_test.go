package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fitcore/handler"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) handler.JSONResponse {
	t.Helper()

	var body handler.JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	handler.JSON(rec, http.StatusCreated, map[string]string{"id": "u1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Nil(t, body.Error)
	assert.JSONEq(t, `{"id":"u1"}`, string(mustMarshal(t, body.Data)))
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	t.Run("http error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.JSONError(rec, handler.ErrNotFound)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		body := decodeBody(t, rec)
		require.NotNil(t, body.Error)
		assert.Equal(t, "not_found", body.Error.Code)
	})

	t.Run("wrapped http error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.JSONError(rec, errors.Join(handler.ErrServiceUnavailable, errors.New("mongo down")))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decodeBody(t, rec)
		require.NotNil(t, body.Error)
		assert.Equal(t, "service_unavailable", body.Error.Code)
	})

	t.Run("validation error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.JSONError(rec, handler.ValidationError{}.Add("plan", "is required").Add("plan", "must be a purchasable plan"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody(t, rec)
		require.NotNil(t, body.Error)
		assert.Equal(t, "validation_error", body.Error.Code)
		assert.Equal(t, []string{"is required", "must be a purchasable plan"}, body.Error.Details["plan"])
	})

	t.Run("unknown error is internal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.JSONError(rec, errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeBody(t, rec)
		require.NotNil(t, body.Error)
		assert.Equal(t, "internal_error", body.Error.Code)
	})
}

func TestJSONAck(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.JSONAck(rec, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Nil(t, body.Error)
		assert.JSONEq(t, `{"received":true}`, string(mustMarshal(t, body.Data)))
	})

	t.Run("processing failure still acknowledges", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.JSONAck(rec, errors.New("poisoned event"))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		require.NotNil(t, body.Error)
		assert.Equal(t, "webhook_processing_failed", body.Error.Code)
	})
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Plan string `json:"plan"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"plan":"1-month"}`))
		var p payload
		require.NoError(t, handler.DecodeJSON(req, &p))
		assert.Equal(t, "1-month", p.Plan)
	})

	t.Run("empty body leaves zero value", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
		var p payload
		require.NoError(t, handler.DecodeJSON(req, &p))
		assert.Empty(t, p.Plan)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		var p payload
		assert.ErrorIs(t, handler.DecodeJSON(req, &p), handler.ErrBadRequest)
	})
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
