package handler

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
)

// JSONResponse is the standard JSON response envelope.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

// JSON writes a success envelope with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, JSONResponse{Data: v})
}

// JSONError converts an error into the error envelope and writes it.
// HTTPError values control the status code and error code; validation
// errors carry field details; everything else is an internal error.
func JSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := errorToDetail(err, &status)
	writeJSON(w, status, JSONResponse{Error: detail})
}

// JSONAck writes the webhook acknowledgement envelope: 2xx with an
// optional error field so the provider does not retry a poisoned event.
func JSONAck(w http.ResponseWriter, processingErr error) {
	body := JSONResponse{Data: map[string]any{"received": true}}
	if processingErr != nil {
		body.Error = &ErrorDetail{
			Code:    "webhook_processing_failed",
			Message: processingErr.Error(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorToDetail(err error, status *int) *ErrorDetail {
	code := "internal_error"
	message := err.Error()

	var valErr ValidationError
	if errors.As(err, &valErr) {
		*status = http.StatusBadRequest
		detail := &ErrorDetail{
			Code:    "validation_error",
			Message: "request validation failed",
		}
		if len(valErr) > 0 {
			detail.Details = make(map[string][]string)
			maps.Copy(detail.Details, valErr)
		}
		return detail
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		*status = httpErr.Code
		code = httpErr.Key
		message = http.StatusText(httpErr.Code)
	}

	return &ErrorDetail{
		Code:    code,
		Message: message,
	}
}
