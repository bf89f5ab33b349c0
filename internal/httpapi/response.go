// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package httpapi

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/logging"
)

// APIResponse is the standardized response envelope for every endpoint.
type APIResponse struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *APIError  `json:"error,omitempty"`
	Meta    *APIMeta   `json:"meta,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// APIMeta carries response bookkeeping.
type APIMeta struct {
	RequestID  string    `json:"requestId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"durationMs,omitempty"`
}

const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeUnavailable     = "SERVICE_UNAVAILABLE"
)

// ResponseWriter writes APIResponse envelopes for one request.
type ResponseWriter struct {
	w         http.ResponseWriter
	r         *http.Request
	startTime time.Time
}

// NewResponseWriter builds a ResponseWriter for the current request.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, startTime: time.Now()}
}

// Success writes a 200 response wrapping data.
func (rw *ResponseWriter) Success(data any) {
	rw.writeJSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: rw.meta()})
}

// Created writes a 201 response wrapping data.
func (rw *ResponseWriter) Created(data any) {
	rw.writeJSON(http.StatusCreated, APIResponse{Success: true, Data: data, Meta: rw.meta()})
}

// Error writes an error response with the given status code.
func (rw *ResponseWriter) Error(statusCode int, code, message string) {
	rw.writeJSON(statusCode, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, RequestID: logging.RequestIDFromContext(rw.r.Context())},
		Meta:    rw.meta(),
	})
}

func (rw *ResponseWriter) BadRequest(message string)    { rw.Error(http.StatusBadRequest, ErrCodeBadRequest, message) }
func (rw *ResponseWriter) NotFound(message string)      { rw.Error(http.StatusNotFound, ErrCodeNotFound, message) }
func (rw *ResponseWriter) Forbidden(message string)     { rw.Error(http.StatusForbidden, ErrCodeForbidden, message) }
func (rw *ResponseWriter) Conflict(message string)      { rw.Error(http.StatusConflict, ErrCodeConflict, message) }
func (rw *ResponseWriter) InternalError(message string) { rw.Error(http.StatusInternalServerError, ErrCodeInternalError, message) }
func (rw *ResponseWriter) ServiceUnavailable(message string) {
	rw.Error(http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

func (rw *ResponseWriter) meta() *APIMeta {
	return &APIMeta{
		RequestID:  logging.RequestIDFromContext(rw.r.Context()),
		Timestamp:  time.Now(),
		DurationMs: time.Since(rw.startTime).Milliseconds(),
	}
}

func (rw *ResponseWriter) writeJSON(statusCode int, data any) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(statusCode)
	if err := json.NewEncoder(rw.w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("httpapi: failed to encode response")
	}
}
