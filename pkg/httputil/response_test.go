package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"access_token": "abc"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"access_token":"abc"}`, w.Body.String())
}

func TestWriteMessageHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		body   string
	}{
		{
			name:   "bad request",
			write:  func(w http.ResponseWriter) { WriteBadRequest(w, "Quota must be greater than zero") },
			status: http.StatusBadRequest,
			body:   `{"message":"Quota must be greater than zero"}`,
		},
		{
			name:   "unauthorized",
			write:  func(w http.ResponseWriter) { WriteUnauthorized(w, "Invalid APIKEY") },
			status: http.StatusUnauthorized,
			body:   `{"message":"Invalid APIKEY"}`,
		},
		{
			name:   "not found",
			write:  func(w http.ResponseWriter) { WriteNotFound(w, "no such code") },
			status: http.StatusNotFound,
			body:   `{"message":"no such code"}`,
		},
		{
			name:   "too many requests",
			write:  func(w http.ResponseWriter) { WriteTooManyRequests(w, "Rate limit exceeded. Try again tomorrow.") },
			status: http.StatusTooManyRequests,
			body:   `{"message":"Rate limit exceeded. Try again tomorrow."}`,
		},
		{
			name:   "internal error never leaks detail",
			write:  func(w http.ResponseWriter) { WriteInternalError(w) },
			status: http.StatusInternalServerError,
			body:   `{"message":"Internal Server Error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NoError(t, WriteSuccess(w, []string{"ABCD1234"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["ABCD1234"]`, w.Body.String())
}
