package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dualauth/dualauth/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestIndex(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	New().Index(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp IndexResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Service != "dualauth" || resp.Version != Version {
		t.Errorf("unexpected index: %+v", resp)
	}
	if len(resp.Endpoints) != len(endpoints) {
		t.Errorf("endpoints = %d, want %d", len(resp.Endpoints), len(endpoints))
	}
}

func TestFallbackHandlers(t *testing.T) {
	t.Parallel()

	h := New()
	tests := []struct {
		name     string
		serve    http.HandlerFunc
		wantCode int
		wantErr  string
	}{
		{"not found", h.NotFound, http.StatusNotFound, "NOT_FOUND"},
		{"method not allowed", h.MethodNotAllowed, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			tt.serve(rec, httptest.NewRequest(http.MethodPut, "/nope", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decodeBody(t, rec)
			if body["ok"] != false || body["code"] != tt.wantErr {
				t.Errorf("unexpected body: %v", body)
			}
		})
	}
}

func TestHandleServiceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantCode    int
		wantErrCode string
		wantMessage string
	}{
		{"missing field", fmt.Errorf("%w: password", service.ErrMissingField), http.StatusBadRequest, "MISSING_FIELD", "missing required field: password"},
		{"invalid field", fmt.Errorf("%w: username", service.ErrInvalidField), http.StatusBadRequest, "INVALID_FIELD", "invalid field: username"},
		{"bad credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password"},
		{"unauthorized", fmt.Errorf("%w: token expired", service.ErrUnauthorized), http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing token"},
		{"unknown user", service.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "user not found"},
		{"duplicate", service.ErrUserAlreadyExists, http.StatusConflict, "USER_EXISTS", "username already registered"},
		{"store down", fmt.Errorf("%w: dial tcp postgres://app:s3cret@db", service.ErrStoreUnavailable), http.StatusBadGateway, "STORE_UNAVAILABLE", "credential store unavailable"},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			handleServiceError(rec, discardLogger(), tt.err)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decodeBody(t, rec)
			if body["code"] != tt.wantErrCode || body["error"] != tt.wantMessage {
				t.Errorf("body = %v, want code %s message %q", body, tt.wantErrCode, tt.wantMessage)
			}
			if got := rec.Header().Get("WWW-Authenticate"); (tt.wantErrCode == "UNAUTHORIZED") != (got != "") {
				t.Errorf("WWW-Authenticate = %q for %s", got, tt.wantErrCode)
			}
			if strings.Contains(rec.Body.String(), "s3cret") {
				t.Errorf("response leaks store error: %s", rec.Body.String())
			}
		})
	}
}

func TestUnauthorizedResponsesChallenge(t *testing.T) {
	t.Parallel()

	h := NewAuthHandler(nil, discardLogger())
	tests := []struct {
		name   string
		serve  http.HandlerFunc
		method string
		path   string
	}{
		{"protected without principal", h.Protected, http.MethodGet, "/protected"},
		{"refresh without bearer", h.Refresh, http.MethodPost, "/refresh"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			tt.serve(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="dualauth"` {
				t.Errorf("WWW-Authenticate = %q", got)
			}
			if body := decodeBody(t, rec); body["code"] != "UNAUTHORIZED" {
				t.Errorf("code = %v, want UNAUTHORIZED", body["code"])
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		limit    int64
		wantOK   bool
		wantCode string
	}{
		{"valid", `{"username":"alice","password":"pw"}`, 1024, true, ""},
		{"malformed", `{"username":`, 1024, false, "INVALID_JSON"},
		{"wrong type", `{"username":42}`, 1024, false, "INVALID_JSON"},
		{"over limit", `{"username":"` + strings.Repeat("a", 200) + `"}`, 64, false, "PAYLOAD_TOO_LARGE"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tt.body))
			req.Body = http.MaxBytesReader(rec, req.Body, tt.limit)

			var dst struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			ok := decodeJSON(rec, req, &dst)

			if ok != tt.wantOK {
				t.Fatalf("decodeJSON = %v, want %v", ok, tt.wantOK)
			}
			if ok {
				if dst.Username != "alice" {
					t.Errorf("username = %q", dst.Username)
				}
				return
			}
			if body := decodeBody(t, rec); body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
		})
	}
}
