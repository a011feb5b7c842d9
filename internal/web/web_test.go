package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStatusWriter(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &StatusWriter{ResponseWriter: w, Code: 200}

	sw.WriteHeader(http.StatusNotFound)
	if sw.Code != http.StatusNotFound {
		t.Errorf("expected Code 404, got %d", sw.Code)
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("expected recorded code 404, got %d", w.Code)
	}
}

func TestErrorCode(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorCode(w, http.StatusGatewayTimeout, "tunnel_not_ready", "tunnel not ready", true, map[string]any{"log": "ssh.log"})

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", w.Code)
	}
	want := `{"code":"tunnel_not_ready","details":{"log":"ssh.log"},"error":"tunnel not ready","retryable":true}` + "\n"
	if w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, fmt.Errorf("bad request"))

	want := `{"code":"error","error":"bad request"}` + "\n"
	if w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Link string `json:"link"`
	}
	r := httptest.NewRequest("POST", "/latency", strings.NewReader(`{"link":"socks://h:1"}`))
	if !DecodeJSON(httptest.NewRecorder(), r, &v) || v.Link != "socks://h:1" {
		t.Errorf("decoded %+v", v)
	}

	r = httptest.NewRequest("POST", "/x", strings.NewReader(""))
	if !DecodeJSON(httptest.NewRecorder(), r, &v) {
		t.Error("empty body should be accepted")
	}

	w := httptest.NewRecorder()
	r = httptest.NewRequest("POST", "/x", strings.NewReader(`{"link":`))
	if DecodeJSON(w, r, &v) || w.Code != 400 {
		t.Errorf("truncated body: ok, code = %d", w.Code)
	}
}
