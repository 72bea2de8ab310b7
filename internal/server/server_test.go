package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"

	xquery "xquery-go"
)

func newTestServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := xquery.New(xquery.WithFilesystem(memfs.New()), xquery.WithProjectRoot("/"), xquery.WithLogger(logger))
	return New(engine, logger)
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(newTestServer(), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestExecute(t *testing.T) {
	s := newTestServer()
	tests := []struct {
		name    string
		body    string
		success bool
		results []string
	}{
		{"success", `{"xml":"<r><a>1</a><a>2</a></r>","query":"//a/text()"}`, true, []string{"1", "2"}},
		{"template", `{"xml":"<r/>","query":"Result: {{x}}"}`, true, []string{"Result: {x}"}},
		{"query failure", `{"xml":"<r/>","query":"{unclosed"}`, false, []string{}},
		{"missing document", `{"xml":"<r/>","query":"doc(\"nope.xml\")","working_dir":"/w"}`, false, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodPost, "/api/execute", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID header")
			}
			var res xquery.Result
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if res.Success != tt.success || !reflect.DeepEqual(res.Results, tt.results) {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestExecuteBadRequest(t *testing.T) {
	s := newTestServer()
	for _, body := range []string{`{"xml":`, `{"xml":"<r/>"}`} {
		if w := do(s, http.MethodPost, "/api/execute", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestPreprocess(t *testing.T) {
	w := do(newTestServer(), http.MethodPost, "/api/preprocess", `{"query":"(: c :) doc(\"f.xml\")/a/b"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp PreprocessResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Query != "/a/b" {
		t.Errorf("Query = %q, want /a/b", resp.Query)
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer()
	do(s, http.MethodPost, "/api/execute", `{"xml":"<r/>","query":"count(/r)"}`)
	w := do(s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, name := range []string{"xquery_executions_total", "xquery_http_requests_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metrics output does not contain %s", name)
		}
	}
}
