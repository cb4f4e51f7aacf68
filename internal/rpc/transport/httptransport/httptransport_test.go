package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/rpc"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	catalog := rpc.NewCatalog()
	catalog.Register(&rpc.Procedure{
		Path: "greet.hello",
		Kind: rpc.KindQuery,
		Resolve: func(ctx context.Context, rc *rpc.Context, input json.RawMessage) (any, error) {
			var in struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			return map[string]string{"greeting": "hello " + in.Name, "ignored": "x"}, nil
		},
	})
	catalog.Register(&rpc.Procedure{
		Path: "greet.fail",
		Kind: rpc.KindQuery,
		Resolve: func(ctx context.Context, rc *rpc.Context, input json.RawMessage) (any, error) {
			return nil, apperror.NotFound("greeting not found")
		},
	})

	router := chi.NewRouter()
	Mount(router, "/rpc", catalog, &rpc.Context{})
	return httptest.NewServer(router)
}

func post(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, out
}

func TestHandle_Query(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, out := post(t, srv.URL+"/rpc", map[string]any{
		"path":  "greet.hello",
		"kind":  "query",
		"input": map[string]string{"name": "world"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out["greeting"] != "hello world" {
		t.Fatalf("unexpected body: %+v", out)
	}
}

func TestHandle_QueryWithSelect(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, out := post(t, srv.URL+"/rpc", map[string]any{
		"path":   "greet.hello",
		"kind":   "query",
		"input":  map[string]string{"name": "world"},
		"select": map[string]any{"greeting": true},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, ok := out["ignored"]; ok {
		t.Fatalf("expected ignored field to be pruned, got %+v", out)
	}
	if out["greeting"] != "hello world" {
		t.Fatalf("unexpected body: %+v", out)
	}
}

func TestHandle_MissingPath(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, _ := post(t, srv.URL+"/rpc", map[string]any{"kind": "query"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandle_NotFoundMapsTo404(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, out := post(t, srv.URL+"/rpc", map[string]any{"path": "greet.fail", "kind": "query"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	errField, ok := out["error"].(map[string]any)
	if !ok || errField["code"] != string(apperror.KindNotFound) {
		t.Fatalf("unexpected error body: %+v", out)
	}
}

func TestHandle_InvalidJSONBody(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
