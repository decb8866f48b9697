package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxgate/voxgate/internal/config"
)

func TestBestText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"top-level final", `{"final":"done","text":"other"}`, "done"},
		{"top-level reply", `{"reply":"here you go"}`, "here you go"},
		{"nested content", `{"result":{"content":"nested answer"}}`, "nested answer"},
		{"array of messages", `{"messages":[{"text":"first"},{"text":"second"}]}`, "first"},
		{"skips placeholder", `{"output":"Execution completed.","result":{"text":"real output"}}`, "real output"},
		{"placeholder only", `{"output":"Execution completed."}`, "Execution completed."},
		{"empty strings ignored", `{"text":"  ","reply":"actual"}`, "actual"},
		{"nothing useful", `{"status":200,"ok":true}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var payload any
			if err := json.Unmarshal([]byte(tc.in), &payload); err != nil {
				t.Fatal(err)
			}
			if got := BestText(payload); got != tc.want {
				t.Errorf("BestText(%s) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestGatewayExecute(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"final": "all services restarted"})
	}))
	defer srv.Close()

	g := NewGateway(config.ExecutorConfig{BaseURL: srv.URL, Token: "secret"})
	out, err := g.Execute(context.Background(), "restart services")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "all services restarted" {
		t.Errorf("summary = %q", out)
	}
	if gotPath != "/api/agent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["message"] != "restart services" {
		t.Errorf("request body = %v", gotBody)
	}
}

func TestGatewayExecuteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGateway(config.ExecutorConfig{BaseURL: srv.URL})
	if _, err := g.Execute(context.Background(), "x"); err == nil {
		t.Error("5xx response did not error")
	}
}

func TestGatewayExecuteUnparseableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	g := NewGateway(config.ExecutorConfig{BaseURL: srv.URL})
	out, err := g.Execute(context.Background(), "x")
	if err != nil {
		t.Fatalf("unparseable body must degrade, not fail: %v", err)
	}
	if out == "" {
		t.Error("empty summary for unparseable body")
	}
}

func TestGatewayUnconfigured(t *testing.T) {
	g := NewGateway(config.ExecutorConfig{})
	if _, err := g.Execute(context.Background(), "x"); err == nil {
		t.Error("missing base url did not error")
	}
}
