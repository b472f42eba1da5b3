package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/leadnexus/internal/apperr"
)

func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestOllamaEngine_ChatPassesSchemaAsFormat(t *testing.T) {
	var format map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Format map[string]any `json:"format"`
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		format = body.Format
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": `{"name":"Ada"}`},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	schema := &Schema{
		Type:       "object",
		Properties: map[string]SchemaProperty{"name": {Type: "string"}},
		Required:   []string{"name"},
	}
	result, err := e.Chat(context.Background(), "llama3.1", []Message{
		{Role: RoleUser, Content: "extract"},
	}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != `{"name":"Ada"}` {
		t.Errorf("got %q", result)
	}
	if format["type"] != "object" {
		t.Errorf("format = %v, want schema document", format)
	}
}

func TestOllamaEngine_ErrorsAreUpstreamFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	if _, err := e.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "x"}}, nil); !apperr.Is(err, apperr.UpstreamProviderFailure) {
		t.Errorf("Chat err = %v, want UpstreamProviderFailure", err)
	}
	if _, err := e.Embed(context.Background(), "m", "x"); !apperr.Is(err, apperr.UpstreamProviderFailure) {
		t.Errorf("Embed err = %v, want UpstreamProviderFailure", err)
	}
}

func TestOllamaEngine_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	vec, err := e.Embed(context.Background(), "nomic-embed-text", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("got %d floats, want 3", len(vec))
	}
}

func TestOllamaEngine_ModelManager(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("llama3.1:latest"))
		case "/api/pull":
			enc := json.NewEncoder(w)
			enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 500})
			enc.Encode(map[string]any{"status": "success"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var e Engine = NewOllamaEngine(srv.URL)
	mm, ok := e.(ModelManager)
	if !ok {
		t.Fatal("OllamaEngine should implement ModelManager")
	}
	if !mm.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	if !mm.HasModel(context.Background(), "llama3.1") {
		t.Error("HasModel(llama3.1) = false, want true")
	}

	var progressCount int
	if err := mm.PullModel(context.Background(), "nomic-embed-text", func(PullProgress) { progressCount++ }); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if progressCount != 2 {
		t.Errorf("received %d progress updates, want 2", progressCount)
	}
}
