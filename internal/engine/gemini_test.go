package engine

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestSplitGeminiMessages(t *testing.T) {
	system, history, last := splitGeminiMessages([]Message{
		{Role: RoleSystem, Content: "You extract leads."},
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "ok"},
		{Role: RoleUser, Content: "page content"},
	})
	if system != "You extract leads." {
		t.Errorf("system = %q", system)
	}
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if history[1].Role != "model" {
		t.Errorf("assistant turn role = %q, want model", history[1].Role)
	}
	if last == nil || last.Parts[0] != genai.Text("page content") {
		t.Errorf("last = %+v", last)
	}
}

func TestSplitGeminiMessages_SystemOnly(t *testing.T) {
	_, history, last := splitGeminiMessages([]Message{{Role: RoleSystem, Content: "x"}})
	if history != nil || last != nil {
		t.Errorf("expected no turns, got history=%v last=%v", history, last)
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"name":`), genai.Text(`"Ada"}`)}},
		}},
	}
	if got := responseText(resp); got != `{"name":"Ada"}` {
		t.Errorf("responseText = %q", got)
	}
	if got := responseText(nil); got != "" {
		t.Errorf("responseText(nil) = %q", got)
	}
}
