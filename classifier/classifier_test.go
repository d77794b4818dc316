package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opsbridge/incidents_backend/models"
)

// llmFunc adapts a plain function to the LlmClient interface.
type llmFunc func(ctx context.Context, prompt string) (string, error)

func (f llmFunc) GenerateText(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func fixedResponse(raw string) LlmClient {
	return llmFunc(func(context.Context, string) (string, error) { return raw, nil })
}

func TestClassifyParsesCleanJSON(t *testing.T) {
	c := New(fixedResponse(`{"category":"NETWORK","priority":"P1","summary":"Core switch down"}`), "test", "test-model")

	got := c.Classify(context.Background(), "core switch is down")
	if got.Category != models.IncidentCategoryNetwork {
		t.Errorf("category = %s", got.Category)
	}
	if got.Priority != models.IncidentPriorityP1 {
		t.Errorf("priority = %s", got.Priority)
	}
	if got.Summary != "Core switch down" {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.RawResponse == "" {
		t.Error("raw response not retained")
	}
}

func TestClassifyParsesJSONWrappedInProse(t *testing.T) {
	raw := "Sure! Here is the classification:\n```json\n" +
		`{"category":"SECURITY","priority":"P1","summary":"Possible credential leak"}` +
		"\n```\nLet me know if you need anything else."
	c := New(fixedResponse(raw), "test", "test-model")

	got := c.Classify(context.Background(), "found our API keys on pastebin")
	if got.Category != models.IncidentCategorySecurity || got.Priority != models.IncidentPriorityP1 {
		t.Fatalf("got %s/%s, want SECURITY/P1", got.Category, got.Priority)
	}
}

func TestClassifyFallsBack(t *testing.T) {
	cases := []struct {
		name string
		llm  LlmClient
	}{
		{"transport error", llmFunc(func(context.Context, string) (string, error) {
			return "", errors.New("connection refused")
		})},
		{"no json at all", fixedResponse("I cannot classify this incident.")},
		{"unbalanced json", fixedResponse(`{"category":"NETWORK","priority":"P1"`)},
		{"invalid category", fixedResponse(`{"category":"WEATHER","priority":"P1","summary":"Rain"}`)},
		{"invalid priority", fixedResponse(`{"category":"NETWORK","priority":"P9","summary":"Switch down"}`)},
		{"empty summary", fixedResponse(`{"category":"NETWORK","priority":"P1","summary":"  "}`)},
		{"not an object", fixedResponse(`["NETWORK","P1"]`)},
	}

	want := FallbackResult()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := New(tc.llm, "test", "test-model").Classify(context.Background(), "something broke")
			if got.Category != want.Category || got.Priority != want.Priority || got.Summary != want.Summary {
				t.Fatalf("got %s/%s/%q, want fallback %s/%s/%q",
					got.Category, got.Priority, got.Summary, want.Category, want.Priority, want.Summary)
			}
		})
	}
}

func TestClassifyFallbackKeepsRawResponseForAudit(t *testing.T) {
	raw := "garbage that is not JSON"
	got := New(fixedResponse(raw), "test", "test-model").Classify(context.Background(), "x")
	if got.RawResponse != raw {
		t.Fatalf("raw response = %q, want %q", got.RawResponse, raw)
	}
}

func TestBuildPromptContainsContract(t *testing.T) {
	prompt := buildPrompt("VPN down for the whole sales team")

	for _, want := range []string{
		models.JoinIncidentCategories(", "),
		models.JoinIncidentPriorities(", "),
		"VPN down for the whole sales team",
		"Return ONLY valid JSON",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestExtractFirstJSONObject(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"leading prose", `here you go: {"a":1} thanks`, `{"a":1}`, false},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`, false},
		{"brace inside string", `{"summary":"use {curly} braces"}`, `{"summary":"use {curly} braces"}`, false},
		{"escaped quote inside string", `{"summary":"he said \"{\" loudly"}`, `{"summary":"he said \"{\" loudly"}`, false},
		{"two objects takes first", `{"a":1} {"b":2}`, `{"a":1}`, false},
		{"no object", "nothing here", "", true},
		{"unbalanced", `{"a":{"b":2}`, "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractFirstJSONObject(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOllamaClientGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream must be false")
		}
		if req.Model != "test-model" {
			t.Errorf("model = %s", req.Model)
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    req.Model,
			Response: `{"category":"OTHER","priority":"P3","summary":"Test"}`,
			Done:     true,
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "test-model", 5*time.Second)
	got, err := client.GenerateText(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(got, `"category":"OTHER"`) {
		t.Fatalf("response = %q", got)
	}
}

func TestOllamaClientGenerateTextErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "missing-model", 5*time.Second)
	if _, err := client.GenerateText(context.Background(), "x"); err == nil {
		t.Fatal("want error on non-200 status")
	}
}
