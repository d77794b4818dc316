// Package classifier wraps a text-completion model with prompt construction,
// strict JSON extraction and a best-effort fallback. Classification must
// never fail the workflow step: any transport, parse or validation problem
// degrades to the fallback result.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opsbridge/incidents_backend/config"
	"github.com/opsbridge/incidents_backend/models"
)

// Result is the classifier verdict. RawResponse keeps the unedited model
// output for audit; it is empty when the completion call itself failed.
type Result struct {
	Category    models.IncidentCategory `json:"category"`
	Priority    models.IncidentPriority `json:"priority"`
	Summary     string                  `json:"summary"`
	RawResponse string                  `json:"-"`
}

// FallbackResult is returned whenever classification cannot produce a
// validated verdict.
func FallbackResult() Result {
	return Result{
		Category: models.IncidentCategoryOther,
		Priority: models.IncidentPriorityP3,
		Summary:  "Unknown incident",
	}
}

type Classifier struct {
	llm      LlmClient
	provider string
	model    string
}

func New(llm LlmClient, provider, model string) *Classifier {
	return &Classifier{llm: llm, provider: provider, model: model}
}

func (c *Classifier) Provider() string { return c.provider }
func (c *Classifier) ModelName() string { return c.model }

// Classify never returns an error; on any failure it logs a warning and
// returns the fallback.
func (c *Classifier) Classify(ctx context.Context, description string) Result {
	logger := config.GetLogger()

	prompt := buildPrompt(description)
	raw, err := c.llm.GenerateText(ctx, prompt)
	if err != nil {
		logger.WithFields(config.FieldsFromContext(ctx)).
			Warnf("classification fell back: completion call failed: %v", err)
		return FallbackResult()
	}

	result, err := parseResult(raw)
	if err != nil {
		logger.WithFields(config.FieldsFromContext(ctx)).
			WithFields(logrus.Fields{"raw_response": raw}).
			Warnf("classification fell back: %v", err)
		fallback := FallbackResult()
		fallback.RawResponse = raw
		return fallback
	}

	result.RawResponse = raw
	return result
}

func buildPrompt(description string) string {
	return fmt.Sprintf(classifyPromptTemplate,
		models.JoinIncidentCategories(", "),
		models.JoinIncidentPriorities(", "),
		description,
	)
}

func parseResult(raw string) (Result, error) {
	jsonOnly, err := extractFirstJSONObject(raw)
	if err != nil {
		return Result{}, err
	}

	var result Result
	if err := json.Unmarshal([]byte(jsonOnly), &result); err != nil {
		return Result{}, fmt.Errorf("parse classification result: %w", err)
	}

	if !result.Category.Valid() {
		return Result{}, fmt.Errorf("invalid category %q", result.Category)
	}
	if !result.Priority.Valid() {
		return Result{}, fmt.Errorf("invalid priority %q", result.Priority)
	}
	result.Summary = strings.TrimSpace(result.Summary)
	if result.Summary == "" {
		return Result{}, fmt.Errorf("empty summary")
	}
	return result, nil
}

// extractFirstJSONObject returns the first balanced {...} substring. Models
// routinely wrap the JSON in prose or markdown fences; brace counting (with
// string-literal awareness) is enough to cut those off.
func extractFirstJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}
