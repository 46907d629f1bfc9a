package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/schema"
	"github.com/sells-group/research-kb/pkg/anthropic"
)

const (
	defaultMaxContentChars = 80000
	defaultMaxTokens       = 4096
	truncationNote         = "\n\n[Content truncated...]"

	// fallbackConfidence is used when the model omits a confidence score.
	fallbackConfidence = 0.5
	// warnedConfidence caps the confidence of data that failed validation.
	warnedConfidence = 0.5
)

const systemPrompt = `You are a structured data extraction agent. Your job is to extract specific information from web page content and return it as valid JSON.

RULES:
1. ONLY extract information explicitly present in the content
2. Use null for missing fields - NEVER hallucinate or guess
3. Include exact quotes from the source as evidence for key claims
4. Rate your confidence (0.0-1.0) based on data clarity and completeness
5. If the page doesn't contain the requested information, return minimal data with low confidence

OUTPUT FORMAT:
Always respond with valid JSON in this exact structure:
{
  "data": { ... extracted data matching the schema ... },
  "confidence": 0.0-1.0,
  "quotes": ["exact quote 1", "exact quote 2"]
}`

// Parsed is the model's reading of a page.
type Parsed struct {
	Data       json.RawMessage      `json:"data"`
	Confidence float64              `json:"confidence"`
	Quotes     []string             `json:"quotes"`
	Warning    string               `json:"warning,omitempty"`
	Usage      anthropic.TokenUsage `json:"-"`
}

// Valid reports whether the data passed schema validation.
func (p *Parsed) Valid() bool { return p.Warning == "" }

// Parser turns page text into schema data using the Anthropic API.
type Parser struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	maxChars  int
}

// NewParser creates a Parser. Zero maxTokens or maxChars select defaults.
func NewParser(client anthropic.Client, model string, maxTokens int64, maxChars int) *Parser {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if maxChars <= 0 {
		maxChars = defaultMaxContentChars
	}
	return &Parser{client: client, model: model, maxTokens: maxTokens, maxChars: maxChars}
}

// Parse asks the model to extract schemaType data from content. An API
// failure or an unreadable response is an error. Data that decodes but does
// not match the schema is returned with a Warning and capped confidence.
func (p *Parser) Parse(ctx context.Context, content string, schemaType model.SchemaType) (*Parsed, error) {
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt, "5m"),
		Messages:  []anthropic.Message{{Role: "user", Content: p.prompt(content, schemaType)}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: create message")
	}
	resp.Usage.LogCost(p.model, "extract")

	text := resp.Text()
	if text == "" {
		return nil, eris.New("extract: no text in model response")
	}
	cleaned := cleanJSON(text)
	if !gjson.Valid(cleaned) {
		return nil, eris.Errorf("extract: model response is not JSON: %.200s", text)
	}

	root := gjson.Parse(cleaned)
	data := root.Get("data")
	if !data.IsObject() {
		return nil, eris.New("extract: model response has no data object")
	}

	out := &Parsed{
		Data:       json.RawMessage(data.Raw),
		Confidence: root.Get("confidence").Float(),
		Quotes:     []string{},
		Usage:      resp.Usage,
	}
	if out.Confidence <= 0 {
		out.Confidence = fallbackConfidence
	}
	for _, q := range root.Get("quotes").Array() {
		if s := q.String(); s != "" {
			out.Quotes = append(out.Quotes, s)
		}
	}

	if _, normalized, err := schema.Validate(schemaType, []byte(data.Raw)); err != nil {
		out.Warning = "Schema validation warning: " + err.Error()
		out.Confidence = min(out.Confidence, warnedConfidence)
	} else {
		out.Data = normalized
	}
	return out, nil
}

func (p *Parser) prompt(content string, schemaType model.SchemaType) string {
	if head, cut := clip(content, p.maxChars); cut {
		content = head + truncationNote
	}
	return fmt.Sprintf(`Extract %s information from the following web page content.

EXTRACTION INSTRUCTIONS:
%s

EXPECTED SHAPE:
%s

WEB PAGE CONTENT:
---
%s
---

Respond with JSON only.`, schemaType, schema.Describe(schemaType), schema.Shape(schemaType), content)
}

// cleanJSON strips markdown fences and any prose around the outermost object.
func cleanJSON(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if gjson.Valid(s) {
		return s
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
