package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	scoreSystemPrompt = "You rate how relevant a news item is to a topic. " +
		"Respond with JSON only: {\"relevance\": <integer 0-100>}. " +
		"100 means the item is squarely about the topic, 0 means unrelated."

	enrichSystemPrompt = "You analyze a news article and respond with JSON only: " +
		"{\"category\": <short category label>, " +
		"\"sentiment\": one of \"positive\"|\"neutral\"|\"negative\"|\"mixed\", " +
		"\"signal\": <one-sentence forward-looking signal>, " +
		"\"time_to_impact\": one of \"immediate\"|\"short_term\"|\"mid_term\"|\"long_term\"|\"unknown\", " +
		"\"entities\": [<named organizations, people, products>]}."
)

// Enrichment is the AI-derived metadata attached to a saved article.
type Enrichment struct {
	Category     string   `json:"category"`
	Sentiment    string   `json:"sentiment"`
	Signal       string   `json:"signal"`
	TimeToImpact string   `json:"time_to_impact"`
	Entities     []string `json:"entities"`
}

// Client invokes an OpenAI-compatible chat-completions endpoint for relevance
// scoring and article enrichment. Responses must be JSON conforming to the
// embedded schemas; anything else is an error the caller degrades on.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// ClientOptions configures the AI model invocation.
type ClientOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

func NewClient(endpoint, apiKey string, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	maxTokens := opts.MaxTokens
	if maxTokens < 1 {
		maxTokens = 800
	}

	return &Client{
		endpoint:    strings.TrimSpace(endpoint),
		apiKey:      strings.TrimSpace(apiKey),
		model:       strings.TrimSpace(opts.Model),
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
		httpClient:  client,
	}
}

// Score rates text relevance to a topic, 0-100.
func (c *Client) Score(ctx context.Context, topic, text string) (int, error) {
	user := fmt.Sprintf("Topic: %s\n\nNews item:\n%s", strings.TrimSpace(topic), clipForPrompt(text, 2000))
	raw, err := c.complete(ctx, scoreSystemPrompt, user)
	if err != nil {
		return 0, err
	}

	payload, err := validateJSON(raw, scoreSchema)
	if err != nil {
		return 0, fmt.Errorf("relevance response: %w", err)
	}

	var parsed struct {
		Relevance int `json:"relevance"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return 0, fmt.Errorf("decode relevance response: %w", err)
	}
	return parsed.Relevance, nil
}

// Enrich extracts category, sentiment, forward signal, time-to-impact, and
// named entities from an article body.
func (c *Client) Enrich(ctx context.Context, text string) (Enrichment, error) {
	raw, err := c.complete(ctx, enrichSystemPrompt, clipForPrompt(text, 6000))
	if err != nil {
		return Enrichment{}, err
	}

	payload, err := validateJSON(raw, enrichmentSchema)
	if err != nil {
		return Enrichment{}, fmt.Errorf("enrichment response: %w", err)
	}

	var parsed Enrichment
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Enrichment{}, fmt.Errorf("decode enrichment response: %w", err)
	}
	return parsed, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c == nil || c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("ai client is not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat status %d: %s", resp.StatusCode, clipForPrompt(string(payload), 256))
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat response is empty")
	}
	return content, nil
}

// validateJSON strips optional code fences, validates the document against
// the schema, and returns the raw JSON for decoding.
func validateJSON(raw string, schema *jsonschema.Schema) (json.RawMessage, error) {
	document := stripCodeFence(raw)

	var value any
	if err := json.Unmarshal([]byte(document), &value); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	return json.RawMessage(document), nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func clipForPrompt(text string, maxChars int) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed
	}
	return string(runes[:maxChars])
}
