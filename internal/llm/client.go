// Package llm wraps the two external model calls the ingestion and
// retrieval pipelines depend on: chat_json (structured JSON completions,
// used for entity/relation extraction and the sufficiency check) and
// embed_batch (text embeddings for chunk/query vectors). Error policy is
// decided at the caller, not here: extraction swallows and degrades,
// ingestion propagates so the job fails.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/telemetry"
)

// Message is a single chat turn, mirroring anthropic.MessageParam's role
// shape without leaking the SDK type into callers.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Client wraps the chat and embedding providers behind the two operations
// the rest of the system is allowed to assume.
type Client struct {
	anthropic anthropic.Client
	embedURL  string
	embedKey  string
	http      *http.Client
	maxElapse time.Duration
}

// New builds a Client. embedBaseURL/embedAPIKey configure an
// OpenAI-compatible embeddings endpoint (OpenRouterBaseURL /
// OpenRouterAPIKey in internal/config) — Anthropic's API has no
// embeddings endpoint, so embed_batch talks to a separate provider.
func New(apiKey, embedBaseURL, embedAPIKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	metricsOnce.Do(initMetrics)
	return &Client{
		anthropic: anthropic.NewClient(option.WithAPIKey(apiKey)),
		embedURL:  embedBaseURL,
		embedKey:  embedAPIKey,
		http:      &http.Client{Timeout: 30 * time.Second},
		maxElapse: 20 * time.Second,
	}, nil
}

var metricsOnce sync.Once

var metrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

func initMetrics() {
	m := telemetry.Meter("github.com/memoryd/memoryd/llm")
	metrics.inputTokens, _ = m.Int64Counter("memoryd.llm.input_tokens",
		metric.WithDescription("LLM input tokens consumed"), metric.WithUnit("{token}"))
	metrics.outputTokens, _ = m.Int64Counter("memoryd.llm.output_tokens",
		metric.WithDescription("LLM output tokens generated"), metric.WithUnit("{token}"))
	metrics.duration, _ = m.Float64Histogram("memoryd.llm.request.duration",
		metric.WithDescription("LLM request duration in milliseconds"), metric.WithUnit("ms"))
}

// ChatJSON issues a chat completion and returns the raw text response; the
// caller parses it, accepting either an envelope object or a bare JSON
// array. No response-format constraint is sent to the provider, so the
// reply is JSON only if the prompt gets the model to produce it. Retries transient errors with an exponential backoff;
// any error returned here is final.
func (c *Client) ChatJSON(ctx context.Context, model string, messages []Message, temperature float64) (resp string, callErr error) {
	defer func() {
		entry := auditEntry(model, messages, resp, callErr)
		_, _ = audit.Append(&entry)
	}()

	params := toMessageParams(model, messages, temperature)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapse

	var text string
	op := func() error {
		t0 := time.Now()
		message, err := c.anthropic.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())
		modelAttr := attribute.String("memoryd.llm.model", model)

		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		if metrics.inputTokens != nil {
			metrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
			metrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
			metrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
		}
		if len(message.Content) == 0 || message.Content[0].Type != "text" {
			return backoff.Permanent(fmt.Errorf("llm: unexpected response format"))
		}
		text = message.Content[0].Text
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

func toMessageParams(model string, messages []Message, temperature float64) anthropic.MessageNewParams {
	var system string
	var blocks []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			blocks = append(blocks, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			blocks = append(blocks, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   4096,
		Temperature: anthropic.Float(temperature),
		Messages:    blocks,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func auditEntry(model string, messages []Message, resp string, err error) audit.Entry {
	var prompt string
	for _, m := range messages {
		prompt += m.Role + ": " + m.Content + "\n"
	}
	e := audit.Entry{Kind: "llm_call", Model: model, Prompt: prompt, Response: resp}
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// embedRequest/embedResponse mirror the OpenAI-compatible embeddings
// wire shape the OpenRouter-style EMBEDDING_MODEL endpoint exposes.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch returns one embedding vector per input string, in order.
func (c *Client) EmbedBatch(ctx context.Context, model string, inputs []string) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if c.embedURL == "" {
		return nil, fmt.Errorf("llm: embedding endpoint is not configured")
	}

	body, err := json.Marshal(embedRequest{Model: model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal embed request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapse

	var out [][]float64
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embedURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.embedKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.embedKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("llm: embeddings endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("llm: embeddings endpoint returned %d", resp.StatusCode))
		}

		var parsed embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("llm: decode embed response: %w", err))
		}
		vectors := make([][]float64, len(parsed.Data))
		for i, d := range parsed.Data {
			vectors[i] = d.Embedding
		}
		out = vectors
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}
