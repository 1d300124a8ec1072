// Package openrouter is a JSON-only chat completer for OpenRouter and other
// OpenAI-compatible gateways.
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 60 * time.Second
	apiPath        = "/api/v1/"
	referer        = "https://github.com/forPelevin/reelplan"
	appTitle       = "reelplan"
)

type Config struct {
	APIKey       string
	BaseURL      string
	AllowedHosts []string
	Model        string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

type Adapter struct {
	client  openai.Client
	key     string
	model   string
	timeout time.Duration
}

// New validates the base URL against the allowed hosts before any request
// can carry the API key.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openrouter: api key is empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openrouter: model is empty")
	}
	if err := ValidateBaseURL(cfg.BaseURL, cfg.AllowedHosts); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(normalizeBaseURL(cfg.BaseURL) + apiPath),
		option.WithHeader("HTTP-Referer", referer),
		option.WithHeader("X-Title", appTitle),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Adapter{
		client:  openai.NewClient(opts...),
		key:     cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
	}, nil
}

func (a *Adapter) Model() string { return a.model }

// CompleteJSON asks for a json_object response and returns the raw message
// content. Callers own parsing and validation.
func (a *Adapter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Model:       a.model,
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("openrouter timeout after %s (model=%s)", a.timeout, a.model)
		}
		return "", fmt.Errorf("openrouter completion (model=%s): %s", a.model, truncate(redactSecrets(err.Error(), a.key), 400))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openrouter: response has no choices")
	}
	msg := resp.Choices[0].Message
	if content := strings.TrimSpace(msg.Content); content != "" {
		return content, nil
	}
	return messageContentToString(msg.RawJSON())
}

// messageContentToString handles gateways that return content as an array
// of {type,text} parts instead of a string.
func messageContentToString(rawMessage string) (string, error) {
	content := gjson.Get(rawMessage, "content")
	switch {
	case content.Type == gjson.String:
		if s := strings.TrimSpace(content.String()); s != "" {
			return s, nil
		}
		return "", errors.New("openrouter: empty content")
	case content.IsArray():
		var b strings.Builder
		for _, part := range content.Array() {
			b.WriteString(part.Get("text").String())
		}
		s := strings.TrimSpace(b.String())
		if s == "" {
			return "", errors.New("openrouter: empty content")
		}
		return s, nil
	case !content.Exists() || content.Type == gjson.Null:
		return "", errors.New("openrouter: empty content")
	default:
		return "", fmt.Errorf("openrouter: unexpected content %s", truncate(content.Raw, 80))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
