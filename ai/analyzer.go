// Package ai explains failed executions. An Analyzer sends the failing
// script and its output to a chat-completion model twice: once for a
// diagnosis, once for a fix. Helper decides whether analysis may run at
// all and caches the result on the execution row.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/internal/httpclient"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/sym"
)

const (
	// DefaultModel matches openai.model in am/defaults.go
	DefaultModel       = "gpt-3.5-turbo"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.3
	DefaultTimeout     = 60 * time.Second
	DefaultMaxRetries  = 2

	systemPrompt = "You are a Python and AWS expert helping to debug script errors."
)

// Analyzer produces an (analysis, solution) pair for a failed script.
type Analyzer interface {
	Analyze(ctx context.Context, scriptName, scriptSource, errorOutput string) (analysis, solution string, err error)
}

// AnalyzerSource hands out an Analyzer bound to an API key. The key is
// resolved per request from settings, so it is not fixed at startup.
type AnalyzerSource interface {
	For(apiKey string) Analyzer
}

// Config holds AI client configuration
type Config struct {
	BaseURL           string // Empty = api.openai.com
	Model             string
	MaxTokens         int
	Temperature       float64
	RequestsPerMinute int // 0 = unlimited
	Timeout           time.Duration
	MaxRetries        int

	// HTTPClient overrides the SSRF-guarded default. Tests use it to reach
	// an httptest server on loopback.
	HTTPClient option.HTTPClient
}

// DefaultConfig mirrors the [openai] defaults of am.
func DefaultConfig() Config {
	return Config{
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		Timeout:     DefaultTimeout,
		MaxRetries:  DefaultMaxRetries,
	}
}

// ConfigFromAM maps the [openai] section onto analyzer settings.
func ConfigFromAM(cfg *am.Config) Config {
	return Config{
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		MaxTokens:         cfg.OpenAI.MaxTokens,
		Temperature:       cfg.OpenAI.Temperature,
		RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
		Timeout:           time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
		MaxRetries:        DefaultMaxRetries,
	}
}

// OpenAI builds analyzers on the openai-go client. All analyzers it hands
// out share one rate limiter, one HTTP client and one logger.
type OpenAI struct {
	cfg     Config
	http    option.HTTPClient
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewOpenAI creates an analyzer source, filling unset config with defaults.
func NewOpenAI(cfg Config, log *zap.SugaredLogger) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.NewSaferClient(cfg.Timeout)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &OpenAI{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  log.With(logger.FieldComponent, "ai", logger.FieldSymbol, sym.Exec),
	}
}

// For returns an analyzer authenticated with apiKey.
func (o *OpenAI) For(apiKey string) Analyzer {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(o.http),
		option.WithRequestTimeout(o.cfg.Timeout),
		option.WithMaxRetries(o.cfg.MaxRetries),
	}
	if o.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.cfg.BaseURL))
	}
	return &openAIAnalyzer{
		parent: o,
		client: openai.NewClient(opts...),
	}
}

type openAIAnalyzer struct {
	parent *OpenAI
	client openai.Client
}

// Analyze asks for a diagnosis, then for a solution given that diagnosis.
func (a *openAIAnalyzer) Analyze(ctx context.Context, scriptName, scriptSource, errorOutput string) (string, string, error) {
	analysis, err := a.complete(ctx, analysisPrompt(scriptName, scriptSource, errorOutput))
	if err != nil {
		return "", "", errors.Wrap(err, "analysis request failed")
	}
	solution, err := a.complete(ctx, solutionPrompt(scriptName, errorOutput, analysis))
	if err != nil {
		return "", "", errors.Wrap(err, "solution request failed")
	}
	return analysis, solution, nil
}

func (a *openAIAnalyzer) complete(ctx context.Context, prompt string) (string, error) {
	cfg := a.parent.cfg
	if err := a.parent.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "rate limiter")
	}

	started := time.Now()
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(cfg.MaxTokens)),
		Temperature: openai.Float(cfg.Temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			a.parent.logger.Warnw("OpenAI request rejected",
				"status", apiErr.StatusCode,
				"model", cfg.Model,
			)
			return "", errors.Newf("API request failed with status %d", apiErr.StatusCode)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("response contained no choices")
	}

	a.parent.logger.Debugw("OpenAI completion",
		"model", cfg.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		logger.FieldDurationMS, time.Since(started).Milliseconds(),
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func analysisPrompt(scriptName, scriptSource, errorOutput string) string {
	return fmt.Sprintf(`Analyze this script error and identify the likely cause:

Script Name: %s

Script Content:
`+"```python"+`
%s
`+"```"+`

Error Output:
`+"```"+`
%s
`+"```"+`

Provide a concise analysis of what went wrong.`, scriptName, scriptSource, errorOutput)
}

func solutionPrompt(scriptName, errorOutput, analysis string) string {
	return fmt.Sprintf(`Based on this error in a Python AWS script, suggest a solution:

Script Name: %s

Error Output:
`+"```"+`
%s
`+"```"+`

Your Analysis:
%s

Provide a concise, practical solution to fix this error. Include code examples if helpful.`, scriptName, errorOutput, analysis)
}
