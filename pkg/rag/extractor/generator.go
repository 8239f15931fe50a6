package extractor

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/pkoukk/tiktoken-go"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

// Generator wraps the chat completion endpoint behind domain.Generator.
type Generator struct {
	api         openai.Client
	model       string
	temperature float64
	encoder     *tiktoken.Tiktoken
	logger      *slog.Logger
}

var _ domain.Generator = (*Generator)(nil)

func NewGenerator(cfg config.LLMConfig) *Generator {
	// Token counting is best effort; cl100k_base is close enough for any
	// modern model and the count is only used for logging.
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		encoder = nil
	}
	return &Generator{
		api: openai.NewClient(
			option.WithBaseURL(cfg.BaseURL),
			option.WithAPIKey(cfg.APIKey),
			option.WithRequestTimeout(cfg.Timeout),
		),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		encoder:     encoder,
		logger:      log.WithModule("llm"),
	}
}

// Generate runs one chat completion and returns the raw assistant content.
func (g *Generator) Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if g.encoder != nil {
		tokens := len(g.encoder.Encode(system+prompt, nil, nil))
		g.logger.Debug("chat completion", "model", g.model, "prompt_tokens", tokens)
	}

	resp, err := g.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(g.temperature),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", domain.DependencyError("llm", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.DependencyError("llm", errNoChoices)
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping checks that the LLM endpoint answers at all.
func (g *Generator) Ping(ctx context.Context) error {
	if _, err := g.api.Models.List(ctx); err != nil {
		return domain.DependencyError("llm", err)
	}
	return nil
}

type noChoicesError struct{}

func (noChoicesError) Error() string { return "completion returned no choices" }

var errNoChoices = noChoicesError{}
