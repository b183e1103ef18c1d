// Package semantic implements keywords.SemanticMatcher with an OpenAI chat
// model returning structured JSON.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/okian/herald/internal/domain/keywords"
	"github.com/okian/herald/pkg/logger"
)

const systemPrompt = `You decide whether a source-control notification is about given topics.
For every keyword, answer matched=true only when the text is meaningfully about that topic,
not merely when the word appears. Give a one-sentence rationale. Answer for every keyword
exactly as it was given.`

// maxTextRunes caps the text sent to the model.
const maxTextRunes = 8000

type answer struct {
	Verdicts []keywords.Verdict `json:"verdicts"`
}

var answerSchema = func() any {
	r := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	return r.Reflect(answer{})
}()

// Matcher asks a chat model for per-keyword verdicts.
type Matcher struct {
	client     openai.Client
	model      string
	baseURL    string
	maxRetries int
	logger     logger.Logger
}

var _ keywords.SemanticMatcher = (*Matcher)(nil)

// NewMatcher creates a Matcher for apiKey.
func NewMatcher(apiKey string, opts ...Option) (*Matcher, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	m := &Matcher{
		model:      "gpt-4o-mini",
		maxRetries: 2,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(m.maxRetries),
	}
	if m.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(m.baseURL))
	}
	m.client = openai.NewClient(reqOpts...)
	return m, nil
}

// Match implements keywords.SemanticMatcher.
func (m *Matcher) Match(ctx context.Context, text string, kws []string) ([]keywords.Verdict, error) {
	if len(kws) == 0 {
		return nil, nil
	}
	prompt, err := userPrompt(text, kws)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model: m.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "keyword_verdicts",
					Schema: answerSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	start := time.Now()
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	m.logger.Debug(ctx, "semantic match completed",
		logger.String("model", m.model),
		logger.Duration("took", time.Since(start)),
		logger.Int64("prompt_tokens", resp.Usage.PromptTokens),
		logger.Int64("completion_tokens", resp.Usage.CompletionTokens),
	)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrResponse)
	}
	var out answer
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResponse, err)
	}
	return out.Verdicts, nil
}

func userPrompt(text string, kws []string) (string, error) {
	if r := []rune(text); len(r) > maxTextRunes {
		text = string(r[:maxTextRunes])
	}
	list, err := json.Marshal(kws)
	if err != nil {
		return "", fmt.Errorf("encode keywords: %w", err)
	}
	var b strings.Builder
	b.WriteString("Keywords: ")
	b.Write(list)
	b.WriteString("\n\nText:\n")
	b.WriteString(text)
	return b.String(), nil
}
