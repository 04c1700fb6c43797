package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/domain"
)

const systemPrompt = `You are a support ticket triage assistant. Given a ticket title and description, reply with a single JSON object and nothing else:
{"priority": "low" | "medium" | "high", "helpfulNotes": "<guidance for the assignee>", "relatedSkills": ["<skill tag>", ...]}`

// OpenAI calls the chat completions API to classify tickets.
//
// Transport errors and timeouts are returned as errors and retried by
// the workflow driver. An unparseable or empty reply is the typed miss
// (nil, nil): the pipeline skips the AI update rather than failing.
type OpenAI struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAI builds the classifier from config.
func NewOpenAI(cfg config.ClassifierConfig, logger *zap.Logger) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.Timeout(),
		logger:  logger,
	}
}

// Classify requests a triage opinion for the ticket.
func (o *OpenAI) Classify(ctx context.Context, title, description string) (*domain.Classification, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf("Title: %s\n\nDescription: %s", title, description)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier call: %w", err)
	}
	if len(completion.Choices) == 0 {
		o.logger.Warn("classifier returned no choices")
		return nil, nil
	}

	result := parseClassification(completion.Choices[0].Message.Content)
	if result == nil {
		o.logger.Warn("classifier reply not parseable",
			zap.String("reply", completion.Choices[0].Message.Content))
	}
	return result, nil
}

// parseClassification extracts the triage fields from the model reply.
// Returns nil when the reply carries no usable JSON object.
func parseClassification(raw string) *domain.Classification {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if !gjson.Valid(trimmed) {
		return nil
	}
	parsed := gjson.Parse(trimmed)
	if !parsed.IsObject() || !parsed.Get("priority").Exists() {
		return nil
	}

	result := &domain.Classification{
		Priority:      parsed.Get("priority").String(),
		HelpfulNotes:  parsed.Get("helpfulNotes").String(),
		RelatedSkills: []string{},
	}
	for _, skill := range parsed.Get("relatedSkills").Array() {
		if s := strings.TrimSpace(skill.String()); s != "" {
			result.RelatedSkills = append(result.RelatedSkills, s)
		}
	}
	return result
}
