package classifier

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/internal/model"
	"github.com/sells-group/form-detector/pkg/anthropic"
)

const backendAnthropic = "anthropic"

// AnthropicOptions configures the Anthropic backend.
type AnthropicOptions struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// AnthropicClassifier sends the PDF as a document block and forces a single
// tool call whose input schema is the verdict.
type AnthropicClassifier struct {
	client anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropic creates an AnthropicClassifier.
func NewAnthropic(client anthropic.Client, opts AnthropicOptions) *AnthropicClassifier {
	if opts.Model == "" {
		opts.Model = "claude-haiku-4-5-20251001"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	return &AnthropicClassifier{client: client, opts: opts}
}

// Classify implements Classifier.
func (c *AnthropicClassifier) Classify(ctx context.Context, doc *fetcher.Document) (*model.ClassificationResult, error) {
	temp := c.opts.Temperature
	req := anthropic.MessageRequest{
		Model:       c.opts.Model,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: &temp,
		System:      anthropic.BuildCachedSystemBlocks(Instructions),
		Messages: []anthropic.Message{
			{
				Role:      "user",
				Content:   "Classify the attached PDF and record the verdict with the " + verdictToolName + " tool.",
				Documents: []anthropic.Document{{Data: doc.Base64}},
			},
		},
		Tools: []anthropic.Tool{{
			Name:        verdictToolName,
			Description: "Record whether the document is an interactive fillable form.",
			Properties:  VerdictProperties(),
			Required:    VerdictRequired,
		}},
		ToolChoice: verdictToolName,
	}

	resp, err := c.client.CreateMessage(ctx, req)
	if err != nil {
		return nil, &OracleError{Backend: backendAnthropic, Msg: "classification request failed", Err: err, Request: true}
	}

	resp.Usage.LogCost(c.opts.Model, doc.URL)

	res, err := parseAnthropicResponse(resp)
	if err != nil {
		zap.L().Warn("classifier: unusable anthropic response",
			zap.String("url", doc.URL),
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return nil, err
	}

	res.Model = resp.Model
	if res.Model == "" {
		res.Model = c.opts.Model
	}
	res.Usage = model.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	return res, nil
}

// parseAnthropicResponse prefers the forced tool call and falls back to a
// JSON object in the text blocks.
func parseAnthropicResponse(resp *anthropic.MessageResponse) (*model.ClassificationResult, error) {
	for _, b := range resp.Content {
		if b.Type == "tool_use" && b.Name == verdictToolName && len(b.Input) > 0 {
			return ParseVerdict(backendAnthropic, b.Input)
		}
	}

	var parts []string
	for _, b := range resp.Content {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) == 0 {
		return nil, &OracleError{Backend: backendAnthropic, Msg: "no response payload from " + backendAnthropic}
	}
	return ParseVerdict(backendAnthropic, []byte(cleanJSON(strings.Join(parts, "\n"))))
}
