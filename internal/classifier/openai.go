package classifier

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/internal/formprobe"
	"github.com/sells-group/form-detector/internal/model"
)

const backendOpenAI = "openai"

// ChatCompleter is the subset of *openai.Client the backend uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIOptions configures the OpenAI backend.
type OpenAIOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
	// MaxTextChars caps the extracted text sent with the request.
	MaxTextChars int
}

// OpenAIClassifier cannot attach the PDF itself, so it sends the document's
// extracted text together with the local form probe facts.
type OpenAIClassifier struct {
	client ChatCompleter
	opts   OpenAIOptions
}

// NewOpenAIClient builds a go-openai client, optionally against a
// compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// NewOpenAI creates an OpenAIClassifier.
func NewOpenAI(client ChatCompleter, opts OpenAIOptions) *OpenAIClassifier {
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxTextChars == 0 {
		opts.MaxTextChars = 20000
	}
	return &OpenAIClassifier{client: client, opts: opts}
}

func verdictSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"isFillable": {Type: jsonschema.Boolean, Description: descIsFillable},
			"fieldCount": {Type: jsonschema.Integer, Description: descFieldCount},
			"summary":    {Type: jsonschema.String, Description: descSummary},
		},
		Required:             VerdictRequired,
		AdditionalProperties: false,
	}
}

// Classify implements Classifier.
func (c *OpenAIClassifier) Classify(ctx context.Context, doc *fetcher.Document) (*model.ClassificationResult, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "pdf_form_verdict",
				Schema: verdictSchema(),
				Strict: true,
			},
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: Instructions},
			{Role: openai.ChatMessageRoleUser, Content: c.describe(doc)},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, &OracleError{Backend: backendOpenAI, Msg: "classification request failed", Err: err, Request: true}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &OracleError{Backend: backendOpenAI, Msg: "no response payload from " + backendOpenAI}
	}

	res, err := ParseVerdict(backendOpenAI, []byte(cleanJSON(resp.Choices[0].Message.Content)))
	if err != nil {
		return nil, err
	}

	zap.L().Info("cost attribution",
		zap.String("model", resp.Model),
		zap.String("url", doc.URL),
		zap.Int("input_tokens", resp.Usage.PromptTokens),
		zap.Int("output_tokens", resp.Usage.CompletionTokens),
	)

	res.Model = resp.Model
	if res.Model == "" {
		res.Model = c.opts.Model
	}
	res.Usage = model.TokenUsage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	return res, nil
}

// describe renders the document as text: probe facts, then extracted text.
func (c *OpenAIClassifier) describe(doc *fetcher.Document) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Filename: %s\n", doc.Filename)

	if rep, err := formprobe.Probe(doc.Data); err == nil {
		fmt.Fprintf(&sb, "Pages: %d\nAcroForm fields declared: %d\nXFA form present: %t\n",
			rep.Pages, rep.AcroFormFields, rep.HasXFA)
	} else {
		sb.WriteString("Form structure: could not be read\n")
	}

	text, err := formprobe.ExtractText(doc.Data, c.opts.MaxTextChars)
	switch {
	case err != nil:
		sb.WriteString("\nExtracted text: unavailable\n")
	case strings.TrimSpace(text) == "":
		sb.WriteString("\nExtracted text: none (possibly a scanned image)\n")
	default:
		sb.WriteString("\nExtracted text:\n")
		sb.WriteString(text)
	}
	return sb.String()
}
