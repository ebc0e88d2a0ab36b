package capability

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/blacksamuraiiii/xiyan-web/internal/config"
	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
)

const extractPrompt = `You read tables out of document images. Return every table you can see as CSV, one header row first, inside a single fenced code block. Use commas, quote cells that contain commas, and leave unreadable cells empty. Return nothing but the CSV.`

const generatePrompt = `You translate questions about relational tables into SQL. Use only the tables and columns in the provided schema. Every column is stored as text; CAST columns marked numeric or date before comparing, ordering or aggregating them. Return exactly one SQL statement inside a fenced code block and nothing else.`

// VisionClient extracts tables from images through an OpenAI-compatible
// vision model.
type VisionClient struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewVisionClient builds the table extractor from capability settings.
func NewVisionClient(cfg config.CapabilityConfig) *VisionClient {
	c := openai.DefaultConfig(cfg.APIKey)
	c.BaseURL = cfg.BaseURL
	return &VisionClient{
		api:     openai.NewClientWithConfig(c),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// ExtractTables sends the images to the vision model and returns the CSV
// text of its reply, fences stripped.
func (v *VisionClient) ExtractTables(ctx context.Context, images []Image) (string, error) {
	if len(images) == 0 {
		return "", errs.New(errs.Extraction, "no images to extract from")
	}

	ctx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: "Extract the tabular data from these pages.",
	})
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: dataURL(img),
			},
		})
	}

	resp, err := v.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		return "", errs.Wrap(errs.Extraction, "vision model call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.Extraction, "vision model returned no choices")
	}

	text := StripFences(resp.Choices[0].Message.Content, "csv")
	if strings.TrimSpace(text) == "" {
		return "", errs.New(errs.Extraction, "vision model returned no tabular text")
	}
	return text, nil
}

func dataURL(img Image) string {
	mime := img.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))
}

// SQLClient generates SQL through an OpenAI-compatible chat model.
type SQLClient struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewSQLClient builds the text-to-SQL generator from capability settings.
func NewSQLClient(cfg config.CapabilityConfig) *SQLClient {
	c := openai.DefaultConfig(cfg.APIKey)
	c.BaseURL = cfg.BaseURL
	return &SQLClient{
		api:     openai.NewClientWithConfig(c),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// GenerateSQL asks the model for one statement grounded in the request
// schema. On a repair call the failed statement and its database error are
// appended so the model can fix its own output.
func (g *SQLClient) GenerateSQL(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	var b strings.Builder
	b.WriteString("Schema:\n")
	b.WriteString(req.Schema)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(req.Question)
	if req.Modify {
		b.WriteString("\n\nThe user explicitly wants a data-modifying statement.")
	}
	if req.PriorSQL != "" {
		b.WriteString("\n\nYour previous statement failed. Statement:\n")
		b.WriteString(req.PriorSQL)
		b.WriteString("\nDatabase error:\n")
		b.WriteString(req.DBError)
		b.WriteString("\nReturn a corrected statement.")
	}

	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: generatePrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", errs.Wrap(errs.Generation, "sql model call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.Generation, "sql model returned no choices")
	}

	sql := strings.TrimSpace(StripFences(resp.Choices[0].Message.Content, "sql"))
	if sql == "" {
		return "", errs.New(errs.Generation, "sql model returned no statement")
	}
	return sql, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// StripFences extracts the body of the first markdown code fence, preferring
// a fence tagged with lang. Replies without fences pass through unchanged.
func StripFences(text, lang string) string {
	if body, ok := fenceBody(text, "```"+lang); ok {
		return body
	}
	if body, ok := fenceBody(text, "```"); ok {
		return body
	}
	return strings.TrimSpace(text)
}

func fenceBody(text, open string) (string, bool) {
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	body := text[start+len(open):]
	// Drop the remainder of the opening-fence line (a language tag, if any).
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}
