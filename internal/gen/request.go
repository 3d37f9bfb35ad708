package gen

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/rexproai/rexpro/internal/chat"
)

// Options is the generation configuration surface forwarded to the model.
type Options struct {
	Model             string          `json:"model"`
	SystemInstruction string          `json:"systemInstruction,omitempty"`
	Temperature       float32         `json:"temperature"`
	TopP              float32         `json:"topP"`
	TopK              float32         `json:"topK"`
	MaxOutputTokens   int32           `json:"maxOutputTokens"`
	UseGoogleSearch   bool            `json:"useGoogleSearch"`
	UseCodeExecution  bool            `json:"useCodeExecution"`
	UseThinking       bool            `json:"useThinking"`
	UseThinkingBudget bool            `json:"useThinkingBudget"`
	ThinkingBudget    int32           `json:"thinkingBudget"`
	ResponseSchema    json.RawMessage `json:"responseSchema,omitempty"`
}

// ChatRequest is one generation turn: prior history plus the new prompt.
type ChatRequest struct {
	History     []chat.Message
	Prompt      string
	Attachments []chat.Attachment
	Options     Options
}

// ChatResult reports final token consumption for a completed stream.
type ChatResult struct {
	PromptTokens    int64
	CandidateTokens int64
}

// CodeExecutionTool is the function name the model calls when code
// execution is enabled.
const CodeExecutionTool = "codeExecution"

// buildContents converts history and the new turn into wire contents.
// Only user and model turns replay; tool output messages stay local.
func buildContents(req ChatRequest) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, msg := range req.History {
		if msg.Role != chat.RoleUser && msg.Role != chat.RoleModel {
			continue
		}
		content := &genai.Content{Role: string(msg.Role)}
		for _, p := range msg.Parts {
			content.Parts = append(content.Parts, partToGenai(p))
		}
		if len(content.Parts) == 0 {
			continue
		}
		contents = append(contents, content)
	}

	userParts := []*genai.Part{{Text: req.Prompt}}
	for _, att := range req.Attachments {
		p, err := att.ToPart()
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", att.Name, err)
		}
		userParts = append(userParts, partToGenai(p))
	}
	contents = append(contents, &genai.Content{Role: "user", Parts: userParts})

	return contents, nil
}

func partToGenai(p chat.Part) *genai.Part {
	if p.InlineData != nil {
		return &genai.Part{InlineData: &genai.Blob{
			MIMEType: p.InlineData.MIMEType,
			Data:     p.InlineData.Data,
		}}
	}
	return &genai.Part{Text: p.Text}
}

// buildConfig assembles the generation config from options, including the
// model-family specific thinking settings.
func buildConfig(opts Options) (*genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(opts.Temperature),
		TopP:        genai.Ptr(opts.TopP),
		TopK:        genai.Ptr(opts.TopK),
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = opts.MaxOutputTokens
	}
	if opts.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: opts.SystemInstruction}},
		}
	}

	if opts.UseGoogleSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if opts.UseCodeExecution {
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        CodeExecutionTool,
				Description: "Executes the given Python code in a secure environment.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"code": {Type: genai.TypeString, Description: "The Python code to execute."},
					},
					Required: []string{"code"},
				},
			}},
		})
	}

	if len(opts.ResponseSchema) > 0 {
		var schema genai.Schema
		if err := json.Unmarshal(opts.ResponseSchema, &schema); err != nil {
			return nil, fmt.Errorf("parsing response schema: %w", err)
		}
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = &schema
	}

	cfg.ThinkingConfig = thinkingConfig(opts)

	return cfg, nil
}

// thinkingConfig returns the thinking settings appropriate for the model
// family, or nil when the model rejects the field entirely.
//
// Gemini 3 models always think and reject a zero budget, so with thinking
// toggled off no config is sent and the model falls back to its default.
// Gemini 2.5 text models accept an explicit budget where zero disables
// thinking. Gemma and everything else get no thinkingConfig at all since
// sending one fails the request.
func thinkingConfig(opts Options) *genai.ThinkingConfig {
	model := opts.Model
	if strings.HasPrefix(model, "gemma") {
		return nil
	}

	isPro := strings.Contains(model, "-pro")

	switch {
	case strings.Contains(model, "gemini-3"):
		if !opts.UseThinking {
			return nil
		}
		tc := &genai.ThinkingConfig{IncludeThoughts: true}
		if opts.UseThinkingBudget {
			tc.ThinkingBudget = genai.Ptr(opts.ThinkingBudget)
		}
		return tc

	case strings.Contains(model, "gemini-2.5") && !strings.Contains(model, "flash-image"):
		if opts.UseThinking || isPro {
			tc := &genai.ThinkingConfig{IncludeThoughts: true}
			if opts.UseThinkingBudget {
				tc.ThinkingBudget = genai.Ptr(opts.ThinkingBudget)
			}
			return tc
		}
		// Zero budget disables thinking on this family.
		return &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(0))}
	}

	return nil
}
