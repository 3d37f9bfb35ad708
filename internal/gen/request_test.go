package gen

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"

	"github.com/rexproai/rexpro/internal/chat"
)

func TestBuildContents(t *testing.T) {
	t.Run("filters tool turns from history", func(t *testing.T) {
		req := ChatRequest{
			History: []chat.Message{
				{Role: chat.RoleUser, Parts: []chat.Part{{Text: "hi"}}},
				{Role: chat.RoleModel, Parts: []chat.Part{{Text: "hello"}}},
				{Role: chat.RoleTool, Parts: []chat.Part{{Text: "tool output"}}},
			},
			Prompt: "next",
		}

		contents, err := buildContents(req)
		if err != nil {
			t.Fatalf("buildContents() error: %v", err)
		}

		// Two history turns plus the new user turn.
		if len(contents) != 3 {
			t.Fatalf("len(contents) = %d, want 3", len(contents))
		}
		if contents[0].Role != "user" || contents[1].Role != "model" {
			t.Errorf("history roles = %q, %q", contents[0].Role, contents[1].Role)
		}
		last := contents[2]
		if last.Role != "user" || last.Parts[0].Text != "next" {
			t.Errorf("final turn = %+v", last)
		}
	})

	t.Run("attachments become inline parts", func(t *testing.T) {
		att := chat.NewAttachment("img.png", "image/png", []byte{1, 2, 3})
		req := ChatRequest{Prompt: "what is this", Attachments: []chat.Attachment{att}}

		contents, err := buildContents(req)
		if err != nil {
			t.Fatalf("buildContents() error: %v", err)
		}

		parts := contents[0].Parts
		if len(parts) != 2 {
			t.Fatalf("len(parts) = %d, want 2", len(parts))
		}
		if parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "image/png" {
			t.Errorf("parts[1] = %+v, want inline image", parts[1])
		}
	})

	t.Run("skips history turns with no parts", func(t *testing.T) {
		req := ChatRequest{
			History: []chat.Message{{Role: chat.RoleModel, Content: "placeholder only"}},
			Prompt:  "go",
		}

		contents, err := buildContents(req)
		if err != nil {
			t.Fatalf("buildContents() error: %v", err)
		}
		if len(contents) != 1 {
			t.Errorf("len(contents) = %d, want 1", len(contents))
		}
	})
}

func TestBuildConfig(t *testing.T) {
	t.Run("tools wired from options", func(t *testing.T) {
		cfg, err := buildConfig(Options{
			Model:            "gemini-2.0-flash",
			UseGoogleSearch:  true,
			UseCodeExecution: true,
		})
		if err != nil {
			t.Fatalf("buildConfig() error: %v", err)
		}

		if len(cfg.Tools) != 2 {
			t.Fatalf("len(Tools) = %d, want 2", len(cfg.Tools))
		}
		if cfg.Tools[0].GoogleSearch == nil {
			t.Error("first tool is not google search")
		}
		decls := cfg.Tools[1].FunctionDeclarations
		if len(decls) != 1 || decls[0].Name != CodeExecutionTool {
			t.Errorf("function declarations = %+v", decls)
		}
	})

	t.Run("response schema switches to JSON output", func(t *testing.T) {
		schema := json.RawMessage(`{"type":"OBJECT","properties":{"answer":{"type":"STRING"}}}`)
		cfg, err := buildConfig(Options{Model: "gemini-2.0-flash", ResponseSchema: schema})
		if err != nil {
			t.Fatalf("buildConfig() error: %v", err)
		}
		if cfg.ResponseMIMEType != "application/json" {
			t.Errorf("ResponseMIMEType = %q", cfg.ResponseMIMEType)
		}
		if cfg.ResponseSchema == nil {
			t.Error("ResponseSchema not set")
		}
	})

	t.Run("max output tokens only when positive", func(t *testing.T) {
		cfg, _ := buildConfig(Options{Model: "gemini-2.0-flash", MaxOutputTokens: 0})
		if cfg.MaxOutputTokens != 0 {
			t.Errorf("MaxOutputTokens = %d, want unset", cfg.MaxOutputTokens)
		}

		cfg, _ = buildConfig(Options{Model: "gemini-2.0-flash", MaxOutputTokens: 1024})
		if cfg.MaxOutputTokens != 1024 {
			t.Errorf("MaxOutputTokens = %d, want 1024", cfg.MaxOutputTokens)
		}
	})
}

func TestThinkingConfig(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want func(*genai.ThinkingConfig) bool
	}{
		{
			name: "gemma never gets thinking config",
			opts: Options{Model: "gemma-3-27b-it", UseThinking: true},
			want: func(tc *genai.ThinkingConfig) bool { return tc == nil },
		},
		{
			name: "gemini-3 thinking on includes thoughts",
			opts: Options{Model: "gemini-3-pro-preview", UseThinking: true},
			want: func(tc *genai.ThinkingConfig) bool {
				return tc != nil && tc.IncludeThoughts && tc.ThinkingBudget == nil
			},
		},
		{
			name: "gemini-3 thinking off sends nothing",
			opts: Options{Model: "gemini-3-pro-preview", UseThinking: false},
			want: func(tc *genai.ThinkingConfig) bool { return tc == nil },
		},
		{
			name: "gemini-2.5 flash thinking off disables via zero budget",
			opts: Options{Model: "gemini-2.5-flash", UseThinking: false},
			want: func(tc *genai.ThinkingConfig) bool {
				return tc != nil && !tc.IncludeThoughts && tc.ThinkingBudget != nil && *tc.ThinkingBudget == 0
			},
		},
		{
			name: "gemini-2.5 pro always thinks",
			opts: Options{Model: "gemini-2.5-pro", UseThinking: false},
			want: func(tc *genai.ThinkingConfig) bool { return tc != nil && tc.IncludeThoughts },
		},
		{
			name: "gemini-2.5 flash with budget",
			opts: Options{Model: "gemini-2.5-flash", UseThinking: true, UseThinkingBudget: true, ThinkingBudget: 512},
			want: func(tc *genai.ThinkingConfig) bool {
				return tc != nil && tc.IncludeThoughts && tc.ThinkingBudget != nil && *tc.ThinkingBudget == 512
			},
		},
		{
			name: "flash-image excluded from thinking",
			opts: Options{Model: "gemini-2.5-flash-image", UseThinking: true},
			want: func(tc *genai.ThinkingConfig) bool { return tc == nil },
		},
		{
			name: "gemini-2.0 gets no thinking config",
			opts: Options{Model: "gemini-2.0-flash", UseThinking: true},
			want: func(tc *genai.ThinkingConfig) bool { return tc == nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := thinkingConfig(tt.opts)
			if !tt.want(got) {
				t.Errorf("thinkingConfig(%q) = %+v", tt.opts.Model, got)
			}
		})
	}
}
