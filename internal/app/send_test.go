package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rexproai/rexpro/internal/app"
	"github.com/rexproai/rexpro/internal/chat"
	"github.com/rexproai/rexpro/internal/gen"
	"github.com/rexproai/rexpro/internal/log"
	"github.com/rexproai/rexpro/internal/store"
	"github.com/rexproai/rexpro/internal/testutil"
)

func lastMessage(t *testing.T, a *app.App) chat.Message {
	t.Helper()
	s := a.ActiveSession()
	if s == nil || len(s.Messages) == 0 {
		t.Fatal("no messages in active session")
	}
	return s.Messages[len(s.Messages)-1]
}

func TestSendMessageStreaming(t *testing.T) {
	ctx := context.Background()

	t.Run("chunks fold in arrival order", func(t *testing.T) {
		g := testutil.NewScriptedGenerator([]gen.Chunk{
			{Fragments: []gen.Fragment{gen.ThoughtFragment{Text: "let me think. "}}},
			{Fragments: []gen.Fragment{gen.ThoughtFragment{Text: "done thinking."}}},
			{Fragments: []gen.Fragment{gen.TextFragment{Text: "Hello"}}},
			{Fragments: []gen.Fragment{gen.TextFragment{Text: ", world"}}},
		}, gen.ChatResult{PromptTokens: 10, CandidateTokens: 20})
		a := newTestApp(t, g)

		var updates []app.StreamUpdate
		err := a.SendMessage(ctx, app.SendRequest{Prompt: "greet me"}, func(u app.StreamUpdate) {
			updates = append(updates, u)
		})
		if err != nil {
			t.Fatalf("SendMessage() error: %v", err)
		}

		msg := lastMessage(t, a)
		if msg.Content != "Hello, world" {
			t.Errorf("Content = %q, want %q", msg.Content, "Hello, world")
		}
		if msg.Reasoning != "let me think. done thinking." {
			t.Errorf("Reasoning = %q", msg.Reasoning)
		}
		if msg.IsThinking || msg.IsParsingReasoning {
			t.Errorf("flags not cleared: thinking=%v parsing=%v", msg.IsThinking, msg.IsParsingReasoning)
		}
		if len(updates) != 4 {
			t.Errorf("stream updates = %d, want 4", len(updates))
		}

		// Thinking indicator stays on through thought chunks and turns off
		// at the first visible content.
		if !updates[0].Message.IsThinking || updates[0].Message.IsParsingReasoning {
			t.Errorf("after first thought: %+v", updates[0].Message)
		}
		if updates[2].Message.IsThinking {
			t.Error("thinking flag still set after first content chunk")
		}
	})

	t.Run("usage folded exactly once", func(t *testing.T) {
		g := testutil.NewScriptedGenerator([]gen.Chunk{
			{Fragments: []gen.Fragment{gen.TextFragment{Text: "hi"}}},
		}, gen.ChatResult{PromptTokens: 100, CandidateTokens: 50})
		a := newTestApp(t, g)

		if err := a.SendMessage(ctx, app.SendRequest{Prompt: "x"}, nil); err != nil {
			t.Fatal(err)
		}

		stats := a.UsageStats()
		ms := stats.Breakdown["gemini-2.5-flash"]
		if ms.InputTokens != 100 || ms.OutputTokens != 50 {
			t.Errorf("breakdown = %+v, want 100/50", ms)
		}
	})

	t.Run("function call and grounding folded", func(t *testing.T) {
		g := testutil.NewScriptedGenerator([]gen.Chunk{
			{Fragments: []gen.Fragment{
				gen.TextFragment{Text: "running code"},
				gen.FunctionCallFragment{Name: gen.CodeExecutionTool, Args: map[string]any{"code": "print(1)\n"}},
			}},
			{
				Fragments: []gen.Fragment{gen.FunctionCallFragment{Name: gen.CodeExecutionTool, Args: map[string]any{"code": "print(2)\n"}}},
				GroundingChunks: []chat.GroundingChunk{
					{Web: &chat.WebSource{URI: "https://a", Title: "A"}},
				},
			},
			{
				GroundingChunks: []chat.GroundingChunk{
					{Web: &chat.WebSource{URI: "https://b", Title: "B"}},
					{Web: &chat.WebSource{URI: "https://c", Title: "C"}},
				},
			},
		}, gen.ChatResult{})
		a := newTestApp(t, g)

		if err := a.SendMessage(ctx, app.SendRequest{Prompt: "x"}, nil); err != nil {
			t.Fatal(err)
		}

		msg := lastMessage(t, a)
		if msg.CodeToExecute != "print(1)\nprint(2)\n" {
			t.Errorf("CodeToExecute = %q", msg.CodeToExecute)
		}
		// Grounding chunks replace wholesale, last chunk wins.
		if len(msg.GroundingChunks) != 2 || msg.GroundingChunks[0].Web.Title != "B" {
			t.Errorf("GroundingChunks = %+v", msg.GroundingChunks)
		}
	})

	t.Run("inline image becomes attachment", func(t *testing.T) {
		g := testutil.NewScriptedGenerator([]gen.Chunk{
			{Fragments: []gen.Fragment{
				gen.TextFragment{Text: "edited"},
				gen.InlineDataFragment{Blob: chat.Blob{MIMEType: "image/png", Data: []byte{9}}},
			}},
		}, gen.ChatResult{})
		a := newTestApp(t, g)

		if err := a.SendMessage(ctx, app.SendRequest{Prompt: "edit"}, nil); err != nil {
			t.Fatal(err)
		}

		msg := lastMessage(t, a)
		if len(msg.Attachments) != 1 || msg.Attachments[0].MIMEType != "image/png" {
			t.Errorf("Attachments = %+v", msg.Attachments)
		}
	})

	t.Run("first prompt becomes the title", func(t *testing.T) {
		g := testutil.NewScriptedGenerator([]gen.Chunk{
			{Fragments: []gen.Fragment{gen.TextFragment{Text: "ok"}}},
		}, gen.ChatResult{})
		a := newTestApp(t, g)

		long := strings.Repeat("t", 80)
		if err := a.SendMessage(ctx, app.SendRequest{Prompt: long}, nil); err != nil {
			t.Fatal(err)
		}

		s := a.ActiveSession()
		if len([]rune(s.Title)) != 50 {
			t.Errorf("title length = %d, want 50", len([]rune(s.Title)))
		}

		// A second message must not retitle.
		if err := a.SendMessage(ctx, app.SendRequest{Prompt: "different"}, nil); err != nil {
			t.Fatal(err)
		}
		if a.ActiveSession().Title != s.Title {
			t.Error("second message changed the title")
		}
	})
}

// Only one generation turn may run at a time; the losing call must not
// change any state.
func TestSendMessageSingleFlight(t *testing.T) {
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	g := &testutil.Generator{
		StreamChatFn: func(ctx context.Context, req gen.ChatRequest, fn gen.ChunkFunc) (*gen.ChatResult, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &gen.ChatResult{}, nil
		},
	}
	a := newTestApp(t, g)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.SendMessage(ctx, app.SendRequest{Prompt: "first"}, nil); err != nil {
			t.Errorf("first SendMessage() error: %v", err)
		}
	}()

	<-started
	messagesBefore := len(a.ActiveSession().Messages)

	err := a.SendMessage(ctx, app.SendRequest{Prompt: "second"}, nil)
	if !errors.Is(err, app.ErrGenerationInFlight) {
		t.Errorf("second SendMessage() error = %v, want ErrGenerationInFlight", err)
	}
	if got := len(a.ActiveSession().Messages); got != messagesBefore {
		t.Errorf("rejected send changed message count: %d -> %d", messagesBefore, got)
	}

	close(release)
	wg.Wait()

	if a.Phase() != app.PhaseIdle {
		t.Errorf("phase = %v, want idle", a.Phase())
	}
}

// Aborting keeps partial content, adds no usage, reports no error.
func TestSendMessageAbort(t *testing.T) {
	ctx := context.Background()

	firstChunkSent := make(chan struct{})
	g := &testutil.Generator{
		StreamChatFn: func(ctx context.Context, req gen.ChatRequest, fn gen.ChunkFunc) (*gen.ChatResult, error) {
			if err := fn(ctx, gen.Chunk{Fragments: []gen.Fragment{gen.TextFragment{Text: "partial "}}}); err != nil {
				return nil, err
			}
			close(firstChunkSent)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	a := newTestApp(t, g)

	done := make(chan error, 1)
	go func() {
		done <- a.SendMessage(ctx, app.SendRequest{Prompt: "abort me"}, nil)
	}()

	<-firstChunkSent
	a.StopGeneration()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("aborted SendMessage() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SendMessage did not return after abort")
	}

	msg := lastMessage(t, a)
	if msg.Content != "partial " {
		t.Errorf("partial content = %q, want %q", msg.Content, "partial ")
	}
	if msg.IsThinking || msg.IsParsingReasoning {
		t.Error("flags not cleared after abort")
	}
	if stats := a.UsageStats(); stats.TotalCost != 0 || len(stats.Breakdown) != 0 {
		t.Errorf("usage recorded for aborted turn: %+v", stats)
	}
	if a.Phase() != app.PhaseIdle {
		t.Errorf("phase = %v, want idle", a.Phase())
	}
}

// Errors surface in the model message and the session persists once.
func TestSendMessageError(t *testing.T) {
	ctx := context.Background()

	g := &testutil.Generator{
		StreamChatFn: func(ctx context.Context, req gen.ChatRequest, fn gen.ChunkFunc) (*gen.ChatResult, error) {
			return nil, errors.New("quota exceeded")
		},
	}

	counting := newCountingStore(store.NewMemory())
	a, err := app.New(app.Config{Store: counting, Generator: g, Logger: log.NewNop(),
		Defaults: gen.Options{Model: "gemini-2.5-flash"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Init(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}

	sessionID := a.ActiveSession().ID
	putsBefore := counting.puts[sessionID]

	sendErr := a.SendMessage(ctx, app.SendRequest{Prompt: "boom"}, nil)
	if sendErr == nil || !strings.Contains(sendErr.Error(), "quota exceeded") {
		t.Errorf("SendMessage() error = %v, want quota exceeded", sendErr)
	}

	msg := lastMessage(t, a)
	if !strings.HasPrefix(msg.Content, "An error occurred:") {
		t.Errorf("error message content = %q", msg.Content)
	}
	if msg.IsThinking {
		t.Error("thinking flag still set after error")
	}

	// Exactly one persist on the error exit path.
	if got := counting.puts[sessionID] - putsBefore; got != 1 {
		t.Errorf("session persisted %d times during failed turn, want 1", got)
	}
	if stats := a.UsageStats(); stats.TotalCost != 0 || len(stats.Breakdown) != 0 {
		t.Errorf("usage recorded for failed turn: %+v", stats)
	}
	if a.Phase() != app.PhaseIdle {
		t.Errorf("phase = %v, want idle", a.Phase())
	}
}

// Successful turns also persist exactly once.
func TestSendMessagePersistsOnce(t *testing.T) {
	ctx := context.Background()

	g := testutil.NewScriptedGenerator([]gen.Chunk{
		{Fragments: []gen.Fragment{gen.TextFragment{Text: "hi"}}},
	}, gen.ChatResult{})

	counting := newCountingStore(store.NewMemory())
	a, err := app.New(app.Config{Store: counting, Generator: g, Logger: log.NewNop(),
		Defaults: gen.Options{Model: "gemini-2.5-flash"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Init(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}

	sessionID := a.ActiveSession().ID
	putsBefore := counting.puts[sessionID]

	if err := a.SendMessage(ctx, app.SendRequest{Prompt: "x"}, nil); err != nil {
		t.Fatal(err)
	}

	if got := counting.puts[sessionID] - putsBefore; got != 1 {
		t.Errorf("session persisted %d times during turn, want 1", got)
	}
}

func TestSendMessageCanvas(t *testing.T) {
	ctx := context.Background()

	t.Run("fenced output is stripped into index.html", func(t *testing.T) {
		g := testutil.NewScriptedGenerator([]gen.Chunk{
			{Fragments: []gen.Fragment{gen.TextFragment{Text: "```html\n<!DOCTYPE html>"}}},
			{Fragments: []gen.Fragment{gen.TextFragment{Text: "<html></html>\n```"}}},
		}, gen.ChatResult{PromptTokens: 5, CandidateTokens: 9})
		a := newTestApp(t, g)

		var sawCode bool
		err := a.SendMessage(ctx, app.SendRequest{Prompt: "build a page", Canvas: true}, func(u app.StreamUpdate) {
			if u.CanvasCode != "" {
				sawCode = true
			}
		})
		if err != nil {
			t.Fatalf("SendMessage() error: %v", err)
		}
		if !sawCode {
			t.Error("no canvas code streamed")
		}

		s := a.ActiveSession()
		content, rerr := chat.ReadFile(s.Project.Files, "index.html")
		if rerr != nil {
			t.Fatalf("ReadFile() error: %v", rerr)
		}
		want := "<!DOCTYPE html><html></html>"
		if content != want {
			t.Errorf("index.html = %q, want %q", content, want)
		}

		msg := lastMessage(t, a)
		if !msg.ProjectFilesUpdate || msg.Project == nil {
			t.Errorf("model message missing project update: %+v", msg)
		}

		if stats := a.UsageStats(); stats.Breakdown["gemini-2.5-flash"].InputTokens != 5 {
			t.Errorf("canvas usage not recorded: %+v", stats)
		}
	})

	t.Run("unfenced output kept as is", func(t *testing.T) {
		g := testutil.NewScriptedGenerator([]gen.Chunk{
			{Fragments: []gen.Fragment{gen.TextFragment{Text: "<!DOCTYPE html><html></html>"}}},
		}, gen.ChatResult{})
		a := newTestApp(t, g)

		if err := a.SendMessage(ctx, app.SendRequest{Prompt: "page", Canvas: true}, nil); err != nil {
			t.Fatal(err)
		}

		content, err := chat.ReadFile(a.ActiveSession().Project.Files, "index.html")
		if err != nil {
			t.Fatal(err)
		}
		if content != "<!DOCTYPE html><html></html>" {
			t.Errorf("index.html = %q", content)
		}
	})
}

func TestSendMessageImageTool(t *testing.T) {
	ctx := context.Background()

	var gotReq gen.ImageRequest
	g := &testutil.Generator{
		GenerateImagesFn: func(ctx context.Context, req gen.ImageRequest) ([]chat.Blob, error) {
			gotReq = req
			return []chat.Blob{
				{MIMEType: "image/png", Data: []byte{1}},
				{MIMEType: "image/png", Data: []byte{2}},
			}, nil
		},
	}
	a := newTestApp(t, g)
	a.SetOptions(gen.Options{Model: "imagen-4.0-generate-001"})

	var placeholderSeen bool
	err := a.SendMessage(ctx, app.SendRequest{
		Prompt:           "a cat",
		ImageTool:        true,
		NumberOfImages:   2,
		AspectRatio:      "1:1",
		PersonGeneration: "allow_adult",
	}, func(u app.StreamUpdate) {
		if u.Message.Content == "Generating images..." {
			placeholderSeen = true
		}
	})
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	if !placeholderSeen {
		t.Error("placeholder message never streamed")
	}
	if gotReq.NumberOfImages != 2 || gotReq.AspectRatio != "1:1" {
		t.Errorf("image request = %+v", gotReq)
	}
	if gotReq.PersonGeneration != "allow_adult" {
		t.Errorf("PersonGeneration = %q, want allow_adult", gotReq.PersonGeneration)
	}

	msg := lastMessage(t, a)
	if msg.Content != "Generated 2 image(s)." {
		t.Errorf("Content = %q", msg.Content)
	}
	if len(msg.Attachments) != 2 {
		t.Errorf("attachments = %d, want 2", len(msg.Attachments))
	}

	if got := a.UsageStats().Breakdown["imagen-4.0-generate-001"]; got.Images != 2 {
		t.Errorf("usage images = %d, want 2", got.Images)
	}
}

func TestSendMessageVideoTool(t *testing.T) {
	ctx := context.Background()

	var gotReq gen.VideoRequest
	g := &testutil.Generator{
		GenerateVideoFn: func(ctx context.Context, req gen.VideoRequest) (*chat.Blob, error) {
			gotReq = req
			return &chat.Blob{MIMEType: "video/mp4", Data: []byte{7}}, nil
		},
	}
	a := newTestApp(t, g)
	a.SetOptions(gen.Options{Model: "veo-3.0-generate-preview"})

	seed := chat.NewAttachment("seed.png", "image/png", []byte{42})
	err := a.SendMessage(ctx, app.SendRequest{
		Prompt:      "animate this",
		VideoTool:   true,
		Attachments: []chat.Attachment{seed},
	}, nil)
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	if gotReq.Image == nil || gotReq.Image.Data[0] != 42 {
		t.Errorf("seed image not forwarded: %+v", gotReq.Image)
	}

	msg := lastMessage(t, a)
	if msg.Content != "Video generated successfully." {
		t.Errorf("Content = %q", msg.Content)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].MIMEType != "video/mp4" {
		t.Errorf("attachments = %+v", msg.Attachments)
	}

	if got := a.UsageStats().Breakdown["veo-3.0-generate-preview"]; got.Videos != 1 {
		t.Errorf("usage videos = %d, want 1", got.Videos)
	}
}

// A turn finishes on the generator it started with; an API key swap takes
// effect from the next turn on.
func TestGeneratorPinnedForTurn(t *testing.T) {
	ctx := context.Background()

	first := testutil.NewScriptedGenerator([]gen.Chunk{
		{Fragments: []gen.Fragment{gen.TextFragment{Text: "old client"}}},
		{Fragments: []gen.Fragment{gen.TextFragment{Text: ", still"}}},
	}, gen.ChatResult{})
	second := testutil.NewScriptedGenerator([]gen.Chunk{
		{Fragments: []gen.Fragment{gen.TextFragment{Text: "new client"}}},
	}, gen.ChatResult{})

	a, err := app.New(app.Config{
		Store:     store.NewMemory(),
		Generator: first,
		Logger:    log.NewNop(),
		Defaults:  gen.Options{Model: "gemini-2.5-flash"},
		NewGenerator: func(ctx context.Context, apiKey string) (app.Generator, error) {
			return second, nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := a.Init(ctx, "user-1"); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	swapped := false
	err = a.SendMessage(ctx, app.SendRequest{Prompt: "x"}, func(u app.StreamUpdate) {
		if !swapped {
			swapped = true
			if err := a.SetAPIKey(ctx, "fresh-key"); err != nil {
				t.Errorf("SetAPIKey() error: %v", err)
			}
		}
	})
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	if got := lastMessage(t, a).Content; got != "old client, still" {
		t.Errorf("Content = %q, want the turn to finish on the client it started with", got)
	}
	if second.StreamCalls.Load() != 0 {
		t.Errorf("new client StreamChat calls = %d, want 0 during the old turn", second.StreamCalls.Load())
	}

	if err := a.SendMessage(ctx, app.SendRequest{Prompt: "y"}, nil); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if second.StreamCalls.Load() != 1 {
		t.Errorf("new client StreamChat calls = %d, want 1 after the swap", second.StreamCalls.Load())
	}
	if got := lastMessage(t, a).Content; got != "new client" {
		t.Errorf("Content = %q, want new client", got)
	}
}

// Tool flags fall through to plain chat when the model does not match.
func TestToolFlagModelMismatch(t *testing.T) {
	ctx := context.Background()

	g := testutil.NewScriptedGenerator([]gen.Chunk{
		{Fragments: []gen.Fragment{gen.TextFragment{Text: "plain chat"}}},
	}, gen.ChatResult{})
	a := newTestApp(t, g)

	if err := a.SendMessage(ctx, app.SendRequest{Prompt: "x", ImageTool: true}, nil); err != nil {
		t.Fatal(err)
	}
	if g.StreamCalls.Load() != 1 {
		t.Errorf("StreamChat calls = %d, want 1 (fallthrough to chat)", g.StreamCalls.Load())
	}
}
