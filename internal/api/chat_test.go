package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rexproai/rexpro/internal/chat"
	"github.com/rexproai/rexpro/internal/gen"
	"github.com/rexproai/rexpro/internal/testutil"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	event string
	data  string
}

// parseSSE splits a recorded SSE body into events.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()

	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if after, ok := strings.CutPrefix(line, "event: "); ok {
				ev.event = after
			}
			if after, ok := strings.CutPrefix(line, "data: "); ok {
				ev.data = after
			}
		}
		if ev.event == "" {
			t.Fatalf("block without event type: %q", block)
		}
		events = append(events, ev)
	}
	return events
}

func TestChatStream(t *testing.T) {
	g := testutil.NewScriptedGenerator([]gen.Chunk{
		{Fragments: []gen.Fragment{gen.ThoughtFragment{Text: "thinking"}}},
		{Fragments: []gen.Fragment{gen.TextFragment{Text: "Hello, "}}},
		{Fragments: []gen.Fragment{gen.TextFragment{Text: "world."}}},
	}, gen.ChatResult{PromptTokens: 10, CandidateTokens: 5})
	srv, a := newTestServer(t, g)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", `{"prompt":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /chat = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", got)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) < 4 {
		t.Fatalf("got %d events, want at least 4: %+v", len(events), events)
	}

	last := events[len(events)-1]
	if last.event != eventDone {
		t.Fatalf("last event = %q, want done", last.event)
	}
	var done donePayload
	if err := json.Unmarshal([]byte(last.data), &done); err != nil {
		t.Fatal(err)
	}
	if done.SessionID == "" {
		t.Error("done event carries no session id")
	}

	// Chunk events snapshot the evolving model message.
	var final chunkPayload
	for _, ev := range events[:len(events)-1] {
		if ev.event != eventChunk {
			t.Fatalf("event = %q, want chunk", ev.event)
		}
		if err := json.Unmarshal([]byte(ev.data), &final); err != nil {
			t.Fatal(err)
		}
	}
	if final.Message == nil {
		t.Fatal("chunk events carried no message")
	}
	if final.Message.Content != "Hello, world." {
		t.Errorf("final content = %q, want %q", final.Message.Content, "Hello, world.")
	}
	if final.Message.Reasoning != "thinking" {
		t.Errorf("final reasoning = %q, want %q", final.Message.Reasoning, "thinking")
	}

	// The turn landed in the session too.
	sess := a.ActiveSession()
	if got := len(sess.Messages); got != 2 {
		t.Fatalf("len(messages) = %d, want 2", got)
	}
	if sess.Messages[1].Content != "Hello, world." {
		t.Errorf("persisted content = %q", sess.Messages[1].Content)
	}
}

func TestChatStreamValidation(t *testing.T) {
	srv, _ := newTestServer(t, &testutil.Generator{})

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "empty body", body: "", code: "invalid_body"},
		{name: "not json", body: "hello", code: "invalid_body"},
		{name: "missing prompt", body: "{}", code: "missing_prompt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", tt.body)

			events := parseSSE(t, rec.Body.String())
			if len(events) != 1 || events[0].event != eventError {
				t.Fatalf("events = %+v, want single error event", events)
			}
			var payload errorPayload
			if err := json.Unmarshal([]byte(events[0].data), &payload); err != nil {
				t.Fatal(err)
			}
			if payload.Code != tt.code {
				t.Errorf("code = %q, want %q", payload.Code, tt.code)
			}
		})
	}
}

func TestChatStreamGenerationError(t *testing.T) {
	g := &testutil.Generator{
		StreamChatFn: func(ctx context.Context, req gen.ChatRequest, fn gen.ChunkFunc) (*gen.ChatResult, error) {
			return nil, context.DeadlineExceeded
		},
	}
	srv, _ := newTestServer(t, g)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", `{"prompt":"hi"}`)
	events := parseSSE(t, rec.Body.String())

	last := events[len(events)-1]
	if last.event != eventError {
		t.Fatalf("last event = %q, want error", last.event)
	}
	var payload errorPayload
	if err := json.Unmarshal([]byte(last.data), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Code != "internal_error" {
		t.Errorf("code = %q, want internal_error", payload.Code)
	}
}

func TestChatCanvasStream(t *testing.T) {
	g := testutil.NewScriptedGenerator([]gen.Chunk{
		{Fragments: []gen.Fragment{gen.TextFragment{Text: "<!DOCTYPE html>"}}},
		{Fragments: []gen.Fragment{gen.TextFragment{Text: "<html></html>"}}},
	}, gen.ChatResult{})
	srv, a := newTestServer(t, g)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", `{"prompt":"make a page","canvas":true}`)
	events := parseSSE(t, rec.Body.String())

	if events[len(events)-1].event != eventDone {
		t.Fatalf("last event = %q, want done: %+v", events[len(events)-1].event, events)
	}

	var sawCode bool
	for _, ev := range events {
		if ev.event != eventChunk {
			continue
		}
		var payload chunkPayload
		if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
			t.Fatal(err)
		}
		if strings.Contains(payload.CanvasCode, "<!DOCTYPE html>") {
			sawCode = true
		}
	}
	if !sawCode {
		t.Error("no chunk event carried canvas code")
	}

	content, err := chat.ReadFile(a.ActiveSession().Project.Files, "index.html")
	if err != nil {
		t.Fatalf("ReadFile(index.html) error: %v", err)
	}
	if content != "<!DOCTYPE html><html></html>" {
		t.Errorf("index.html = %q", content)
	}
}

func TestChatStop(t *testing.T) {
	srv, _ := newTestServer(t, &testutil.Generator{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/stop", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("POST /chat/stop = %d, want 202", rec.Code)
	}
}

func TestTranscribe(t *testing.T) {
	g := &testutil.Generator{
		TranscribeFn: func(ctx context.Context, data []byte, mimeType string) (string, error) {
			if mimeType != "audio/webm" {
				t.Errorf("mimeType = %q, want audio/webm", mimeType)
			}
			if string(data) != "fake audio" {
				t.Errorf("data = %q, want fake audio", data)
			}
			return "hello world", nil
		},
	}
	srv, _ := newTestServer(t, g)

	audio := base64.StdEncoding.EncodeToString([]byte("fake audio"))
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/transcribe",
		`{"data":"`+audio+`","mimeType":"audio/webm"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /transcribe = %d, want 200: %s", rec.Code, rec.Body)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["text"] != "hello world" {
		t.Errorf("text = %q, want hello world", body["text"])
	}

	t.Run("rejects missing fields", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/transcribe", `{"data":""}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("rejects bad base64", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/transcribe",
			`{"data":"%%%","mimeType":"audio/webm"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestExtractText(t *testing.T) {
	g := &testutil.Generator{
		ExtractTextFn: func(ctx context.Context, data []byte, mimeType string) (string, error) {
			return "extracted content", nil
		},
	}
	srv, _ := newTestServer(t, g)

	file := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4"))
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/extract-text",
		`{"data":"`+file+`","mimeType":"application/pdf"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /extract-text = %d, want 200: %s", rec.Code, rec.Body)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["text"] != "extracted content" {
		t.Errorf("text = %q, want extracted content", body["text"])
	}
}

func TestDeleteAttachmentEndpoint(t *testing.T) {
	g := testutil.NewScriptedGenerator([]gen.Chunk{
		{Fragments: []gen.Fragment{gen.TextFragment{Text: "noted"}}},
	}, gen.ChatResult{})
	srv, a := newTestServer(t, g)

	att := chat.NewAttachment("a.png", "image/png", []byte{1, 2, 3})
	req := `{"prompt":"look at this","attachments":[` + mustJSON(t, att) + `]}`
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", req)
	if events := parseSSE(t, rec.Body.String()); events[len(events)-1].event != eventDone {
		t.Fatalf("chat turn failed: %+v", events)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/messages/0/attachments/0", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE attachment = %d, want 204: %s", rec.Code, rec.Body)
	}
	if got := len(a.ActiveSession().Messages[0].Attachments); got != 0 {
		t.Errorf("attachments after delete = %d, want 0", got)
	}

	t.Run("out of range", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodDelete, "/api/v1/messages/9/attachments/0", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("non-numeric index", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodDelete, "/api/v1/messages/x/attachments/0", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestWriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := writeEvent(rec, rec, eventChunk, chunkPayload{CanvasCode: "x"}); err != nil {
		t.Fatalf("writeEvent() error: %v", err)
	}

	want := "event: chunk\ndata: {\"canvasCode\":\"x\"}\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if !rec.Flushed {
		t.Error("writeEvent() did not flush")
	}
}
