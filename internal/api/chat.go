package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rexproai/rexpro/internal/app"
	"github.com/rexproai/rexpro/internal/chat"
	"github.com/rexproai/rexpro/internal/log"
)

// chatHandler serves the streaming chat endpoint and its companions.
type chatHandler struct {
	app    *app.App
	logger log.Logger
}

// SSE event types for chat streaming.
const (
	eventChunk = "chunk" // partial model message or canvas code
	eventDone  = "done"  // turn completed
	eventError = "error" // turn failed
)

// sendInput is the POST /api/v1/chat request body.
type sendInput struct {
	Prompt      string            `json:"prompt"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`

	Canvas    bool `json:"canvas,omitempty"`
	ImageTool bool `json:"imageTool,omitempty"`
	VideoTool bool `json:"videoTool,omitempty"`

	NumberOfImages   int32  `json:"numberOfImages,omitempty"`
	AspectRatio      string `json:"aspectRatio,omitempty"`
	NegativePrompt   string `json:"negativePrompt,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
	Seed             *int32 `json:"seed,omitempty"`
}

// chunkPayload is the SSE data payload for streaming updates.
type chunkPayload struct {
	Message    *chat.Message `json:"message,omitempty"`
	CanvasCode string        `json:"canvasCode,omitempty"`
}

// donePayload is the SSE data payload when the turn completes.
type donePayload struct {
	SessionID string `json:"sessionId"`
}

// errorPayload is the SSE data payload when the turn fails.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// send handles POST /api/v1/chat: one full generation turn streamed back as
// Server-Sent Events. Placeholder and partial messages arrive as chunk
// events; the turn ends with either a done or an error event.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var input sendInput
	// Attachment data URLs make these bodies large; allow up to 64MB.
	r.Body = http.MaxBytesReader(w, r.Body, 64<<20)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		_ = writeEvent(w, flusher, eventError, errorPayload{Code: "invalid_body", Message: "invalid request body"})
		return
	}
	if input.Prompt == "" && len(input.Attachments) == 0 {
		_ = writeEvent(w, flusher, eventError, errorPayload{Code: "missing_prompt", Message: "prompt is required"})
		return
	}

	ctx := r.Context()
	h.logger.Debug("chat stream started", "request_id", requestIDFromContext(ctx))

	err := h.app.SendMessage(ctx, app.SendRequest{
		Prompt:           input.Prompt,
		Attachments:      input.Attachments,
		Canvas:           input.Canvas,
		ImageTool:        input.ImageTool,
		VideoTool:        input.VideoTool,
		NumberOfImages:   input.NumberOfImages,
		AspectRatio:      input.AspectRatio,
		NegativePrompt:   input.NegativePrompt,
		PersonGeneration: input.PersonGeneration,
		Seed:             input.Seed,
	}, func(update app.StreamUpdate) {
		payload := chunkPayload{CanvasCode: update.CanvasCode}
		if update.CanvasCode == "" {
			msg := update.Message
			payload.Message = &msg
		}
		if werr := writeEvent(w, flusher, eventChunk, payload); werr != nil {
			// Write failure usually means the client went away; the turn
			// keeps running and persists server-side.
			h.logger.Debug("failed to write chunk", "error", werr)
		}
	})
	if err != nil {
		_, code := appStatus(err)
		_ = writeEvent(w, flusher, eventError, errorPayload{Code: code, Message: err.Error()})
		return
	}

	_ = writeEvent(w, flusher, eventDone, donePayload{SessionID: activeSessionID(h.app)})
}

// stop handles POST /api/v1/chat/stop. Aborting is asynchronous: the running
// turn notices the cancellation, keeps its partial content and persists.
func (h *chatHandler) stop(w http.ResponseWriter, _ *http.Request) {
	h.app.StopGeneration()
	w.WriteHeader(http.StatusAccepted)
}

// transcribeInput is the POST /api/v1/transcribe request body. Data carries
// the recorded audio as standard base64.
type transcribeInput struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// transcribe handles POST /api/v1/transcribe: audio in, prompt text out.
func (h *chatHandler) transcribe(w http.ResponseWriter, r *http.Request) {
	var input transcribeInput
	r.Body = http.MaxBytesReader(w, r.Body, 32<<20)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if input.Data == "" || input.MIMEType == "" {
		writeError(w, http.StatusBadRequest, "missing_audio", "data and mimeType are required", h.logger)
		return
	}

	audio, err := base64.StdEncoding.DecodeString(input.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_audio", "data must be base64-encoded", h.logger)
		return
	}

	text, err := h.app.Transcribe(r.Context(), audio, input.MIMEType)
	if err != nil {
		status, code := appStatus(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text}, h.logger)
}

// extractText handles POST /api/v1/extract-text: file bytes in, text out.
// Audio transcribes, documents extract, images get described.
func (h *chatHandler) extractText(w http.ResponseWriter, r *http.Request) {
	var input transcribeInput
	r.Body = http.MaxBytesReader(w, r.Body, 32<<20)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if input.Data == "" || input.MIMEType == "" {
		writeError(w, http.StatusBadRequest, "missing_file", "data and mimeType are required", h.logger)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(input.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_file", "data must be base64-encoded", h.logger)
		return
	}

	text, err := h.app.ExtractText(r.Context(), raw, input.MIMEType)
	if err != nil {
		status, code := appStatus(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text}, h.logger)
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
