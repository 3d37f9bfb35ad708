package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/rexproai/rexpro/internal/chat"
	"github.com/rexproai/rexpro/internal/gen"
)

// canvasSystemInstruction steers canvas mode toward a single self-contained
// index.html response.
const canvasSystemInstruction = `You are an expert senior frontend developer. Your task is to generate a complete, self-contained, single-file web application based on the user's request.

**CRITICAL INSTRUCTIONS:**
1.  **Single File Only:** You MUST generate a single ` + "`index.html`" + ` file.
2.  **No External Files:** DO NOT use external CSS or JavaScript files.
3.  **CSS:**
    *   You MUST include the Tailwind CSS CDN script in the <head> section: <script src="https://cdn.tailwindcss.com"></script>.
    *   All custom CSS styles MUST be placed inside a <style> tag within the <head>.
4.  **JavaScript:**
    *   All JavaScript code MUST be placed inside a <script> tag at the end of the <body> tag.
5.  **Output Format:** Your entire response must be ONLY the raw HTML code for the index.html file.
    *   Your response MUST start directly with <!DOCTYPE html>.
    *   Your response MUST NOT contain any markdown code fences.
    *   Do not include any explanations, notes, or any text whatsoever outside of the HTML code itself.`

// codeFences strips a leading ```html (or bare ```) fence and a trailing
// ``` fence that models add despite instructions.
var codeFences = regexp.MustCompile("^```(?:html)?\\s*|```\\s*$")

// Placeholder and completion texts shown while tool turns run.
const (
	imagePlaceholder  = "Generating images..."
	videoPlaceholder  = "Generating video... this may take a few minutes."
	videoDoneContent  = "Video generated successfully."
	canvasDoneContent = "I've created a project for you."
)

// SendRequest is one user turn.
type SendRequest struct {
	Prompt      string
	Attachments []chat.Attachment

	// Canvas routes the turn through single-file project generation.
	Canvas bool
	// ImageTool and VideoTool select the non-streaming tool branches; they
	// only apply when the selected model matches the tool.
	ImageTool bool
	VideoTool bool

	// Image tool parameters.
	NumberOfImages   int32
	AspectRatio      string
	NegativePrompt   string
	PersonGeneration string
	Seed             *int32
}

// StreamUpdate is pushed to the caller as the model turn evolves.
type StreamUpdate struct {
	// Message is a snapshot of the evolving model message.
	Message chat.Message
	// CanvasCode carries the accumulated raw code during canvas turns.
	CanvasCode string
}

// StreamFunc receives streaming updates. May be nil when the caller only
// wants the final state.
type StreamFunc func(update StreamUpdate)

func isImagenModel(model string) bool {
	return strings.HasPrefix(model, "imagen-")
}

func isVeoModel(model string) bool {
	return strings.HasPrefix(model, "veo-")
}

// SendMessage runs one full generation turn against the active session.
//
// Exactly one turn runs at a time: a second call while one is in flight
// returns ErrGenerationInFlight without touching any state. Whatever way
// the turn exits (success, error, abort via StopGeneration or context
// cancellation) the session is persisted exactly once and the phase returns
// to Idle. An aborted turn keeps its partial content and returns nil.
func (a *App) SendMessage(ctx context.Context, req SendRequest, stream StreamFunc) error {
	ctx, span := otel.Tracer("rexpro/app").Start(ctx, "generation.turn")
	defer span.End()

	a.mu.Lock()
	userID, err := a.requireUser()
	if err != nil {
		a.mu.Unlock()
		return err
	}
	// The generator is pinned here so a SetAPIKey swap mid-turn cannot
	// change clients under a running generation.
	g := a.gen
	if g == nil {
		a.mu.Unlock()
		return ErrNotInitialized
	}
	if a.phase != PhaseIdle {
		a.mu.Unlock()
		return ErrGenerationInFlight
	}
	if err := a.toPhase(PhaseDispatching); err != nil {
		a.mu.Unlock()
		return err
	}

	genCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	sess := a.active()
	if sess == nil {
		s := chat.NewSession(userID)
		s.Project = chat.NewProject()
		a.sessions = append([]*chat.Session{s}, a.sessions...)
		a.activeID = s.ID
		sess = s
	}

	// History for the model is the state before this turn.
	history := make([]chat.Message, len(sess.Messages))
	copy(history, sess.Messages)

	userMsg, err := chat.NewUserMessage(req.Prompt, req.Attachments)
	if err != nil {
		a.cancel = nil
		a.phase = PhaseIdle
		a.mu.Unlock()
		cancel()
		return err
	}
	if sess.IsEmpty() {
		sess.Title = chat.DeriveTitle(req.Prompt)
	}
	sess.Messages = append(sess.Messages, userMsg)
	sess.Touch()
	options := a.options
	a.mu.Unlock()

	// The exit handler owns the finally discipline: flags cleared, phase
	// reset, session persisted exactly once, whatever path we leave on.
	defer func() {
		cancel()
		a.mu.Lock()
		a.cancel = nil
		a.phase = PhaseIdle
		if last := lastModelMessage(sess); last != nil {
			last.IsThinking = false
			last.IsParsingReasoning = false
		}
		sess.Touch()
		snapshot := copySession(sess)
		a.mu.Unlock()

		// Persist even when the caller's context is already canceled.
		persistCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer done()
		_ = a.persist(persistCtx, snapshot)
		a.persistUsage(persistCtx)
	}()

	switch {
	case req.Canvas:
		err = a.sendCanvas(genCtx, g, sess, history, req, options, stream)
	case req.ImageTool && isImagenModel(options.Model):
		err = a.sendImage(genCtx, g, sess, req, options, stream)
	case req.VideoTool && isVeoModel(options.Model):
		err = a.sendVideo(genCtx, g, sess, req, options, stream)
	default:
		err = a.sendChat(genCtx, g, sess, history, req, options, stream)
	}

	// Abort keeps partial state and reports success.
	if err != nil && (errors.Is(err, context.Canceled) || genCtx.Err() != nil) {
		a.logger.Debug("generation aborted", "session_id", sess.ID)
		return nil
	}
	if err != nil {
		a.logger.Error("generation failed", "session_id", sess.ID, "error", err)
		span.RecordError(err)
		a.failTurn(sess, err, stream)
		return err
	}
	return nil
}

// failTurn converts an error into visible message content. The last model
// message absorbs it; if the turn died before creating one, a new message
// carries it.
func (a *App) failTurn(sess *chat.Session, err error, stream StreamFunc) {
	a.mu.Lock()
	content := fmt.Sprintf("An error occurred: %s", err.Error())
	last := lastModelMessage(sess)
	if last == nil {
		msg := chat.NewModelMessage()
		msg.Content = content
		sess.Messages = append(sess.Messages, msg)
		last = &sess.Messages[len(sess.Messages)-1]
	} else {
		last.Content = content
		last.IsThinking = false
	}
	snapshot := *last
	a.mu.Unlock()

	if stream != nil {
		stream(StreamUpdate{Message: snapshot})
	}
}

// lastModelMessage returns the trailing model message, or nil. Callers must
// hold a.mu (or be the only goroutine touching the session).
func lastModelMessage(sess *chat.Session) *chat.Message {
	if len(sess.Messages) == 0 {
		return nil
	}
	last := &sess.Messages[len(sess.Messages)-1]
	if last.Role != chat.RoleModel {
		return nil
	}
	return last
}

// sendChat is the plain streaming branch with chunk folding.
func (a *App) sendChat(ctx context.Context, g Generator, sess *chat.Session, history []chat.Message, req SendRequest, options gen.Options, stream StreamFunc) error {
	a.mu.Lock()
	msg := chat.NewModelMessage()
	msg.IsThinking = true
	msg.IsParsingReasoning = true
	sess.Messages = append(sess.Messages, msg)
	if err := a.toPhase(PhaseStreaming); err != nil {
		a.mu.Unlock()
		return err
	}
	a.mu.Unlock()

	result, err := g.StreamChat(ctx, gen.ChatRequest{
		History:     history,
		Prompt:      req.Prompt,
		Attachments: req.Attachments,
		Options:     options,
	}, func(ctx context.Context, chunk gen.Chunk) error {
		a.mu.Lock()
		last := lastModelMessage(sess)
		if last == nil {
			a.mu.Unlock()
			return errors.New("model message vanished mid-stream")
		}
		foldChunk(last, chunk)
		snapshot := *last
		a.mu.Unlock()

		if stream != nil {
			stream(StreamUpdate{Message: snapshot})
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	if err := a.toPhase(PhaseFinalizing); err != nil {
		a.mu.Unlock()
		return err
	}
	a.usage.Add(options.Model, result.PromptTokens, result.CandidateTokens, 0, 0)
	a.mu.Unlock()
	return nil
}

// foldChunk merges one validated chunk into the evolving model message.
// Callers must hold a.mu.
func foldChunk(msg *chat.Message, chunk gen.Chunk) {
	hasThoughts := false
	hasContent := false

	for _, frag := range chunk.Fragments {
		switch f := frag.(type) {
		case gen.ThoughtFragment:
			msg.Reasoning += f.Text
			hasThoughts = true
		case gen.TextFragment:
			msg.Content += f.Text
			msg.Parts = appendText(msg.Parts, f.Text)
			hasContent = true
		case gen.FunctionCallFragment:
			if f.Name == gen.CodeExecutionTool {
				if code, ok := f.Args["code"].(string); ok {
					msg.CodeToExecute += code
				}
			}
		case gen.InlineDataFragment:
			if strings.HasPrefix(f.Blob.MIMEType, "image/") {
				name := fmt.Sprintf("edited_image_%d.png", time.Now().UnixMilli())
				msg.Attachments = append(msg.Attachments, chat.AttachmentFromBlob(name, &f.Blob))
			}
		}
	}

	// Thought activity keeps the thinking indicator on; the first visible
	// content turns it off. Either way the reasoning parser phase is over.
	if hasThoughts {
		msg.IsThinking = true
		msg.IsParsingReasoning = false
	} else if hasContent {
		msg.IsThinking = false
		msg.IsParsingReasoning = false
	}

	// Grounding metadata arrives cumulatively: later chunks replace.
	if len(chunk.GroundingChunks) > 0 {
		msg.GroundingChunks = chunk.GroundingChunks
	}
}

// appendText extends the trailing text part instead of growing one part per
// chunk, keeping the replay form compact.
func appendText(parts []chat.Part, text string) []chat.Part {
	if n := len(parts); n > 0 && parts[n-1].InlineData == nil {
		parts[n-1].Text += text
		return parts
	}
	return append(parts, chat.Part{Text: text})
}

// sendCanvas streams a single-file web app into the session's project tree.
func (a *App) sendCanvas(ctx context.Context, g Generator, sess *chat.Session, history []chat.Message, req SendRequest, options gen.Options, stream StreamFunc) error {
	a.mu.Lock()
	if sess.Project == nil {
		sess.Project = chat.NewProject()
	}
	if err := a.toPhase(PhaseStreaming); err != nil {
		a.mu.Unlock()
		return err
	}
	a.mu.Unlock()

	// Canvas turns run without tools or thinking; the instruction demands
	// raw HTML and nothing else.
	canvasOpts := options
	canvasOpts.SystemInstruction = canvasSystemInstruction
	canvasOpts.UseGoogleSearch = false
	canvasOpts.UseCodeExecution = false
	canvasOpts.UseThinking = false
	canvasOpts.UseThinkingBudget = false
	canvasOpts.ResponseSchema = nil

	var code strings.Builder
	result, err := g.StreamChat(ctx, gen.ChatRequest{
		History:     history,
		Prompt:      req.Prompt,
		Attachments: req.Attachments,
		Options:     canvasOpts,
	}, func(ctx context.Context, chunk gen.Chunk) error {
		for _, frag := range chunk.Fragments {
			if f, ok := frag.(gen.TextFragment); ok {
				code.WriteString(f.Text)
			}
		}
		if stream != nil {
			stream(StreamUpdate{CanvasCode: code.String()})
		}
		return nil
	})
	if err != nil {
		return err
	}

	clean := strings.TrimSpace(codeFences.ReplaceAllString(code.String(), ""))

	a.mu.Lock()
	if err := a.toPhase(PhaseFinalizing); err != nil {
		a.mu.Unlock()
		return err
	}

	files, werr := chat.WriteFile(sess.Project.Files, "index.html", clean)
	if werr != nil {
		a.mu.Unlock()
		return fmt.Errorf("updating project files: %w", werr)
	}
	project := *sess.Project
	project.Files = files
	sess.Project = &project

	msg := chat.NewModelMessage()
	msg.Content = canvasDoneContent
	msg.Parts = []chat.Part{{Text: canvasDoneContent}}
	msg.ProjectFilesUpdate = true
	msg.Project = &project
	sess.Messages = append(sess.Messages, msg)
	snapshot := msg

	a.usage.Add(options.Model, result.PromptTokens, result.CandidateTokens, 0, 0)
	a.mu.Unlock()

	if stream != nil {
		stream(StreamUpdate{Message: snapshot})
	}
	return nil
}

// sendImage is the single-shot image tool branch: a placeholder message is
// shown immediately and replaced in place when the images arrive.
func (a *App) sendImage(ctx context.Context, g Generator, sess *chat.Session, req SendRequest, options gen.Options, stream StreamFunc) error {
	a.mu.Lock()
	msg := chat.NewModelMessage()
	msg.Content = imagePlaceholder
	msg.IsThinking = true
	sess.Messages = append(sess.Messages, msg)
	a.mu.Unlock()

	if stream != nil {
		stream(StreamUpdate{Message: msg})
	}

	blobs, err := g.GenerateImages(ctx, gen.ImageRequest{
		Model:            options.Model,
		Prompt:           req.Prompt,
		NumberOfImages:   req.NumberOfImages,
		AspectRatio:      req.AspectRatio,
		NegativePrompt:   req.NegativePrompt,
		PersonGeneration: req.PersonGeneration,
		Seed:             req.Seed,
	})
	if err != nil {
		return err
	}

	attachments := make([]chat.Attachment, 0, len(blobs))
	for _, b := range blobs {
		name := fmt.Sprintf("generated_image_%d.png", time.Now().UnixMilli())
		attachments = append(attachments, chat.AttachmentFromBlob(name, &b))
	}

	a.mu.Lock()
	if err := a.toPhase(PhaseFinalizing); err != nil {
		a.mu.Unlock()
		return err
	}
	last := lastModelMessage(sess)
	last.Content = fmt.Sprintf("Generated %d image(s).", len(attachments))
	last.Attachments = attachments
	last.IsThinking = false
	snapshot := *last
	a.usage.Add(options.Model, 0, 0, len(attachments), 0)
	a.mu.Unlock()

	if stream != nil {
		stream(StreamUpdate{Message: snapshot})
	}
	return nil
}

// sendVideo is the long-running video tool branch. The first image
// attachment, if any, seeds image-to-video generation.
func (a *App) sendVideo(ctx context.Context, g Generator, sess *chat.Session, req SendRequest, options gen.Options, stream StreamFunc) error {
	a.mu.Lock()
	msg := chat.NewModelMessage()
	msg.Content = videoPlaceholder
	msg.IsThinking = true
	sess.Messages = append(sess.Messages, msg)
	a.mu.Unlock()

	if stream != nil {
		stream(StreamUpdate{Message: msg})
	}

	var seed *chat.Blob
	for _, att := range req.Attachments {
		if strings.HasPrefix(att.MIMEType, "image/") {
			data, err := att.Bytes()
			if err != nil {
				return fmt.Errorf("attachment %q: %w", att.Name, err)
			}
			seed = &chat.Blob{MIMEType: att.MIMEType, Data: data}
			break
		}
	}

	blob, err := g.GenerateVideo(ctx, gen.VideoRequest{
		Model:  options.Model,
		Prompt: req.Prompt,
		Image:  seed,
	})
	if err != nil {
		return err
	}

	name := fmt.Sprintf("generated_video_%d.mp4", time.Now().UnixMilli())

	a.mu.Lock()
	if err := a.toPhase(PhaseFinalizing); err != nil {
		a.mu.Unlock()
		return err
	}
	last := lastModelMessage(sess)
	last.Content = videoDoneContent
	last.Attachments = []chat.Attachment{chat.AttachmentFromBlob(name, blob)}
	last.IsThinking = false
	snapshot := *last
	a.usage.Add(options.Model, 0, 0, 0, 1)
	a.mu.Unlock()

	if stream != nil {
		stream(StreamUpdate{Message: snapshot})
	}
	return nil
}
