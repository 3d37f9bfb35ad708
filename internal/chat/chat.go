// Package chat defines the conversation data model: sessions, messages,
// attachments and the project file tree used by canvas and code modes.
//
// The types here are pure data. They carry no behavior beyond construction
// helpers and the copy-on-write project tree operations; orchestration lives
// in internal/app and persistence in internal/store.
package chat

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound indicates the requested session id does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound indicates a message index is out of range.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAttachmentNotFound indicates an attachment index is out of range.
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// DefaultTitle is the title of a freshly created session before the first
// user prompt names it.
const DefaultTitle = "New Chat"

// titleMaxLen bounds titles derived from the first prompt.
const titleMaxLen = 50

// Part is one unit of message content in its replay form: either text or
// inline binary data, never both. Parts are what gets sent back to the model
// as history; Content on Message is only the derived display text.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob is inline binary content with its MIME type. Data marshals as base64.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// GroundingChunk is one web source the model grounded a response on.
type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

// WebSource identifies a grounding source page.
type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Citation links a snippet of retrieved context to its source document.
type Citation struct {
	SourceName string `json:"sourceName"`
	Content    string `json:"content"`
}

// Message is a single conversation turn.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Parts is the authoritative content for model calls. Content above is
	// display text derived from the text parts.
	Parts       []Part       `json:"parts,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Reasoning          string `json:"reasoning,omitempty"`
	IsThinking         bool   `json:"isThinking,omitempty"`
	IsParsingReasoning bool   `json:"isParsingReasoning,omitempty"`

	ProjectFilesUpdate bool     `json:"projectFilesUpdate,omitempty"`
	Project            *Project `json:"project,omitempty"`

	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
	Citations       []Citation       `json:"citations,omitempty"`

	CodeToExecute string `json:"codeToExecute,omitempty"`
	ToolOutput    string `json:"toolOutput,omitempty"`
}

// Session is a complete conversation with its metadata.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	Project      *Project  `json:"project,omitempty"`
	LastModified time.Time `json:"lastModified"`
	UserID       string    `json:"userId,omitempty"`
}

// NewSession creates an empty session for the given user.
func NewSession(userID string) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Title:        DefaultTitle,
		Messages:     []Message{},
		LastModified: time.Now(),
		UserID:       userID,
	}
}

// NewUserMessage builds a user turn from a prompt and optional attachments.
// The prompt and each attachment become parts in order: text first, then
// inline data.
func NewUserMessage(prompt string, attachments []Attachment) (Message, error) {
	parts := []Part{{Text: prompt}}
	for _, att := range attachments {
		p, err := att.ToPart()
		if err != nil {
			return Message{}, fmt.Errorf("attachment %q: %w", att.Name, err)
		}
		parts = append(parts, p)
	}
	return Message{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Content:     prompt,
		Parts:       parts,
		Attachments: attachments,
	}, nil
}

// NewModelMessage builds an empty model turn ready to receive streamed
// content.
func NewModelMessage() Message {
	return Message{
		ID:    uuid.NewString(),
		Role:  RoleModel,
		Parts: []Part{},
	}
}

// DeriveTitle produces a session title from the first user prompt,
// truncated to a display-friendly length.
func DeriveTitle(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= titleMaxLen {
		return prompt
	}
	return string(runes[:titleMaxLen])
}

// IsEmpty reports whether the session has no messages yet.
func (s *Session) IsEmpty() bool {
	return len(s.Messages) == 0
}

// Touch updates the last-modified timestamp.
func (s *Session) Touch() {
	s.LastModified = time.Now()
}

// DeleteAttachment removes one attachment from the message at msgIndex.
// The corresponding inline-data part is removed as well so replayed history
// stays consistent with what the user sees.
func (s *Session) DeleteAttachment(msgIndex, attIndex int) error {
	if msgIndex < 0 || msgIndex >= len(s.Messages) {
		return fmt.Errorf("%w: index %d", ErrMessageNotFound, msgIndex)
	}
	msg := &s.Messages[msgIndex]
	if attIndex < 0 || attIndex >= len(msg.Attachments) {
		return fmt.Errorf("%w: index %d", ErrAttachmentNotFound, attIndex)
	}

	msg.Attachments = append(msg.Attachments[:attIndex], msg.Attachments[attIndex+1:]...)

	// Inline-data parts follow the single text part in attachment order.
	seen := -1
	for i, p := range msg.Parts {
		if p.InlineData == nil {
			continue
		}
		seen++
		if seen == attIndex {
			msg.Parts = append(msg.Parts[:i], msg.Parts[i+1:]...)
			break
		}
	}
	return nil
}

// SortSessions orders sessions newest-first by last-modified time, in place.
func SortSessions(sessions []*Session) {
	slices.SortStableFunc(sessions, func(a, b *Session) int {
		return b.LastModified.Compare(a.LastModified)
	})
}
