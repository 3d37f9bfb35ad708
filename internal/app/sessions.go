package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rexproai/rexpro/internal/chat"
)

// Sessions returns detached copies of all sessions, newest first.
func (a *App) Sessions() []*chat.Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*chat.Session, len(a.sessions))
	for i, s := range a.sessions {
		out[i] = copySession(s)
	}
	return out
}

// ActiveSession returns a detached copy of the active session, or nil when
// no user is signed in.
func (a *App) ActiveSession() *chat.Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.active()
	if s == nil {
		return nil
	}
	return copySession(s)
}

// NewChat creates and activates a fresh session. When the active session is
// already empty it is reused instead, so repeated calls cannot pile up blank
// sessions. Returns the active session id.
func (a *App) NewChat(ctx context.Context) (string, error) {
	a.mu.Lock()
	userID, err := a.requireUser()
	if err != nil {
		a.mu.Unlock()
		return "", err
	}

	if active := a.active(); active != nil && active.IsEmpty() {
		id := active.ID
		a.mu.Unlock()
		return id, nil
	}

	s := chat.NewSession(userID)
	s.Project = chat.NewProject()
	a.sessions = append([]*chat.Session{s}, a.sessions...)
	a.activeID = s.ID
	a.mu.Unlock()

	if err := a.persist(ctx, s); err != nil {
		return "", err
	}
	a.logger.Debug("created session", "session_id", s.ID)
	return s.ID, nil
}

// SelectChat makes the given session active.
func (a *App) SelectChat(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.sessions {
		if s.ID == id {
			a.activeID = id
			return nil
		}
	}
	return fmt.Errorf("%w: %s", chat.ErrSessionNotFound, id)
}

// DeleteChat removes a session. The session list never goes empty: deleting
// the last one immediately creates a fresh session. When the active session
// is deleted, the newest remaining one becomes active.
func (a *App) DeleteChat(ctx context.Context, id string) error {
	a.mu.Lock()
	if _, err := a.requireUser(); err != nil {
		a.mu.Unlock()
		return err
	}

	idx := -1
	for i, s := range a.sessions {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", chat.ErrSessionNotFound, id)
	}

	a.sessions = append(a.sessions[:idx], a.sessions[idx+1:]...)
	if a.activeID == id && len(a.sessions) > 0 {
		a.activeID = a.sessions[0].ID
	}
	needsNew := len(a.sessions) == 0
	a.mu.Unlock()

	if err := a.store.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	if needsNew {
		if _, err := a.NewChat(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RenameChat sets a session's title and bumps its recency.
func (a *App) RenameChat(ctx context.Context, id, title string) error {
	a.mu.Lock()
	if _, err := a.requireUser(); err != nil {
		a.mu.Unlock()
		return err
	}

	var target *chat.Session
	for _, s := range a.sessions {
		if s.ID == id {
			target = s
			break
		}
	}
	if target == nil {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", chat.ErrSessionNotFound, id)
	}

	target.Title = title
	target.LastModified = time.Now()
	chat.SortSessions(a.sessions)
	snapshot := copySession(target)
	a.mu.Unlock()

	return a.persist(ctx, snapshot)
}

// ClearHistory deletes every session for the signed-in user, then creates a
// fresh one so the list is never empty.
func (a *App) ClearHistory(ctx context.Context) error {
	a.mu.Lock()
	userID, err := a.requireUser()
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.sessions = nil
	a.activeID = ""
	a.mu.Unlock()

	if err := a.store.ClearAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}

	_, err = a.NewChat(ctx)
	return err
}

// ExportHistory serializes all sessions to indented JSON.
func (a *App) ExportHistory() ([]byte, error) {
	return chat.Export(a.Sessions())
}

// DeleteAttachment removes one attachment from a message in the active
// session and persists the change.
func (a *App) DeleteAttachment(ctx context.Context, msgIndex, attIndex int) error {
	a.mu.Lock()
	if _, err := a.requireUser(); err != nil {
		a.mu.Unlock()
		return err
	}

	s := a.active()
	if s == nil {
		a.mu.Unlock()
		return chat.ErrSessionNotFound
	}
	if err := s.DeleteAttachment(msgIndex, attIndex); err != nil {
		a.mu.Unlock()
		return err
	}
	s.Touch()
	snapshot := copySession(s)
	a.mu.Unlock()

	return a.persist(ctx, snapshot)
}

// StopGeneration cancels the in-flight turn, if any. The partial response
// stays in the session; the send path persists it on the way out.
func (a *App) StopGeneration() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.logger.Debug("stopping generation")
		a.cancel()
	}
}

// copySession clones a session deeply enough that callers can mutate the
// copy without touching app state. Project trees are immutable by
// construction, so sharing them is safe.
func copySession(s *chat.Session) *chat.Session {
	out := *s
	out.Messages = make([]chat.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	for i := range out.Messages {
		m := &out.Messages[i]
		m.Parts = append([]chat.Part(nil), m.Parts...)
		m.Attachments = append([]chat.Attachment(nil), m.Attachments...)
		m.GroundingChunks = append([]chat.GroundingChunk(nil), m.GroundingChunks...)
		m.Citations = append([]chat.Citation(nil), m.Citations...)
	}
	return &out
}
