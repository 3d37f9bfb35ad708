// Package app owns conversation orchestration: the single-flight generation
// state machine, session management and the persistence discipline around
// every generation turn.
//
// An App instance holds one signed-in user's sessions in memory, mirrors
// every mutation to the store, and serializes generation through an explicit
// phase machine (see phase.go). All methods are safe for concurrent use.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rexproai/rexpro/internal/chat"
	"github.com/rexproai/rexpro/internal/gen"
	"github.com/rexproai/rexpro/internal/log"
	"github.com/rexproai/rexpro/internal/store"
	"github.com/rexproai/rexpro/internal/usage"
)

// Generator is the generation surface the app consumes. *gen.Client
// implements it; tests supply scripted fakes.
type Generator interface {
	StreamChat(ctx context.Context, req gen.ChatRequest, fn gen.ChunkFunc) (*gen.ChatResult, error)
	GenerateImages(ctx context.Context, req gen.ImageRequest) ([]chat.Blob, error)
	GenerateVideo(ctx context.Context, req gen.VideoRequest) (*chat.Blob, error)
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Store is the persistence surface the app consumes. Both store.Postgres
// and store.Memory implement it.
type Store interface {
	GetAll(ctx context.Context, userID string) ([]*chat.Session, error)
	Put(ctx context.Context, s *chat.Session) error
	DeleteByID(ctx context.Context, id string) error
	ClearAllForUser(ctx context.Context, userID string) error
	GetSetting(ctx context.Context, userID, key string) (string, error)
	PutSetting(ctx context.Context, userID, key, value string) error
}

// Config holds App construction options.
type Config struct {
	Store     Store
	Generator Generator
	Logger    log.Logger

	// Defaults seeds the generation options before the user changes them.
	Defaults gen.Options

	// NewGenerator, when set, rebuilds the generator after SetAPIKey so the
	// new key takes effect without a restart.
	NewGenerator func(ctx context.Context, apiKey string) (Generator, error)
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return nil
}

// App is the conversation orchestrator for one user.
type App struct {
	store        Store
	logger       log.Logger
	newGenerator func(ctx context.Context, apiKey string) (Generator, error)

	mu       sync.Mutex
	gen      Generator
	usage    *usage.Accumulator
	phase    Phase
	cancel   context.CancelFunc
	userID   string
	sessions []*chat.Session // newest first
	activeID string
	options  gen.Options
	theme    string
}

// New creates an App. Call Init before anything else.
func New(cfg Config) (*App, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %w", err)
	}
	return &App{
		store:        cfg.Store,
		gen:          cfg.Generator,
		logger:       cfg.Logger.With("component", "app"),
		newGenerator: cfg.NewGenerator,
		usage:        usage.New(),
		options:      cfg.Defaults,
		theme:        "system",
	}, nil
}

// Init signs a user in: loads their sessions and settings, restores usage
// stats, and guarantees at least one session exists.
func (a *App) Init(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrAuthRequired
	}

	sessions, err := a.store.GetAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}
	chat.SortSessions(sessions)

	a.mu.Lock()
	a.userID = userID
	a.sessions = sessions
	if len(sessions) > 0 {
		a.activeID = sessions[0].ID
	}
	a.phase = PhaseIdle
	a.mu.Unlock()

	if theme, err := a.store.GetSetting(ctx, userID, store.SettingTheme); err == nil {
		a.mu.Lock()
		a.theme = theme
		a.mu.Unlock()
	}

	if raw, err := a.store.GetSetting(ctx, userID, store.SettingUsage); err == nil {
		var stats usage.Stats
		if jsonErr := json.Unmarshal([]byte(raw), &stats); jsonErr != nil {
			a.logger.Warn("discarding unreadable usage stats", "error", jsonErr)
		} else {
			a.mu.Lock()
			a.usage.Restore(stats)
			a.mu.Unlock()
		}
	}

	if len(sessions) == 0 {
		if _, err := a.NewChat(ctx); err != nil {
			return fmt.Errorf("creating initial session: %w", err)
		}
	}

	a.logger.Info("app initialized", "user_id", userID, "sessions", len(sessions))
	return nil
}

// Teardown cancels any in-flight generation and forgets the signed-in user.
// In-memory state is dropped; the store keeps everything.
func (a *App) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.userID = ""
	a.sessions = nil
	a.activeID = ""
	a.phase = PhaseIdle
	a.usage = usage.New()
}

// Phase reports the current generation phase.
func (a *App) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Options returns the current generation options.
func (a *App) Options() gen.Options {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.options
}

// SetOptions replaces the generation options for subsequent turns.
func (a *App) SetOptions(opts gen.Options) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.options = opts
}

// requireUser returns the signed-in user id or ErrAuthRequired.
// Callers must hold a.mu.
func (a *App) requireUser() (string, error) {
	if a.userID == "" {
		return "", ErrAuthRequired
	}
	return a.userID, nil
}

// active returns the active session, or nil. Callers must hold a.mu.
func (a *App) active() *chat.Session {
	for _, s := range a.sessions {
		if s.ID == a.activeID {
			return s
		}
	}
	return nil
}

// persist writes one session to the store. Persistence failures are logged
// and surfaced but never corrupt in-memory state.
func (a *App) persist(ctx context.Context, s *chat.Session) error {
	if err := a.store.Put(ctx, s); err != nil {
		a.logger.Error("failed to persist session", "session_id", s.ID, "error", err)
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}

// persistUsage stores the usage snapshot as a settings entry.
func (a *App) persistUsage(ctx context.Context) {
	a.mu.Lock()
	userID := a.userID
	snap := a.usage.Snapshot()
	a.mu.Unlock()

	if userID == "" {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		a.logger.Error("failed to encode usage stats", "error", err)
		return
	}
	if err := a.store.PutSetting(ctx, userID, store.SettingUsage, string(raw)); err != nil {
		a.logger.Error("failed to persist usage stats", "error", err)
	}
}

// UsageStats returns a snapshot of accumulated usage.
func (a *App) UsageStats() usage.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage.Snapshot()
}

// ResetUsage zeroes usage stats and persists the empty snapshot.
func (a *App) ResetUsage(ctx context.Context) {
	a.mu.Lock()
	a.usage.Reset()
	a.mu.Unlock()
	a.persistUsage(ctx)
}

// Theme returns the current UI theme preference.
func (a *App) Theme() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.theme
}

// SetTheme stores the UI theme preference.
func (a *App) SetTheme(ctx context.Context, theme string) error {
	a.mu.Lock()
	userID, err := a.requireUser()
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.theme = theme
	a.mu.Unlock()

	return a.store.PutSetting(ctx, userID, store.SettingTheme, theme)
}

// Transcribe converts recorded audio into text for the prompt box.
func (a *App) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	a.mu.Lock()
	g := a.gen
	a.mu.Unlock()

	if g == nil {
		return "", ErrNotInitialized
	}
	return g.Transcribe(ctx, data, mimeType)
}

// ExtractText pulls the text content out of an uploaded file so it can seed
// the prompt box.
func (a *App) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	a.mu.Lock()
	g := a.gen
	a.mu.Unlock()

	if g == nil {
		return "", ErrNotInitialized
	}
	return g.ExtractText(ctx, data, mimeType)
}

// SetAPIKey stores the user-supplied API key and, when a generator factory
// is configured, swaps in a client using it.
func (a *App) SetAPIKey(ctx context.Context, key string) error {
	a.mu.Lock()
	userID, err := a.requireUser()
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.mu.Unlock()

	if err := a.store.PutSetting(ctx, userID, store.SettingAPIKey, key); err != nil {
		return err
	}

	if a.newGenerator != nil && key != "" {
		g, err := a.newGenerator(ctx, key)
		if err != nil {
			return fmt.Errorf("rebuilding generator: %w", err)
		}
		a.mu.Lock()
		a.gen = g
		a.mu.Unlock()
	}
	return nil
}
