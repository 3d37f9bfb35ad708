package testutil

import (
	"context"
	"sync/atomic"

	"github.com/rexproai/rexpro/internal/chat"
	"github.com/rexproai/rexpro/internal/gen"
)

// Generator is a scriptable generation client for tests. Each method uses
// its Fn override when set and falls back to a benign default otherwise.
type Generator struct {
	StreamChatFn     func(ctx context.Context, req gen.ChatRequest, fn gen.ChunkFunc) (*gen.ChatResult, error)
	GenerateImagesFn func(ctx context.Context, req gen.ImageRequest) ([]chat.Blob, error)
	GenerateVideoFn  func(ctx context.Context, req gen.VideoRequest) (*chat.Blob, error)
	TranscribeFn     func(ctx context.Context, data []byte, mimeType string) (string, error)
	ExtractTextFn    func(ctx context.Context, data []byte, mimeType string) (string, error)

	StreamCalls atomic.Int64
}

// NewScriptedGenerator returns a Generator whose StreamChat feeds the given
// chunks in order, honoring context cancellation between chunks, and then
// reports the given result.
func NewScriptedGenerator(chunks []gen.Chunk, result gen.ChatResult) *Generator {
	g := &Generator{}
	g.StreamChatFn = func(ctx context.Context, req gen.ChatRequest, fn gen.ChunkFunc) (*gen.ChatResult, error) {
		for _, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := fn(ctx, chunk); err != nil {
				return nil, err
			}
		}
		r := result
		return &r, nil
	}
	return g
}

func (g *Generator) StreamChat(ctx context.Context, req gen.ChatRequest, fn gen.ChunkFunc) (*gen.ChatResult, error) {
	g.StreamCalls.Add(1)
	if g.StreamChatFn != nil {
		return g.StreamChatFn(ctx, req, fn)
	}
	return &gen.ChatResult{}, nil
}

func (g *Generator) GenerateImages(ctx context.Context, req gen.ImageRequest) ([]chat.Blob, error) {
	if g.GenerateImagesFn != nil {
		return g.GenerateImagesFn(ctx, req)
	}
	return []chat.Blob{{MIMEType: "image/png", Data: []byte{0x89}}}, nil
}

func (g *Generator) GenerateVideo(ctx context.Context, req gen.VideoRequest) (*chat.Blob, error) {
	if g.GenerateVideoFn != nil {
		return g.GenerateVideoFn(ctx, req)
	}
	return &chat.Blob{MIMEType: "video/mp4", Data: []byte{0x00}}, nil
}

func (g *Generator) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if g.TranscribeFn != nil {
		return g.TranscribeFn(ctx, data, mimeType)
	}
	return "", nil
}

func (g *Generator) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	if g.ExtractTextFn != nil {
		return g.ExtractTextFn(ctx, data, mimeType)
	}
	return "", nil
}
