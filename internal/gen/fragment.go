package gen

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/rexproai/rexpro/internal/chat"
)

// ErrMalformedChunk indicates a streamed response part carried a payload
// outside the recognized set.
var ErrMalformedChunk = errors.New("malformed response chunk")

// Fragment is one typed unit of streamed model output. The set of variants
// is closed: anything the wire delivers outside these four shapes is
// rejected at conversion time instead of leaking into the fold.
type Fragment interface {
	isFragment()
}

// TextFragment is visible answer text.
type TextFragment struct {
	Text string
}

// ThoughtFragment is reasoning text emitted when thinking is enabled.
type ThoughtFragment struct {
	Text string
}

// FunctionCallFragment is a tool invocation requested by the model.
type FunctionCallFragment struct {
	Name string
	Args map[string]any
}

// InlineDataFragment is binary content, typically an image, produced
// mid-stream.
type InlineDataFragment struct {
	Blob chat.Blob
}

func (TextFragment) isFragment()         {}
func (ThoughtFragment) isFragment()      {}
func (FunctionCallFragment) isFragment() {}
func (InlineDataFragment) isFragment()   {}

// Chunk is one streamed response increment: its fragments in arrival order
// plus any grounding sources attached to this increment.
type Chunk struct {
	Fragments       []Fragment
	GroundingChunks []chat.GroundingChunk
}

// ChunkFunc receives each chunk as it arrives. Returning an error stops the
// stream and propagates out of StreamChat.
type ChunkFunc func(ctx context.Context, chunk Chunk) error

// chunkFromResponse validates and converts one wire response. This is the
// only place raw SDK parts are interpreted.
func chunkFromResponse(resp *genai.GenerateContentResponse) (Chunk, error) {
	var chunk Chunk
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return chunk, nil
	}

	cand := resp.Candidates[0]
	for i, part := range cand.Content.Parts {
		switch {
		case part.Thought && part.Text != "":
			chunk.Fragments = append(chunk.Fragments, ThoughtFragment{Text: part.Text})
		case part.Text != "":
			chunk.Fragments = append(chunk.Fragments, TextFragment{Text: part.Text})
		case part.FunctionCall != nil:
			chunk.Fragments = append(chunk.Fragments, FunctionCallFragment{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		case part.InlineData != nil:
			chunk.Fragments = append(chunk.Fragments, InlineDataFragment{
				Blob: chat.Blob{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data},
			})
		case part.FunctionResponse == nil && part.FileData == nil &&
			part.ExecutableCode == nil && part.CodeExecutionResult == nil:
			// Payload-free filler part; some streams emit these between
			// real increments. Skip it.
		default:
			return Chunk{}, fmt.Errorf("%w: part %d carries an unsupported payload", ErrMalformedChunk, i)
		}
	}

	if cand.GroundingMetadata != nil {
		for _, gc := range cand.GroundingMetadata.GroundingChunks {
			if gc.Web == nil {
				continue
			}
			chunk.GroundingChunks = append(chunk.GroundingChunks, chat.GroundingChunk{
				Web: &chat.WebSource{URI: gc.Web.URI, Title: gc.Web.Title},
			})
		}
	}

	return chunk, nil
}
