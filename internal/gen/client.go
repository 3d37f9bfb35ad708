// Package gen wraps the Gemini API behind typed requests and a closed set
// of streamed fragment variants. It owns everything that touches the wire:
// request shaping, chunk validation, long-running video operations and
// outbound rate limiting.
package gen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/rexproai/rexpro/internal/chat"
	"github.com/rexproai/rexpro/internal/log"
)

var (
	// ErrMissingAPIKey indicates the client was built without an API key.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrNoResult indicates generation finished without producing output.
	ErrNoResult = errors.New("generation returned no result")
)

// transcribePrompt is the fixed instruction used for audio transcription.
const transcribePrompt = "Transcribe this audio. If there is no speech, return an empty string."

// extractPrompt is the fixed instruction used for file text extraction.
const extractPrompt = "Extract the text content from this file. For audio, transcribe it, otherwise just extract all text. If it is an image, describe it."

// transcribeModel handles transcription and extraction regardless of the
// session's chat model.
const transcribeModel = "gemini-2.5-flash"

// Config holds Gemini client construction options.
type Config struct {
	APIKey string

	// RequestsPerMinute caps outbound API calls. Default: 30.
	RequestsPerMinute int

	// PollInterval is the wait between video operation polls. Default: 5s.
	PollInterval time.Duration

	// HTTPClient downloads generated video bytes. Default: http.DefaultClient.
	HTTPClient *http.Client

	Logger log.Logger
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 30
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return nil
}

// Client talks to the Gemini API. All methods respect context cancellation
// and wait on a shared rate limiter before going to the wire.
type Client struct {
	api          *genai.Client
	apiKey       string
	limiter      *rate.Limiter
	pollInterval time.Duration
	httpClient   *http.Client
	logger       log.Logger
}

// NewClient creates a Gemini-backed client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &Client{
		api:          api,
		apiKey:       cfg.APIKey,
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute),
		pollInterval: cfg.PollInterval,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger.With("component", "gen"),
	}, nil
}

// StreamChat runs one streaming generation turn. fn is invoked once per
// validated chunk in arrival order; its error aborts the stream. The
// returned result carries the final token counts reported by the API.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, fn ChunkFunc) (*ChatResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	contents, err := buildContents(req)
	if err != nil {
		return nil, err
	}
	cfg, err := buildConfig(req.Options)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("starting chat stream",
		"model", req.Options.Model,
		"history_turns", len(req.History),
		"attachments", len(req.Attachments))

	result := &ChatResult{}
	for resp, err := range c.api.Models.GenerateContentStream(ctx, req.Options.Model, contents, cfg) {
		if err != nil {
			return nil, fmt.Errorf("generation stream: %w", err)
		}

		chunk, err := chunkFromResponse(resp)
		if err != nil {
			return nil, err
		}
		if err := fn(ctx, chunk); err != nil {
			return nil, err
		}

		if resp.UsageMetadata != nil {
			result.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
			result.CandidateTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		}
	}

	return result, nil
}

// ImageRequest configures single-shot image generation.
type ImageRequest struct {
	Model          string
	Prompt         string
	NumberOfImages int32
	AspectRatio    string
	NegativePrompt string
	Seed           *int32

	// PersonGeneration controls whether people may appear in generated
	// images ("dont_allow", "allow_adult", "allow_all"). Empty leaves the
	// model default in place.
	PersonGeneration string
}

// GenerateImages produces images in one call, no streaming involved.
func (c *Client) GenerateImages(ctx context.Context, req ImageRequest) ([]chat.Blob, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	n := req.NumberOfImages
	if n <= 0 {
		n = 1
	}

	resp, err := c.api.Models.GenerateImages(ctx, req.Model, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages:   n,
		AspectRatio:      req.AspectRatio,
		NegativePrompt:   req.NegativePrompt,
		Seed:             req.Seed,
		PersonGeneration: genai.PersonGeneration(req.PersonGeneration),
		OutputMIMEType:   "image/png",
	})
	if err != nil {
		return nil, fmt.Errorf("generating images: %w", err)
	}
	if len(resp.GeneratedImages) == 0 {
		return nil, fmt.Errorf("%w: no images returned", ErrNoResult)
	}

	blobs := make([]chat.Blob, 0, len(resp.GeneratedImages))
	for _, img := range resp.GeneratedImages {
		if img.Image == nil {
			continue
		}
		mime := img.Image.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		blobs = append(blobs, chat.Blob{MIMEType: mime, Data: img.Image.ImageBytes})
	}
	if len(blobs) == 0 {
		return nil, fmt.Errorf("%w: all returned images were empty", ErrNoResult)
	}
	return blobs, nil
}

// VideoRequest configures long-running video generation. Image, when set,
// seeds image-to-video generation.
type VideoRequest struct {
	Model  string
	Prompt string
	Image  *chat.Blob
}

// GenerateVideo starts a video operation and polls until it completes,
// then downloads the result. Cancellation is honored between polls.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (*chat.Blob, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var image *genai.Image
	if req.Image != nil {
		image = &genai.Image{ImageBytes: req.Image.Data, MIMEType: req.Image.MIMEType}
	}

	op, err := c.api.Models.GenerateVideos(ctx, req.Model, req.Prompt, image, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     "720p",
		AspectRatio:    "16:9",
	})
	if err != nil {
		return nil, fmt.Errorf("starting video generation: %w", err)
	}

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		op, err = c.api.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, fmt.Errorf("polling video operation: %w", err)
		}
		c.logger.Debug("video operation polled", "done", op.Done)
	}

	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 ||
		op.Response.GeneratedVideos[0].Video == nil ||
		op.Response.GeneratedVideos[0].Video.URI == "" {
		return nil, fmt.Errorf("%w: video operation completed without a download URI", ErrNoResult)
	}

	data, err := c.downloadVideo(ctx, op.Response.GeneratedVideos[0].Video.URI)
	if err != nil {
		return nil, err
	}
	return &chat.Blob{MIMEType: "video/mp4", Data: data}, nil
}

// downloadVideo fetches generated video bytes. The API key travels as a
// query parameter because the download host does not accept header auth.
func (c *Client) downloadVideo(ctx context.Context, uri string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, uri+"&key="+c.apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("building video download request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("downloading video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading video: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading video body: %w", err)
	}
	return data, nil
}

// Transcribe converts recorded audio to text using a fixed prompt.
func (c *Client) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	return c.inlinePrompt(ctx, data, mimeType, transcribePrompt)
}

// ExtractText pulls readable text out of an arbitrary attachment.
func (c *Client) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	return c.inlinePrompt(ctx, data, mimeType, extractPrompt)
}

func (c *Client) inlinePrompt(ctx context.Context, data []byte, mimeType, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}},
			{Text: prompt},
		},
	}}

	resp, err := c.api.Models.GenerateContent(ctx, transcribeModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	return resp.Text(), nil
}
