package gemini

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scanpipe/internal/photostore"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/services/llm"
)

const defaultModel = "gemini-2.0-flash"

// Config selects models and the API key.
type Config struct {
	APIKey          string
	VisionModel     string
	TextModel       string
	Temperature     float32
	MaxOutputTokens int32
}

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client serves both Estimate and Generate.
type Client struct {
	client      *genai.Client
	vision      generator
	text        generator
	photos      photostore.Store
	visionModel string
	textModel   string
}

// New connects to the Gemini API.
func New(ctx context.Context, cfg Config, photos photostore.Store) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "gemini", "init", "api key required", nil)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	visionName := modelName(cfg.VisionModel)
	vision := client.GenerativeModel(visionName)
	vision.SetTemperature(0)
	vision.ResponseMIMEType = "application/json"

	textName := modelName(cfg.TextModel)
	text := client.GenerativeModel(textName)
	text.SetTemperature(cfg.Temperature)
	text.SetTopP(0.9)
	if cfg.MaxOutputTokens > 0 {
		text.SetMaxOutputTokens(cfg.MaxOutputTokens)
	}

	return &Client{
		client:      client,
		vision:      vision,
		text:        text,
		photos:      photos,
		visionModel: visionName,
		textModel:   textName,
	}, nil
}

// modelName ignores OpenRouter-style vendor prefixes.
func modelName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultModel
	}
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Model returns the model used by Generate.
func (c *Client) Model() string {
	return c.textModel
}

type estimatePayload struct {
	BodyFatPercent *float64 `json:"bodyFatPercent"`
	LeanMassKg     *float64 `json:"leanMassKg"`
	WeightKg       *float64 `json:"weightKg"`
	Confidence     *float64 `json:"confidence"`
}

// Estimate sends every angle photo with the estimation prompt.
func (c *Client) Estimate(ctx context.Context, angles map[string]string, prior *scan.BodyEstimate) (*scan.BodyEstimate, error) {
	names := make([]string, 0, len(angles))
	for name := range angles {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []genai.Part{genai.Text(estimatePrompt(names, prior))}
	for _, name := range names {
		data, contentType, err := c.photos.Read(ctx, angles[name])
		if err != nil {
			if errors.Is(err, photostore.ErrObjectNotFound) {
				return nil, services.Wrap(services.ErrInvalidInput, "gemini", "estimate", "photo missing: "+name, err)
			}
			return nil, services.Wrap(services.ErrTransient, "gemini", "estimate", "read photo "+name, err)
		}
		parts = append(parts, genai.Text("Angle: "+name), genai.ImageData(imageFormat(contentType), data))
	}

	raw, err := c.generate(ctx, c.vision, "estimate", parts...)
	if err != nil {
		return nil, err
	}
	var payload estimatePayload
	if err := llm.DecodeJSON(raw, &payload); err != nil {
		return nil, services.Wrap(services.ErrValidation, "gemini", "estimate", "malformed response", err)
	}
	if payload.BodyFatPercent == nil || payload.LeanMassKg == nil || payload.Confidence == nil {
		return nil, services.Wrap(services.ErrValidation, "gemini", "estimate", "response missing required fields", nil)
	}
	est := &scan.BodyEstimate{
		BodyFatPercent: *payload.BodyFatPercent,
		LeanMassKg:     *payload.LeanMassKg,
		Confidence:     *payload.Confidence,
		Model:          c.visionModel,
		UsedPrior:      prior != nil,
	}
	if payload.WeightKg != nil {
		est.WeightKg = *payload.WeightKg
	}
	return est, nil
}

// Generate produces prose for the given prompts.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	raw, err := c.generate(ctx, c.text, "generate", genai.Text(systemPrompt), genai.Text(userPrompt))
	if err != nil {
		return "", err
	}
	return llm.CleanText(raw), nil
}

func (c *Client) generate(ctx context.Context, model generator, op string, parts ...genai.Part) (string, error) {
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classify(ctx, op, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", services.Wrap(services.ErrTransient, "gemini", op, "no content generated", nil)
	}
	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", services.Wrap(services.ErrTransient, "gemini", op, "empty content", nil)
	}
	return out.String(), nil
}

func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "gemini", op, "deadline exceeded", err)
		}
		return services.Wrap(services.ErrCancelled, "gemini", op, "cancelled", err)
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return services.Wrap(services.ErrValidation, "gemini", op, "response blocked", err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyCode(op, apiErr.Code, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.Aborted:
			return services.Wrap(services.ErrTransient, "gemini", op, st.Code().String(), err)
		case codes.DeadlineExceeded:
			return services.Wrap(services.ErrTimeout, "gemini", op, "deadline exceeded", err)
		case codes.Unauthenticated, codes.PermissionDenied:
			return services.Wrap(services.ErrConfiguration, "gemini", op, "request rejected", err)
		case codes.InvalidArgument:
			return services.Wrap(services.ErrInvalidInput, "gemini", op, "request rejected", err)
		}
	}
	return services.Wrap(services.ErrTransient, "gemini", op, "request failed", err)
}

func classifyCode(op string, code int, err error) error {
	switch {
	case code == 408 || code == 429 || code >= 500:
		return services.Wrap(services.ErrTransient, "gemini", op, fmt.Sprintf("http %d", code), err)
	case code == 401 || code == 403:
		return services.Wrap(services.ErrConfiguration, "gemini", op, "request rejected", err)
	default:
		return services.Wrap(services.ErrInvalidInput, "gemini", op, fmt.Sprintf("http %d", code), err)
	}
}

func imageFormat(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "jpeg"
	}
	format := strings.TrimPrefix(mediaType, "image/")
	if format == mediaType || format == "" {
		return "jpeg"
	}
	return format
}
