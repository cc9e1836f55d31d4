package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/fusion"
)

const (
	DefaultModel   = "gemini-1.5-flash"
	DefaultTimeout = 60 * time.Second
)

// Request is one image to analyze.
type Request struct {
	Image     []byte
	MIMEType  string
	Condition fusion.Result
}

// Analyzer produces a free text reading of a chest X-ray.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
	Model() string
}

// GeminiAnalyzer calls the Gemini vision API.
type GeminiAnalyzer struct {
	apiKey  string
	model   string
	timeout time.Duration
}

// NewGeminiAnalyzer returns an analyzer for settings. It fails when no API
// key is configured.
func NewGeminiAnalyzer(settings *conf.EnrichmentSettings) (*GeminiAnalyzer, error) {
	if settings.APIKey == "" {
		return nil, errors.Newf("enrichment API key is not configured").
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Build()
	}
	g := &GeminiAnalyzer{
		apiKey:  settings.APIKey,
		model:   settings.Model,
		timeout: settings.Timeout,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	return g, nil
}

// Model returns the Gemini model name.
func (g *GeminiAnalyzer) Model() string { return g.model }

// Analyze sends the condition prompt and the image with temperature 0.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cl, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", fmt.Errorf("gemini: new client: %w", err)
	}
	defer func() { _ = cl.Close() }()

	m := cl.GenerativeModel(g.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}

	mime := req.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	resp, err := m.GenerateContent(ctx,
		genai.Text(Prompt(req.Condition)),
		&genai.Blob{MIMEType: mime, Data: req.Image},
	)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return firstText(resp), nil
}

// IsRateLimited reports whether err is a quota rejection from the API.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	return status.Code(err) == codes.ResourceExhausted
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
