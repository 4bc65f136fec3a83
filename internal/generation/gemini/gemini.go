package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/generation"
	"google.golang.org/genai"
)

const backendName = "gemini"

// Connector creates Gemini API clients keyed by a user-supplied API key.
type Connector struct {
	model   string
	baseURL string
}

func NewConnector(model string) *Connector {
	return &Connector{model: model}
}

func (c *Connector) Name() string { return backendName }

func (c *Connector) Connect(ctx context.Context, credential string) (generation.Client, error) {
	apiKey, err := generation.RequireCredential(backendName, credential)
	if err != nil {
		return nil, err
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(domain.Auth(err), "failed to create gemini client")
	}
	return &Client{client: client, model: c.model}, nil
}

type Client struct {
	client *genai.Client
	model  string
}

func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	parts = append(parts, genai.NewPartFromText(req.Instruction))
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data(), img.MIMEType()))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", classify(err, c.model)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", goerr.Wrap(domain.ErrUpstream, "gemini returned no text", goerr.V("model", c.model))
	}
	return text, nil
}

// classify maps Gemini API failures onto the error taxonomy. An invalid key is
// reported by the API as 400 INVALID_ARGUMENT with an API_KEY_INVALID reason.
func classify(err error, model string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden ||
			strings.Contains(apiErr.Message, "API key not valid") {
			return goerr.Wrap(domain.Auth(err), "gemini rejected the credential",
				goerr.V("model", model), goerr.V("status", apiErr.Code))
		}
		return goerr.Wrap(domain.Upstream(err), "gemini generate content failed",
			goerr.V("model", model), goerr.V("status", apiErr.Code))
	}
	return goerr.Wrap(domain.Upstream(err), "gemini generate content failed", goerr.V("model", model))
}
