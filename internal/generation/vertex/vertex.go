// Package vertex generates through Gemini on Vertex AI using gollem. The
// session credential is the Google Cloud project ID; the process's application
// default credentials authenticate the calls.
package vertex

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/generation"
)

const backendName = "vertex"

// contentGenerator is the subset of gollem.Session the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error)
}

type sessionFunc func(ctx context.Context) (contentGenerator, error)

type Connector struct {
	location string
}

func NewConnector(location string) *Connector {
	return &Connector{location: location}
}

func (c *Connector) Name() string { return backendName }

func (c *Connector) Connect(ctx context.Context, credential string) (generation.Client, error) {
	projectID, err := generation.RequireCredential(backendName, credential)
	if err != nil {
		return nil, err
	}

	llm, err := gemini.New(ctx, projectID, c.location)
	if err != nil {
		return nil, goerr.Wrap(domain.Auth(err), "failed to create Gemini client",
			goerr.V("project_id", projectID), goerr.V("location", c.location))
	}

	return &Client{newSession: func(ctx context.Context) (contentGenerator, error) {
		return llm.NewSession(ctx)
	}}, nil
}

type Client struct {
	newSession sessionFunc
}

// Generate opens a fresh session per call so no history leaks between requests.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	inputs := []gollem.Input{gollem.Text(req.Instruction)}
	for _, img := range req.Images {
		// The declared type wins over gollem's sniffing; a rejection here is
		// local, so nothing was sent.
		image, err := gollem.NewImage(img.Data(), gollem.WithMimeType(gollem.ImageMimeType(img.MIMEType())))
		if err != nil {
			return "", goerr.Wrap(domain.ErrInput, "image not accepted by gollem",
				goerr.V("mime_type", img.MIMEType()), goerr.V("cause", err.Error()))
		}
		inputs = append(inputs, image)
	}

	session, err := c.newSession(ctx)
	if err != nil {
		return "", goerr.Wrap(domain.Upstream(err), "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, inputs...)
	if err != nil {
		return "", goerr.Wrap(domain.Upstream(err), "failed to generate content from LLM")
	}

	text := strings.Join(resp.Texts, "")
	if strings.TrimSpace(text) == "" {
		return "", goerr.Wrap(domain.ErrUpstream, "LLM returned no text")
	}
	return text, nil
}
